// Package action tracks long running device commands: one initiating request,
// then progress pushes keyed by action id until a terminal state.
package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/protocol"
)

type State int32

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Rejected
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Rejected:
		return "rejected"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) Terminal() bool { return s >= Succeeded }

// Wire values of push action state.
const (
	PushRunning   = 0
	PushSucceeded = 1
	PushFailed    = 2
	PushStarted   = 3
)

var (
	ErrFailed   = errors.New("action failed")
	ErrRejected = errors.New("action rejected")
	ErrAborted  = errors.New("action aborted")
)

// Push is progress report decoded from device.
type Push interface {
	protocol.Proto
	ActionID() byte
	Percent() uint8
	ActionState() byte
}

// Command describes one kind of action.
type Command interface {
	Target() protocol.Addr
	// Request builds initiating request carrying id.
	Request(id byte) protocol.Proto
	PushKey() protocol.Key
}

// Accepter is optional, inspects initiating response.
type Accepter interface {
	Accept(resp protocol.Proto) error
}

// Updater is optional, sees every push for its action.
type Updater interface {
	Update(p Push)
}

type Action struct {
	id     byte
	cmd    Command
	mu     sync.Mutex
	state  State
	pct    uint8
	err    error
	future *helpers.Future
}

func newAction(id byte, cmd Command) *Action {
	return &Action{id: id, cmd: cmd, future: helpers.NewFuture()}
}

func (a *Action) ID() byte              { return a.id }
func (a *Action) Command() Command      { return a.cmd }
func (a *Action) Done() <-chan struct{} { return a.future.Done() }
func (a *Action) Finished() bool        { return a.future.Finished() }

func (a *Action) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Action) Percent() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pct
}

func (a *Action) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Action) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("action id=%d state=%s percent=%d", a.id, a.state, a.pct)
}

// Wait blocks until terminal state. Nil means Succeeded.
func (a *Action) Wait(ctx context.Context) error {
	if _, err := a.future.Wait(ctx); err != nil {
		return err
	}
	return a.Err()
}

func (a *Action) running() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Pending {
		a.state = Running
	}
}

// update applies push, returns true when action reached terminal state.
func (a *Action) update(p Push) bool {
	if u, ok := a.cmd.(Updater); ok {
		u.Update(p)
	}
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return true
	}
	a.pct = p.Percent()
	switch p.ActionState() {
	case PushRunning, PushStarted:
		a.state = Running
		a.mu.Unlock()
		return false
	case PushSucceeded:
		a.mu.Unlock()
		a.finish(Succeeded, nil)
	default:
		a.mu.Unlock()
		a.finish(Failed, errors.Annotatef(ErrFailed, "action id=%d push state=%d", a.id, p.ActionState()))
	}
	return true
}

func (a *Action) finish(s State, err error) {
	a.mu.Lock()
	if a.state.Terminal() {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.err = err
	if s == Succeeded {
		a.pct = 100
	}
	a.mu.Unlock()
	if s == Aborted {
		a.future.Cancel(s)
		return
	}
	a.future.Complete(s)
}
