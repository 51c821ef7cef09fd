package action

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
)

const (
	handlerName = "action"
	idFirst     = 1
	idLast      = 255
)

var ErrClosed = errors.New("action dispatcher is closed")

type Caller interface {
	Call(ctx context.Context, receiver protocol.Addr, p protocol.Proto) (protocol.Proto, error)
	AddHandler(name string, h client.Handler)
	RemoveHandler(name string)
}

type actionKey struct {
	push protocol.Key
	id   byte
}

type Dispatcher struct {
	log    *log2.Log
	caller Caller
	ids    *protocol.Cycle
	mu     sync.Mutex
	active map[actionKey]*Action
	closed bool
}

func NewDispatcher(log *log2.Log, c Caller) *Dispatcher {
	return &Dispatcher{
		log:    log,
		caller: c,
		ids:    protocol.NewCycle(idFirst, idLast, 0),
		active: make(map[actionKey]*Action),
	}
}

// Start subscribes to inbound pushes.
func (d *Dispatcher) Start() {
	d.caller.AddHandler(handlerName, d.onMessage)
}

// Close aborts all active actions.
func (d *Dispatcher) Close() {
	d.caller.RemoveHandler(handlerName)
	d.mu.Lock()
	d.closed = true
	active := d.active
	d.active = make(map[actionKey]*Action)
	d.mu.Unlock()
	for _, a := range active {
		a.finish(Aborted, ErrAborted)
	}
}

func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Submit registers action before sending initiating request so early pushes are not lost.
// Returns after initiating response, progress is tracked by returned Action.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (*Action, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	id := byte(d.ids.Next())
	key := actionKey{push: cmd.PushKey(), id: id}
	if ex, ok := d.active[key]; ok {
		d.mu.Unlock()
		return nil, errors.AlreadyExistsf("action push=%s id=%d still active %s", key.push, id, ex)
	}
	a := newAction(id, cmd)
	d.active[key] = a
	d.mu.Unlock()

	resp, err := d.caller.Call(ctx, cmd.Target(), cmd.Request(id))
	if err == nil {
		if acc, ok := cmd.(Accepter); ok {
			err = acc.Accept(resp)
		}
	}
	if err != nil {
		d.forget(key, a)
		if _, ok := protocol.IsRetcode(err); ok || errors.Cause(err) == ErrRejected {
			a.finish(Rejected, err)
		} else {
			a.finish(Failed, err)
		}
		d.log.Errorf("action: submit id=%d err=%v", id, err)
		return a, err
	}
	a.running()
	d.log.Debugf("action: submitted %s", a)
	return a, nil
}

func (d *Dispatcher) forget(key actionKey, a *Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[key] == a {
		delete(d.active, key)
	}
}

func (d *Dispatcher) onMessage(m *protocol.Message) {
	if m.IsAck {
		return
	}
	p, ok := m.Proto.(Push)
	if !ok {
		return
	}
	key := actionKey{push: m.Key(), id: p.ActionID()}
	d.mu.Lock()
	a, ok := d.active[key]
	d.mu.Unlock()
	if !ok {
		d.log.Debugf("action: push for unknown id=%d key=%s", key.id, key.push)
		return
	}
	if a.update(p) {
		d.forget(key, a)
		d.log.Debugf("action: finished %s", a)
	}
}
