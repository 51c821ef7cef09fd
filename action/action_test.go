package action

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
)

var (
	keyTestMove = protocol.MakeKey(0x7a, 0x01)
	keyTestPush = protocol.MakeKey(0x7a, 0x02)
)

type testRequest struct {
	protocol.Empty
	protocol.Reply
	id byte
}

func (*testRequest) Key() protocol.Key { return keyTestMove }

type testPush struct {
	protocol.Empty
	protocol.NoResponse
	id, pct, state byte
}

func (*testPush) Key() protocol.Key   { return keyTestPush }
func (p *testPush) ActionID() byte    { return p.id }
func (p *testPush) Percent() uint8    { return p.pct }
func (p *testPush) ActionState() byte { return p.state }

type testCommand struct {
	mu     sync.Mutex
	pushes int
	accept error
}

func (*testCommand) Target() protocol.Addr          { return protocol.AddrChassis }
func (*testCommand) Request(id byte) protocol.Proto { return &testRequest{id: id} }
func (*testCommand) PushKey() protocol.Key          { return keyTestPush }
func (c *testCommand) Accept(protocol.Proto) error  { return c.accept }

func (c *testCommand) Update(Push) {
	c.mu.Lock()
	c.pushes++
	c.mu.Unlock()
}

type fakeCaller struct {
	mu       sync.Mutex
	handlers map[string]client.Handler
	calls    []protocol.Proto
	// before is run inside Call, like device pushing before ack
	before func(p protocol.Proto)
	err    error
}

func (f *fakeCaller) Call(ctx context.Context, receiver protocol.Addr, p protocol.Proto) (protocol.Proto, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	before, err := f.before, f.err
	f.mu.Unlock()
	if before != nil {
		before(p)
	}
	return p, err
}

func (f *fakeCaller) AddHandler(name string, h client.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]client.Handler)
	}
	f.handlers[name] = h
}

func (f *fakeCaller) RemoveHandler(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, name)
}

func (f *fakeCaller) push(p *testPush) {
	f.mu.Lock()
	h := f.handlers[handlerName]
	f.mu.Unlock()
	if h != nil {
		h(&protocol.Message{CmdSet: keyTestPush.CmdSet(), CmdID: keyTestPush.CmdID(), Proto: p})
	}
}

func newTestDispatcher(t testing.TB) (*Dispatcher, *fakeCaller) {
	fc := &fakeCaller{}
	d := NewDispatcher(log2.NewTest(t, log2.LDebug), fc)
	d.Start()
	return d, fc
}

func TestSubmitProgress(t *testing.T) {
	t.Parallel()
	d, fc := newTestDispatcher(t)
	cmd := &testCommand{}
	a, err := d.Submit(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, byte(1), a.ID())
	assert.Equal(t, byte(1), fc.calls[0].(*testRequest).id)
	assert.Equal(t, Running, a.State())
	assert.Equal(t, 1, d.Active())

	fc.push(&testPush{id: a.ID(), pct: 40, state: PushRunning})
	assert.Equal(t, uint8(40), a.Percent())
	assert.False(t, a.Finished())

	// someone else's id is ignored
	fc.push(&testPush{id: a.ID() + 1, pct: 100, state: PushSucceeded})
	assert.False(t, a.Finished())

	fc.push(&testPush{id: a.ID(), pct: 100, state: PushSucceeded})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
	assert.Equal(t, Succeeded, a.State())
	assert.Equal(t, 0, d.Active())
	assert.Equal(t, 2, cmd.pushes)
}

func TestSubmitFailedPush(t *testing.T) {
	t.Parallel()
	d, fc := newTestDispatcher(t)
	a, err := d.Submit(context.Background(), &testCommand{})
	require.NoError(t, err)
	fc.push(&testPush{id: a.ID(), pct: 10, state: PushFailed})
	err = a.Wait(context.Background())
	assert.Equal(t, ErrFailed, errors.Cause(err))
	assert.Equal(t, Failed, a.State())
	assert.Equal(t, 0, d.Active())
}

func TestPushBeforeAck(t *testing.T) {
	t.Parallel()
	d, fc := newTestDispatcher(t)
	fc.before = func(p protocol.Proto) {
		fc.push(&testPush{id: p.(*testRequest).id, pct: 100, state: PushSucceeded})
	}
	a, err := d.Submit(context.Background(), &testCommand{})
	require.NoError(t, err)
	assert.Equal(t, Succeeded, a.State())
	assert.True(t, a.Finished())
}

func TestSubmitRejected(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		err   error
		acc   error
		state State
	}{
		{"retcode", protocol.RetcodeError{Key: keyTestMove, Code: 1}, nil, Rejected},
		{"accept", nil, errors.Annotate(ErrRejected, "accept=1"), Rejected},
		{"timeout", errors.Annotate(client.ErrNoResponse, "test"), nil, Failed},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			d, fc := newTestDispatcher(t)
			fc.err = c.err
			a, err := d.Submit(context.Background(), &testCommand{accept: c.acc})
			require.Error(t, err)
			require.NotNil(t, a)
			assert.Equal(t, c.state, a.State())
			assert.True(t, a.Finished())
			assert.Equal(t, 0, d.Active())
		})
	}
}

func TestIDCycle(t *testing.T) {
	t.Parallel()
	d, fc := newTestDispatcher(t)
	var last *Action
	for i := 0; i < 256; i++ {
		a, err := d.Submit(context.Background(), &testCommand{})
		require.NoError(t, err)
		fc.push(&testPush{id: a.ID(), state: PushSucceeded})
		last = a
	}
	// 1..255 then back to 1
	assert.Equal(t, byte(1), last.ID())
}

func TestIDStillActive(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(t)
	for i := 0; i < 255; i++ {
		_, err := d.Submit(context.Background(), &testCommand{})
		require.NoError(t, err)
	}
	_, err := d.Submit(context.Background(), &testCommand{})
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestClose(t *testing.T) {
	t.Parallel()
	d, fc := newTestDispatcher(t)
	a, err := d.Submit(context.Background(), &testCommand{})
	require.NoError(t, err)
	d.Close()
	assert.Equal(t, ErrAborted, a.Wait(context.Background()))
	assert.Equal(t, Aborted, a.State())
	assert.Empty(t, fc.handlers)

	_, err = d.Submit(context.Background(), &testCommand{})
	assert.Equal(t, ErrClosed, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.False(t, Running.Terminal())
	assert.True(t, Aborted.Terminal())
}
