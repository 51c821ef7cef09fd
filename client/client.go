// Package client is the robot session: one UDP socket, sequence numbering,
// ack correlation, inbound routing and heartbeat.
package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/helpers/atomic_clock"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/transport"
)

const (
	DefaultSyncTimeout       = 3 * time.Second
	DefaultHeartbeatInterval = 1 * time.Second
	DefaultStopTimeout       = 1 * time.Second
)

var (
	ErrNoResponse = errors.Timeoutf("no response")
	ErrNotStarted = errors.New("client is not started")
	ErrStopped    = errors.New("client is stopped")
)

const (
	stateNew int32 = iota
	stateStarting
	stateRunning
	stateStopped
)

// Handler is called from receive loop, must not block.
type Handler func(m *protocol.Message)

type Options struct {
	Log      *log2.Log
	Registry *protocol.Registry
	Local    *net.UDPAddr
	Remote   *net.UDPAddr
	// Host is sender address of outgoing frames.
	Host protocol.Addr
	// HeartbeatTarget receives SdkHeartBeat.
	HeartbeatTarget protocol.Addr
	SyncTimeout     time.Duration
	// Negative disables heartbeat.
	HeartbeatInterval time.Duration
	StopTimeout       time.Duration
	PendingSize       int
	ReuseAddr         bool
}

type namedHandler struct {
	name string
	fun  Handler
}

type Client struct {
	opt      Options
	log      *log2.Log
	alive    *alive.Alive
	state    int32
	conn     *transport.Conn
	seq      *protocol.Cycle
	pending  *pendingTable
	hmu      sync.RWMutex
	handlers []namedHandler
	broken   helpers.AtomicError
	lastRecv atomic_clock.Clock
	lastSend atomic_clock.Clock
	stat     Stat
}

func New(opt Options) (*Client, error) {
	if opt.Remote == nil {
		return nil, errors.NotValidf("code error client Remote=nil")
	}
	if opt.Registry == nil {
		opt.Registry = protocol.Default
	}
	if opt.Host == 0 {
		opt.Host = protocol.AddrSDK
	}
	if opt.HeartbeatTarget == 0 {
		opt.HeartbeatTarget = protocol.AddrRobot
	}
	if opt.SyncTimeout == 0 {
		opt.SyncTimeout = DefaultSyncTimeout
	}
	if opt.HeartbeatInterval == 0 {
		opt.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opt.StopTimeout == 0 {
		opt.StopTimeout = DefaultStopTimeout
	}
	if opt.PendingSize == 0 {
		opt.PendingSize = DefaultPendingSize
	}
	c := &Client{
		opt:     opt,
		log:     opt.Log,
		alive:   alive.NewAlive(),
		seq:     protocol.NewSeqCycle(),
		pending: newPendingTable(opt.PendingSize),
	}
	return c, nil
}

func (c *Client) Host() protocol.Addr          { return c.opt.Host }
func (c *Client) Registry() *protocol.Registry { return c.opt.Registry }
func (c *Client) Stat() *Stat                  { return &c.stat }
func (c *Client) LastRecv() time.Time          { return c.lastRecv.Time() }
func (c *Client) LastSend() time.Time          { return c.lastSend.Time() }
func (c *Client) Remote() *net.UDPAddr         { return c.opt.Remote }
func (c *Client) Pending() int                 { return c.pending.Len() }

// Running is true between Start and Stop unless receive loop failed.
func (c *Client) Running() bool { return c.usable() == nil }

// Err is the receive failure that broke session, nil otherwise.
func (c *Client) Err() error {
	err, _ := c.broken.Load()
	return err
}

func (c *Client) LocalAddr() *net.UDPAddr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *Client) TransportStat() *transport.Stat {
	if c.conn == nil {
		return nil
	}
	return c.conn.Stat()
}

// Start opens session socket, launches receive loop and heartbeat.
func (c *Client) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.state, stateNew, stateStarting) {
		return errors.Errorf("code error client Start state=%d", atomic.LoadInt32(&c.state))
	}
	conn, err := transport.Listen(ctx, transport.Options{
		Log:       c.log,
		Local:     c.opt.Local,
		Remote:    c.opt.Remote,
		ReadSize:  transport.SessionReadSize,
		ReuseAddr: c.opt.ReuseAddr,
	})
	if err != nil {
		atomic.StoreInt32(&c.state, stateStopped)
		c.alive.Stop()
		return errors.Annotate(err, "client start")
	}
	c.conn = conn
	atomic.StoreInt32(&c.state, stateRunning)

	c.alive.Add(1)
	go c.receiveLoop()
	if c.opt.HeartbeatInterval > 0 {
		c.alive.Add(1)
		go c.heartbeatLoop()
	}
	c.log.Infof("client: started local=%s remote=%s host=%s", conn.LocalAddr(), c.opt.Remote, c.opt.Host)
	return nil
}

// Stop halts heartbeat, wakes receive loop with a self datagram, waits and closes socket.
// Safe to call many times.
func (c *Client) Stop() error {
	switch {
	case atomic.CompareAndSwapInt32(&c.state, stateNew, stateStopped):
		c.alive.Stop()
		return nil
	case !atomic.CompareAndSwapInt32(&c.state, stateRunning, stateStopped):
		return nil
	}
	c.alive.Stop()

	// version query to own address, nobody acks it
	wake := &protocol.Message{
		Sender:   c.opt.Host,
		Receiver: c.opt.Host,
		Seq:      c.seq.Next(),
		CmdSet:   protocol.KeyGetVersion.CmdSet(),
		CmdID:    protocol.KeyGetVersion.CmdID(),
	}
	if b, err := protocol.Encode(wake); err == nil {
		if err = c.conn.SendSelf(b); err != nil {
			c.log.Errorf("client: stop wake err=%v", err)
		}
	}

	tmr := time.NewTimer(c.opt.StopTimeout)
	defer tmr.Stop()
	select {
	case <-c.alive.WaitChan():
	case <-tmr.C:
		c.log.Errorf("client: stop loops did not finish in %s, closing socket", c.opt.StopTimeout)
	}
	err := c.conn.Close()
	c.pending.FailAll(ErrStopped)
	c.alive.Wait()
	c.log.Infof("client: stopped")
	return errors.Annotate(err, "client stop")
}

func (c *Client) AddHandler(name string, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for i := range c.handlers {
		if c.handlers[i].name == name {
			c.handlers[i].fun = h
			return
		}
	}
	c.handlers = append(c.handlers, namedHandler{name: name, fun: h})
}

func (c *Client) RemoveHandler(name string) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	for i := range c.handlers {
		if c.handlers[i].name == name {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			return
		}
	}
}

// SendSync assigns seq and sends m. With ack required it waits for matching
// response until ctx or SyncTimeout, whichever ends first.
// Returns (nil, nil) for messages without ack.
func (c *Client) SendSync(ctx context.Context, m *protocol.Message) (*protocol.Message, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.prepare(m)
	if m.NeedAck == protocol.AckNone {
		return nil, c.send(m)
	}

	id := requestIdentity(m)
	ch, err := c.pending.Register(id)
	if err != nil {
		if err == ErrPendingFull {
			c.stat.PendingFull.Add(1)
		}
		return nil, errors.Annotatef(err, "client key=%s seq=%d", m.Key(), m.Seq)
	}
	defer c.pending.Remove(id)

	if err = c.send(m); err != nil {
		return nil, err
	}

	tmr := time.NewTimer(c.opt.SyncTimeout)
	defer tmr.Stop()
	select {
	case r := <-ch:
		return r.m, r.err
	case <-tmr.C:
		c.stat.Timeout.Add(1)
		return nil, errors.Annotatef(ErrNoResponse, "client key=%s seq=%d timeout=%s", m.Key(), m.Seq, c.opt.SyncTimeout)
	case <-ctx.Done():
		return nil, errors.Annotatef(ctx.Err(), "client key=%s seq=%d", m.Key(), m.Seq)
	}
}

// SendAsync sends m without waiting, ack requirement is cleared.
func (c *Client) SendAsync(m *protocol.Message) error {
	if err := c.usable(); err != nil {
		return err
	}
	m.NeedAck = protocol.AckNone
	c.prepare(m)
	return c.send(m)
}

// Call sends p as request and decodes response.
// Device rejection is returned together with decoded response as protocol.RetcodeError.
// Push type protos return (nil, nil).
func (c *Client) Call(ctx context.Context, receiver protocol.Addr, p protocol.Proto) (protocol.Proto, error) {
	m, err := c.opt.Registry.NewRequest(c.opt.Host, receiver, p)
	if err != nil {
		return nil, err
	}
	resp, err := c.SendSync(ctx, m)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	if resp.Proto == nil {
		return nil, errors.NotValidf("client response key=%s data=%x", resp.Key(), resp.Data)
	}
	return resp.Proto, protocol.CheckRetcode(resp.Proto)
}

// Push sends p without waiting for ack.
func (c *Client) Push(receiver protocol.Addr, p protocol.Proto) error {
	m, err := c.opt.Registry.NewRequest(c.opt.Host, receiver, p)
	if err != nil {
		return err
	}
	return c.SendAsync(m)
}

// Reply answers request from device with response side of p.
func (c *Client) Reply(req *protocol.Message, p protocol.Proto) error {
	if err := c.usable(); err != nil {
		return err
	}
	data, err := p.MarshalResponse()
	if err != nil {
		return errors.Annotatef(err, "client reply key=%s", req.Key())
	}
	ack := req.NewAck(data)
	ack.Proto = p
	return c.send(ack)
}

func (c *Client) Heartbeat() error {
	return c.Push(c.opt.HeartbeatTarget, &protocol.SdkHeartBeat{})
}

func (c *Client) usable() error {
	switch atomic.LoadInt32(&c.state) {
	case stateNew, stateStarting:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}
	if err, ok := c.broken.Load(); ok {
		return err
	}
	return nil
}

func (c *Client) prepare(m *protocol.Message) {
	if m.Sender == 0 {
		m.Sender = c.opt.Host
	}
	m.Seq = c.seq.Next()
}

func (c *Client) send(m *protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err = c.conn.Send(b); err != nil {
		return err
	}
	c.stat.Sent.Add(1)
	c.lastSend.SetNow()
	c.log.Debugf("client: sent %s", m)
	return nil
}

func (c *Client) receiveLoop() {
	defer c.alive.Done()
	// partial frame tail carried to next datagram
	var acc []byte
	for {
		b, _, err := c.conn.Receive(0)
		if !c.alive.IsRunning() {
			return
		}
		if err != nil {
			c.broken.StoreOnce(err)
			c.pending.FailAll(err)
			c.log.Error(errors.Annotate(err, "client receive loop, session unusable"))
			return
		}
		c.lastRecv.SetNow()
		acc = append(acc, b...)
		rest := acc
		for len(rest) > 0 {
			var m *protocol.Message
			m, rest, err = protocol.Decode(rest)
			if err != nil {
				c.stat.FrameError.Add(1)
				c.log.Debugf("client: frame err=%v", err)
				continue
			}
			if m == nil {
				break
			}
			c.route(m)
		}
		acc = append(acc[:0], rest...)
	}
}

func (c *Client) route(m *protocol.Message) {
	c.stat.Received.Add(1)
	if err := c.opt.Registry.Decode(m); err != nil {
		c.stat.DecodeError.Add(1)
		c.log.Errorf("client: %s err=%v", m, err)
	}
	c.log.Debugf("client: recv %s", m)

	if m.IsAck {
		if c.pending.Complete(ackIdentity(m), m) {
			c.stat.Acked.Add(1)
		}
	}
	if m.Proto == nil {
		c.stat.Unknown.Add(1)
		return
	}

	c.hmu.RLock()
	hs := make([]namedHandler, len(c.handlers))
	copy(hs, c.handlers)
	c.hmu.RUnlock()
	for _, h := range hs {
		h.fun(m)
	}
}

func (c *Client) heartbeatLoop() {
	defer c.alive.Done()
	for {
		if err := c.Heartbeat(); err != nil {
			c.log.Errorf("client: heartbeat err=%v", err)
		} else {
			c.stat.Heartbeat.Add(1)
		}
		select {
		case <-time.After(c.opt.HeartbeatInterval):
		case <-c.alive.StopChan():
			return
		}
	}
}
