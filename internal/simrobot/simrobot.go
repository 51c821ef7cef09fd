// Package simrobot is a fake robot on a local UDP socket, for tests and demo.
// One socket serves both handshake and session.
package simrobot

import (
	"encoding/binary"
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/rmlink/action"
	"github.com/temoto/rmlink/chassis"
	"github.com/temoto/rmlink/helpers"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
	"github.com/temoto/rmlink/telemetry"
)

const DefaultMoveDuration = 300 * time.Millisecond

type Options struct {
	Log *log2.Log
	// Listen defaults to 127.0.0.1:0
	Listen         *net.UDPAddr
	BootstrapState byte
	ConfigIP       net.IP
	MoveDuration   time.Duration
	Version        [4]byte
	SN             string
	// Retcodes overrides response code per key.
	Retcodes map[protocol.Key]byte
	// Silent keys are never acked.
	Silent map[protocol.Key]bool
	// MoveAccept is accept byte of PositionMove response.
	MoveAccept byte
}

type subscription struct {
	uid  uint64
	freq byte
	stop chan struct{}
}

type Robot struct {
	Log   *log2.Log
	opt   Options
	alive *alive.Alive
	conn  *net.UDPConn
	seq   *protocol.Cycle

	mu       sync.Mutex
	peer     *net.UDPAddr
	received []*protocol.Message
	subs     map[byte]*subscription
	sdk      bool
	mode     protocol.RobotMode
	pos      [3]float32
	notify   chan struct{}
}

func Start(opt Options) (*Robot, error) {
	if opt.Listen == nil {
		opt.Listen = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}
	}
	if opt.MoveDuration == 0 {
		opt.MoveDuration = DefaultMoveDuration
	}
	if opt.Version == [4]byte{} {
		opt.Version = [4]byte{1, 2, 3, 4}
	}
	if opt.SN == "" {
		opt.SN = uuid.New().String()[:14]
	}
	conn, err := net.ListenUDP("udp4", opt.Listen)
	if err != nil {
		return nil, errors.Annotate(err, "simrobot listen")
	}
	self := &Robot{
		Log:    opt.Log,
		opt:    opt,
		alive:  alive.NewAlive(),
		conn:   conn,
		seq:    protocol.NewSeqCycle(),
		subs:   make(map[byte]*subscription),
		notify: make(chan struct{}, 1),
	}
	self.alive.Add(1)
	go self.loop()
	self.Log.Infof("simrobot: listen=%s sn=%s", self.Addr(), opt.SN)
	return self, nil
}

func (self *Robot) Addr() *net.UDPAddr { return self.conn.LocalAddr().(*net.UDPAddr) }

func (self *Robot) Close() error {
	self.alive.Stop()
	err := self.conn.Close()
	self.mu.Lock()
	for id, s := range self.subs {
		close(s.stop)
		delete(self.subs, id)
	}
	self.mu.Unlock()
	self.alive.Wait()
	return err
}

func (self *Robot) SdkMode() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.sdk
}

func (self *Robot) Mode() protocol.RobotMode {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.mode
}

func (self *Robot) Subscriptions() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.subs)
}

// Received returns messages with key k in arrival order.
func (self *Robot) Received(k protocol.Key) []*protocol.Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	var ms []*protocol.Message
	for _, m := range self.received {
		if m.Key() == k {
			ms = append(ms, m)
		}
	}
	return ms
}

// WaitReceived blocks until at least n messages with key k arrived.
func (self *Robot) WaitReceived(k protocol.Key, n int, timeout time.Duration) ([]*protocol.Message, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if ms := self.Received(k); len(ms) >= n {
			return ms, nil
		}
		select {
		case <-self.notify:
		case <-time.After(5 * time.Millisecond):
		case <-deadline.C:
			return nil, errors.Timeoutf("simrobot wait key=%s n=%d", k, n)
		}
	}
}

// Push sends device initiated message to last session peer.
func (self *Robot) Push(sender protocol.Addr, p protocol.Proto) error {
	data, err := p.MarshalRequest()
	if err != nil {
		return err
	}
	k := p.Key()
	m := &protocol.Message{
		Sender:   sender,
		Receiver: protocol.AddrSDK,
		Seq:      self.seq.Next(),
		CmdSet:   k.CmdSet(),
		CmdID:    k.CmdID(),
		Data:     data,
	}
	return self.send(m)
}

func (self *Robot) send(m *protocol.Message) error {
	self.mu.Lock()
	peer := self.peer
	self.mu.Unlock()
	if peer == nil {
		return errors.Errorf("simrobot no peer yet")
	}
	return self.sendTo(m, peer)
}

func (self *Robot) sendTo(m *protocol.Message, to *net.UDPAddr) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	_, err = self.conn.WriteToUDP(b, to)
	return err
}

func (self *Robot) loop() {
	defer self.alive.Done()
	buf := make([]byte, 2048)
	for {
		n, from, err := self.conn.ReadFromUDP(buf)
		if err != nil {
			if self.alive.IsRunning() {
				self.Log.Errorf("simrobot: read err=%v", err)
			}
			return
		}
		rest := buf[:n]
		for len(rest) > 0 {
			var m *protocol.Message
			m, rest, err = protocol.Decode(rest)
			if err != nil {
				self.Log.Debugf("simrobot: frame err=%v", err)
				continue
			}
			if m == nil {
				break
			}
			self.handle(m, from)
		}
	}
}

func (self *Robot) handle(m *protocol.Message, from *net.UDPAddr) {
	if err := protocol.Default.Decode(m); err != nil {
		self.Log.Errorf("simrobot: %s err=%v", m, err)
	}
	self.mu.Lock()
	if m.Key() != protocol.KeySdkConnection {
		self.peer = from
	}
	self.received = append(self.received, m)
	self.mu.Unlock()
	select {
	case self.notify <- struct{}{}:
	default:
	}
	if m.IsAck {
		return
	}

	// unknown keys get retcode only response
	var data []byte
	if m.Proto != nil {
		resp := self.respond(m)
		var err error
		if data, err = resp.MarshalResponse(); err != nil {
			self.Log.Errorf("simrobot: marshal response %s err=%v", m, err)
			return
		}
	} else {
		data = []byte{0}
	}
	if m.NeedAck == protocol.AckNone || self.opt.Silent[m.Key()] {
		return
	}
	if code, ok := self.opt.Retcodes[m.Key()]; ok {
		if len(data) == 0 {
			data = []byte{code}
		}
		data[0] = code
	}
	if err := self.sendTo(m.NewAck(data), from); err != nil {
		self.Log.Errorf("simrobot: reply err=%v", err)
	}
}

// respond applies request side effects and returns response proto.
func (self *Robot) respond(m *protocol.Message) protocol.Proto {
	switch p := m.Proto.(type) {
	case *protocol.SdkConnection:
		return &protocol.SdkConnection{State: self.opt.BootstrapState, ConfigIP: self.opt.ConfigIP}
	case *protocol.SetSdkMode:
		helpers.WithLock(&self.mu, func() { self.sdk = p.Enable })
	case *protocol.SetRobotMode:
		helpers.WithLock(&self.mu, func() { self.mode = p.Mode })
	case *protocol.SubNodeReset:
		self.mu.Lock()
		for id, s := range self.subs {
			close(s.stop)
			delete(self.subs, id)
		}
		self.mu.Unlock()
	case *protocol.SubAddNode:
		return &protocol.SubAddNode{PubNode: protocol.AddrRobot}
	case *protocol.SubAddMsg:
		self.subscribe(p)
	case *protocol.SubDelMsg:
		self.mu.Lock()
		if s, ok := self.subs[p.MsgID]; ok {
			close(s.stop)
			delete(self.subs, p.MsgID)
		}
		self.mu.Unlock()
	case *protocol.GetVersion:
		v := self.opt.Version
		return &protocol.GetVersion{AA: v[0], BB: v[1], CC: v[2], DD: v[3]}
	case *protocol.GetSn:
		return &protocol.GetSn{SN: self.opt.SN}
	case *chassis.PositionMove:
		if self.opt.MoveAccept == 0 && !self.opt.Silent[m.Key()] {
			go self.move(*p)
		}
		return &chassis.PositionMove{Accept: self.opt.MoveAccept}
	}
	return m.Proto
}

// move reports progress: started, half, done.
func (self *Robot) move(p chassis.PositionMove) {
	if !self.alive.Add(1) {
		return
	}
	defer self.alive.Done()
	step := self.opt.MoveDuration / 2
	report := func(pct, state byte, frac float64) bool {
		pp := &chassis.PositionPush{
			ID: p.ActionID, Pct: pct, State: state,
			X: int16(float64(p.X) * frac), Y: int16(float64(p.Y) * frac), Z: int16(float64(p.Z) * frac),
		}
		if err := self.Push(protocol.AddrChassis, pp); err != nil {
			self.Log.Errorf("simrobot: move push err=%v", err)
			return false
		}
		return true
	}
	if !report(0, action.PushStarted, 0) {
		return
	}
	for _, frac := range []float64{0.5, 1} {
		select {
		case <-time.After(step):
		case <-self.alive.StopChan():
			return
		}
		state := byte(action.PushRunning)
		if frac == 1 {
			state = action.PushSucceeded
			self.mu.Lock()
			self.pos[0] += float32(p.X) / 100
			self.pos[1] += float32(p.Y) / 100
			self.pos[2] += float32(p.Z) / 10
			self.mu.Unlock()
		}
		if !report(byte(frac*100), state, frac) {
			return
		}
	}
}

func (self *Robot) subscribe(p *protocol.SubAddMsg) {
	s := &subscription{uid: p.UID, freq: p.Freq, stop: make(chan struct{})}
	self.mu.Lock()
	if old, ok := self.subs[p.MsgID]; ok {
		close(old.stop)
	}
	self.subs[p.MsgID] = s
	self.mu.Unlock()
	if !self.alive.Add(1) {
		return
	}
	go self.publish(p.MsgID, s)
}

func (self *Robot) publish(msgID byte, s *subscription) {
	defer self.alive.Done()
	freq := s.freq
	if freq == 0 {
		freq = 1
	}
	tick := time.NewTicker(time.Second / time.Duration(freq))
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
		case <-s.stop:
			return
		case <-self.alive.StopChan():
			return
		}
		data := self.sample(s.uid)
		push := &protocol.PushPeriod{MsgID: msgID, Data: data}
		if err := self.Push(protocol.AddrRobot, push); err != nil {
			self.Log.Debugf("simrobot: publish err=%v", err)
		}
	}
}

func (self *Robot) sample(uid uint64) []byte {
	self.mu.Lock()
	pos := self.pos
	self.mu.Unlock()
	var fs []float32
	switch uid {
	case telemetry.UIDPosition:
		fs = pos[:]
	case telemetry.UIDAttitude:
		fs = []float32{pos[2], 0, 0}
	case telemetry.UIDImu:
		fs = []float32{0, 0, -1, 0, 0, 0}
	case telemetry.UIDSaStatus:
		return []byte{0x01, 0x00}
	default:
		return nil
	}
	b := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}
