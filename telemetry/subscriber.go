// Package telemetry subscribes to device data streams and delivers decoded
// samples to callbacks on a worker pool, at most one pending callback per subject.
package telemetry

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/rmlink/client"
	"github.com/temoto/rmlink/log2"
	"github.com/temoto/rmlink/protocol"
)

const (
	MsgIDFirst = 20
	MsgIDLast  = 225

	DefaultQueue = 256
	DefaultFreq  = 5

	handlerName = "telemetry"
)

var ErrMsgIDExhausted = errors.New("all telemetry msg ids are in use")

type Caller interface {
	Host() protocol.Addr
	Call(ctx context.Context, receiver protocol.Addr, p protocol.Proto) (protocol.Proto, error)
	AddHandler(name string, h client.Handler)
	RemoveHandler(name string)
}

type Options struct {
	Log     *log2.Log
	Workers int
	// Queue between receive loop and dispatch, full queue drops messages.
	Queue int
	// Target receives subscription control messages.
	Target protocol.Addr
}

type Subscriber struct {
	log    *log2.Log
	opt    Options
	caller Caller
	ids    *protocol.Cycle
	alive  *alive.Alive
	queue  chan *protocol.Message
	pool   *Pool
	once   sync.Once

	mu       sync.Mutex
	subjects map[string]*Subject
	// period subjects waiting for device accept, name to msg id
	reserved map[string]byte
	// event keys to let through, besides PushPeriod
	filter map[protocol.Key]int

	stat Stat
}

func NewSubscriber(c Caller, opt Options) *Subscriber {
	if opt.Workers == 0 {
		opt.Workers = DefaultWorkers
	}
	if opt.Queue == 0 {
		opt.Queue = DefaultQueue
	}
	if opt.Target == 0 {
		opt.Target = protocol.AddrRobot
	}
	return &Subscriber{
		log:      opt.Log,
		opt:      opt,
		caller:   c,
		ids:      protocol.NewCycle(MsgIDFirst, MsgIDLast, MsgIDFirst),
		alive:    alive.NewAlive(),
		queue:    make(chan *protocol.Message, opt.Queue),
		subjects: make(map[string]*Subject),
		reserved: make(map[string]byte),
		filter:   make(map[protocol.Key]int),
	}
}

func (s *Subscriber) Stat() *Stat { return &s.stat }

func (s *Subscriber) Start() {
	s.pool = NewPool(s.log, s.opt.Workers, 2*s.opt.Queue)
	s.alive.Add(1)
	go s.dispatchLoop()
	s.caller.AddHandler(handlerName, s.onMessage)
}

// Close stops dispatch and the pool without waiting for running callbacks.
// Device side subscriptions are left, robot reset clears them.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.caller.RemoveHandler(handlerName)
		s.alive.Stop()
		s.alive.Wait()
		if s.pool != nil {
			s.pool.Close()
		}
	})
}

// Subscribe allocates msg id and asks device to push subject.
// Name and msg id are reserved before the request, subject is registered only after device accepted.
// Event subjects are local, no device request.
func (s *Subscriber) Subscribe(ctx context.Context, subj *Subject) error {
	if subj.Name == "" || subj.Decode == nil || subj.Callback == nil {
		return errors.NotValidf("code error telemetry subject=%s without name, decode or callback", subj.Name)
	}

	switch subj.Kind {
	case Event:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.nameTaken(subj.Name) {
			return errors.AlreadyExistsf("telemetry subject=%s", subj.Name)
		}
		subj.task = nil
		s.subjects[subj.Name] = subj
		s.filter[subj.Key]++
	case Period:
		if subj.Freq == 0 {
			subj.Freq = DefaultFreq
		}
		s.mu.Lock()
		if s.nameTaken(subj.Name) {
			s.mu.Unlock()
			return errors.AlreadyExistsf("telemetry subject=%s", subj.Name)
		}
		msgID, err := s.allocMsgID()
		if err != nil {
			s.mu.Unlock()
			return errors.Annotatef(err, "telemetry subscribe %s", subj)
		}
		s.reserved[subj.Name] = msgID
		s.mu.Unlock()

		req := &protocol.SubAddMsg{Node: s.caller.Host(), Freq: subj.Freq, MsgID: msgID, UID: subj.UID}
		_, err = s.caller.Call(ctx, s.opt.Target, req)
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.reserved, subj.Name)
		if err != nil {
			return errors.Annotatef(err, "telemetry subscribe %s", subj)
		}
		subj.msgID = msgID
		subj.task = nil
		s.subjects[subj.Name] = subj
	default:
		return errors.NotValidf("telemetry %s", subj)
	}
	s.log.Debugf("telemetry: subscribed %s", subj)
	return nil
}

// caller holds s.mu
func (s *Subscriber) nameTaken(name string) bool {
	if _, ok := s.subjects[name]; ok {
		return true
	}
	_, ok := s.reserved[name]
	return ok
}

// allocMsgID skips ids held by subscribed or reserved subjects.
// caller holds s.mu
func (s *Subscriber) allocMsgID() (byte, error) {
	busy := make(map[byte]struct{}, len(s.subjects)+len(s.reserved))
	for _, subj := range s.subjects {
		if subj.Kind == Period {
			busy[subj.msgID] = struct{}{}
		}
	}
	for _, id := range s.reserved {
		busy[id] = struct{}{}
	}
	for i := MsgIDFirst; i <= MsgIDLast; i++ {
		id := byte(s.ids.Next())
		if _, ok := busy[id]; !ok {
			return id, nil
		}
	}
	return 0, ErrMsgIDExhausted
}

// Unsubscribe cancels pending callback, removes registration and asks device to stop.
func (s *Subscriber) Unsubscribe(ctx context.Context, name string) error {
	s.mu.Lock()
	subj, ok := s.subjects[name]
	if !ok {
		s.mu.Unlock()
		return errors.NotFoundf("telemetry subject=%s", name)
	}
	if subj.task != nil {
		subj.task.Cancel()
		subj.task = nil
	}
	delete(s.subjects, name)
	if subj.Kind == Event {
		if s.filter[subj.Key]--; s.filter[subj.Key] <= 0 {
			delete(s.filter, subj.Key)
		}
	}
	msgID := subj.msgID
	s.mu.Unlock()

	if subj.Kind != Period {
		return nil
	}
	req := &protocol.SubDelMsg{MsgID: msgID, Node: s.caller.Host()}
	if _, err := s.caller.Call(ctx, s.opt.Target, req); err != nil {
		return errors.Annotatef(err, "telemetry unsubscribe %s", subj)
	}
	return nil
}

func (s *Subscriber) Subjects() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.subjects))
	for name := range s.subjects {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// MsgID of period subject, 0 if unknown.
func (s *Subscriber) MsgID(name string) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subj, ok := s.subjects[name]; ok {
		return subj.msgID
	}
	return 0
}

// onMessage runs on client receive loop, never blocks.
func (s *Subscriber) onMessage(m *protocol.Message) {
	if m.IsAck {
		return
	}
	k := m.Key()
	if k != protocol.KeyPushPeriod {
		s.mu.Lock()
		_, ok := s.filter[k]
		s.mu.Unlock()
		if !ok {
			return
		}
	}
	s.stat.Received.Add(1)
	select {
	case s.queue <- m:
	default:
		s.stat.Dropped.Add(1)
		s.log.Debugf("telemetry: queue full, drop %s", m)
	}
}

func (s *Subscriber) dispatchLoop() {
	defer s.alive.Done()
	for {
		select {
		case m := <-s.queue:
			s.publish(m)
		case <-s.alive.StopChan():
			return
		}
	}
}

func (s *Subscriber) publish(m *protocol.Message) {
	var push *protocol.PushPeriod
	if m.Key() == protocol.KeyPushPeriod {
		push, _ = m.Proto.(*protocol.PushPeriod)
		if push == nil {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subj := range s.subjects {
		var data []byte
		switch subj.Kind {
		case Period:
			if push == nil || push.MsgID != subj.msgID {
				continue
			}
			data = push.Data
		case Event:
			if m.Key() != subj.Key {
				continue
			}
			data = m.Data
		}
		v, err := subj.Decode(data)
		if err != nil {
			s.stat.DecodeError.Add(1)
			s.log.Errorf("telemetry: %s decode data=%x err=%v", subj, data, err)
			continue
		}
		if subj.task != nil && !subj.task.Finished() {
			s.stat.Coalesced.Add(1)
			continue
		}
		cb := subj.Callback
		subj.task = s.pool.Submit(func() { cb(v) })
		s.stat.Delivered.Add(1)
	}
}
