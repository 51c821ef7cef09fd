package client

import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/protocol"
)

const DefaultPendingSize = 16

var (
	ErrPendingFull      = errors.New("pending request table is full")
	ErrPendingDuplicate = errors.New("pending request identity is already registered")
)

// identity of a request awaiting ack.
// Outbound uses receiver, inbound ack uses sender.
type identity struct {
	addr protocol.Addr
	key  protocol.Key
	seq  uint16
}

func requestIdentity(m *protocol.Message) identity {
	return identity{addr: m.Receiver, key: m.Key(), seq: m.Seq}
}

func ackIdentity(m *protocol.Message) identity {
	return identity{addr: m.Sender, key: m.Key(), seq: m.Seq}
}

type result struct {
	m   *protocol.Message
	err error
}

type pendingTable struct {
	sync.Mutex
	size int
	m    map[identity]chan result
}

func newPendingTable(size int) *pendingTable {
	return &pendingTable{size: size, m: make(map[identity]chan result, size)}
}

func (p *pendingTable) Register(id identity) (<-chan result, error) {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.m[id]; ok {
		return nil, ErrPendingDuplicate
	}
	if len(p.m) >= p.size {
		return nil, ErrPendingFull
	}
	ch := make(chan result, 1)
	p.m[id] = ch
	return ch, nil
}

// Complete delivers first response only, later duplicates are dropped.
func (p *pendingTable) Complete(id identity, m *protocol.Message) bool {
	p.Lock()
	defer p.Unlock()
	ch, ok := p.m[id]
	if !ok {
		return false
	}
	select {
	case ch <- result{m: m}:
		return true
	default:
		return false
	}
}

func (p *pendingTable) Remove(id identity) {
	p.Lock()
	defer p.Unlock()
	delete(p.m, id)
}

// FailAll wakes every waiter with err.
func (p *pendingTable) FailAll(err error) {
	p.Lock()
	defer p.Unlock()
	for _, ch := range p.m {
		select {
		case ch <- result{err: err}:
		default:
		}
	}
}

func (p *pendingTable) Len() int {
	p.Lock()
	defer p.Unlock()
	return len(p.m)
}
