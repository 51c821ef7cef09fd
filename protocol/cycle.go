package protocol

import "sync"

const (
	SeqFirst = 10000
	SeqLast  = 20000
)

// Cycle hands out ids in [First, Last]. After Last comes First.
// Zero value is not usable, see NewCycle.
type Cycle struct {
	mu    sync.Mutex
	cur   uint16
	first uint16
	last  uint16
}

// NewCycle starts at start, first Next() returns start+1.
func NewCycle(first, last, start uint16) *Cycle {
	return &Cycle{first: first, last: last, cur: start}
}

func NewSeqCycle() *Cycle { return NewCycle(SeqFirst, SeqLast, SeqFirst) }

func (c *Cycle) Next() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur >= c.last || c.cur < c.first {
		c.cur = c.first
	} else {
		c.cur++
	}
	return c.cur
}

func (c *Cycle) Current() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}
