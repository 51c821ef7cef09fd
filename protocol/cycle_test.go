package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqWrap(t *testing.T) {
	t.Parallel()
	c := NewSeqCycle()
	assert.Equal(t, uint16(10001), c.Next())
	c = NewCycle(SeqFirst, SeqLast, SeqLast-1)
	assert.Equal(t, uint16(20000), c.Next())
	assert.Equal(t, uint16(10000), c.Next())
	assert.Equal(t, uint16(10001), c.Next())
}

func TestMsgIDWrap(t *testing.T) {
	t.Parallel()
	c := NewCycle(20, 225, 224)
	assert.Equal(t, uint16(225), c.Next())
	assert.Equal(t, uint16(20), c.Next())
}

func TestCycleConcurrent(t *testing.T) {
	t.Parallel()
	c := NewSeqCycle()
	const n = 1000
	seen := make(chan uint16, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)
	uniq := make(map[uint16]struct{})
	for s := range seen {
		uniq[s] = struct{}{}
	}
	assert.Len(t, uniq, n)
}
