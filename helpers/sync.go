package helpers

import (
	"sync"
	"sync/atomic"
)

func WithLock(l sync.Locker, f func()) {
	l.Lock()
	defer l.Unlock()
	f()
}

type errorBox struct{ err error }

// AtomicError is a sticky error register: first store wins.
// Storing nil still marks it set.
type AtomicError struct {
	p atomic.Pointer[errorBox]
}

func (a *AtomicError) Load() (error, bool) {
	if b := a.p.Load(); b != nil {
		return b.err, true
	}
	return nil, false
}

// StoreOnce returns what Load returned right before the call.
func (a *AtomicError) StoreOnce(e error) (error, bool) {
	if a.p.CompareAndSwap(nil, &errorBox{err: e}) {
		return nil, false
	}
	return a.Load()
}
