// Based on https://github.com/256dpi/gomqtt/blob/e7823dfd0958f968b8e69eb1bf235456316c54fb/client/future/future.go
// with completed/cancelled channels exported
// which allows to wait on result in custom select statement.

package helpers

import (
	"context"
	"sync"
)

type Future struct {
	result    interface{}
	completed chan struct{}
	cancelled chan struct{}
	done      chan struct{} // closed on either outcome
	finished  bool
	mutex     sync.Mutex
}

func NewFuture() *Future {
	return &Future{
		completed: make(chan struct{}),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (f *Future) Cancelled() <-chan struct{} { return f.cancelled }
func (f *Future) Completed() <-chan struct{} { return f.completed }
func (f *Future) Done() <-chan struct{}      { return f.done }

func (f *Future) Complete(result interface{}) bool { return f.finish(result, f.completed) }
func (f *Future) Cancel(result interface{}) bool   { return f.finish(result, f.cancelled) }

// Finished is true after either Complete or Cancel.
func (f *Future) Finished() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.finished
}

func (f *Future) Result() interface{} {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.result
}

// Wait returns ctx.Err() if ctx is done first.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) finish(result interface{}, ch chan struct{}) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.finished {
		return false
	}

	f.result = result
	f.finished = true
	close(ch)
	close(f.done)
	return true
}
