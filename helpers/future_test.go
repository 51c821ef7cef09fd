package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture(t *testing.T) {
	t.Parallel()
	f := NewFuture()
	assert.False(t, f.Finished())
	go func() { f.Complete(42) }()
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, f.Cancel("late"))
	select {
	case <-f.Completed():
	default:
		t.Fatal("expected completed")
	}
	select {
	case <-f.Cancelled():
		t.Fatal("unexpected cancelled")
	default:
	}
}

func TestFutureWaitTimeout(t *testing.T) {
	t.Parallel()
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.True(t, f.Cancel(nil))
	assert.True(t, f.Finished())
}
