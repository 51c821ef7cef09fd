// Package atomic_clock is a lock free wall clock stamp, used for last send/receive accounting.
// Zero value means "never".
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v atomic.Int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) IsZero() bool { return c.v.Load() == 0 }

func (c *Clock) SetNow()             { c.v.Store(source()) }
func (c *Clock) SetTime(t time.Time) { c.v.Store(t.UnixNano()) }
func (c *Clock) Reset()              { c.v.Store(0) }

func (c *Clock) UnixNano() int64 { return c.v.Load() }
func (c *Clock) Unix() int64     { return c.v.Load() / int64(time.Second) }

// Time returns zero time.Time for unset clock.
func (c *Clock) Time() time.Time {
	v := c.v.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func Now() *Clock {
	c := &Clock{}
	c.SetNow()
	return c
}

// Since returns 0 for unset clock.
func Since(c *Clock) time.Duration {
	v := c.v.Load()
	if v == 0 {
		return 0
	}
	return time.Duration(source() - v)
}
