// Package ratelimit provides small counters for throttling hot-path log
// emission.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter tracks a total count and the last time a log was emitted.
// It is safe for concurrent use.
type Counter struct {
	interval time.Duration
	lastLog  atomic.Int64
	total    atomic.Uint64
}

// Every constructs a Counter that allows a log at most once per interval.
// A zero or negative interval disables throttling (always logs).
func Every(interval time.Duration) Counter {
	return Counter{interval: interval}
}

// Inc increments the counter and reports whether logging is allowed.
func (c *Counter) Inc() (uint64, bool) {
	if c == nil {
		return 0, false
	}
	total := c.total.Add(1)
	if c.interval <= 0 {
		return total, true
	}
	now := time.Now().UTC().UnixNano()
	last := c.lastLog.Load()
	if now-last < c.interval.Nanoseconds() {
		return total, false
	}
	if c.lastLog.CompareAndSwap(last, now) {
		return total, true
	}
	return total, false
}

// Total returns the running count without incrementing it.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}

// Steps tracks a total count and allows a log on the first event and on
// every nth after it. It is safe for concurrent use.
type Steps struct {
	n     uint64
	total atomic.Uint64
}

// EveryN constructs a Steps counter. An n below 2 disables throttling.
func EveryN(n uint64) Steps {
	return Steps{n: n}
}

// Inc increments the counter and reports whether logging is allowed.
func (s *Steps) Inc() (uint64, bool) {
	if s == nil {
		return 0, false
	}
	total := s.total.Add(1)
	if s.n < 2 {
		return total, true
	}
	return total, total == 1 || total%s.n == 0
}

// Total returns the running count without incrementing it.
func (s *Steps) Total() uint64 {
	if s == nil {
		return 0
	}
	return s.total.Load()
}
