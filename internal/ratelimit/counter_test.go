package ratelimit

import (
	"testing"
	"time"
)

func TestEveryThrottlesWithinInterval(t *testing.T) {
	c := Every(time.Hour)
	if n, ok := c.Inc(); !ok || n != 1 {
		t.Fatalf("first Inc = (%d, %v), want allowed", n, ok)
	}
	if _, ok := c.Inc(); ok {
		t.Error("second Inc within the interval was allowed")
	}
	if c.Total() != 2 {
		t.Errorf("Total = %d, want 2", c.Total())
	}
}

func TestEveryZeroIntervalAlwaysAllows(t *testing.T) {
	c := Every(0)
	for i := 0; i < 3; i++ {
		if _, ok := c.Inc(); !ok {
			t.Fatalf("Inc %d was throttled", i)
		}
	}
}

func TestEveryNAllowsFirstAndEveryNth(t *testing.T) {
	s := EveryN(100)
	var allowed []uint64
	for i := 0; i < 250; i++ {
		if n, ok := s.Inc(); ok {
			allowed = append(allowed, n)
		}
	}
	want := []uint64{1, 100, 200}
	if len(allowed) != len(want) {
		t.Fatalf("allowed = %v, want %v", allowed, want)
	}
	for i := range want {
		if allowed[i] != want[i] {
			t.Errorf("allowed[%d] = %d, want %d", i, allowed[i], want[i])
		}
	}
}

func TestNilCountersAreSafe(t *testing.T) {
	var c *Counter
	var s *Steps
	if _, ok := c.Inc(); ok {
		t.Error("nil Counter allowed a log")
	}
	if _, ok := s.Inc(); ok {
		t.Error("nil Steps allowed a log")
	}
	if c.Total() != 0 || s.Total() != 0 {
		t.Error("nil totals nonzero")
	}
}
