package qc

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open coded span [From, To). A Sequence of intervals
// partitions a processed range: contiguous, strictly ordered, no overlap.
type Interval struct {
	From time.Time
	To   time.Time
	Code Code
}

// Duration returns the span length.
func (iv Interval) Duration() time.Duration {
	return iv.To.Sub(iv.From)
}

// Contains reports whether t falls inside the half-open span.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.From) && t.Before(iv.To)
}

// Sequence is an ordered partition of a time range into coded intervals.
// Mutating methods keep the partition invariant: every instant of the range
// is covered exactly once. The zero value is an empty sequence.
type Sequence []Interval

// NewSequence builds the initial partition for [from, to): one placeholder
// interval at the unverified tier tagged INI. Later passes overwrite it.
// An empty or inverted range yields an empty sequence.
func NewSequence(from, to time.Time) Sequence {
	if !from.Before(to) {
		return nil
	}
	return Sequence{{From: from, To: to, Code: NewCode(TierUnverified, ReasonINI)}}
}

// Span returns the covered range. An empty sequence returns zero times.
func (s Sequence) Span() (from, to time.Time) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}
	}
	return s[0].From, s[len(s)-1].To
}

// CodeAt returns the code covering t, if any.
func (s Sequence) CodeAt(t time.Time) (Code, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].To.After(t) })
	if i >= len(s) || !s[i].Contains(t) {
		return Code{}, false
	}
	return s[i].Code, true
}

// Validate checks the partition invariants: non-empty half-open intervals,
// strictly ordered, contiguous.
func (s Sequence) Validate() error {
	for i, iv := range s {
		if !iv.From.Before(iv.To) {
			return fmt.Errorf("qc: interval %d at %s is empty or inverted", i, iv.From.UTC().Format(time.RFC3339))
		}
		if i > 0 && !s[i-1].To.Equal(iv.From) {
			return fmt.Errorf("qc: discontinuity between interval %d and %d at %s", i-1, i, iv.From.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

// Coalesce merges adjacent intervals whose codes are equal. Every mutating
// pass ends with a coalesce so the output stays compact.
func (s *Sequence) Coalesce() {
	seq := *s
	if len(seq) < 2 {
		return
	}
	out := seq[:1]
	for _, iv := range seq[1:] {
		last := &out[len(out)-1]
		if last.Code.Equal(iv.Code) && last.To.Equal(iv.From) {
			last.To = iv.To
			continue
		}
		out = append(out, iv)
	}
	*s = out
}

// clamp restricts [from, to) to the sequence's covered range.
func (s Sequence) clamp(from, to time.Time) (time.Time, time.Time) {
	lo, hi := s.Span()
	if from.Before(lo) {
		from = lo
	}
	if to.After(hi) {
		to = hi
	}
	return from, to
}

// splitAt inserts a boundary at t when t falls strictly inside an interval.
func (s *Sequence) splitAt(t time.Time) {
	seq := *s
	i := sort.Search(len(seq), func(i int) bool { return seq[i].To.After(t) })
	if i >= len(seq) || !t.After(seq[i].From) || !t.Before(seq[i].To) {
		return
	}
	iv := seq[i]
	out := make(Sequence, 0, len(seq)+1)
	out = append(out, seq[:i]...)
	out = append(out, Interval{From: iv.From, To: t, Code: iv.Code})
	out = append(out, Interval{From: t, To: iv.To, Code: iv.Code})
	out = append(out, seq[i+1:]...)
	*s = out
}

// gapLocked reports whether a code marks confirmed missing data. Gap spans
// win every overlap: no later stamp may overwrite them.
func gapLocked(c Code) bool {
	return c.Tier == TierMissing && c.Has(ReasonGAP)
}

// Stamp overwrites [from, to) with c, splitting boundary intervals as
// needed. Spans already coded as gaps are preserved.
func (s *Sequence) Stamp(from, to time.Time, c Code) {
	from, to = s.clamp(from, to)
	if !from.Before(to) {
		return
	}
	s.splitAt(from)
	s.splitAt(to)
	seq := *s
	for i := range seq {
		iv := &seq[i]
		if iv.From.Before(from) || iv.To.After(to) {
			continue
		}
		if gapLocked(iv.Code) {
			continue
		}
		iv.Code = c
	}
}

// Tag adds reason r to every interval overlapping [from, to) without
// changing tiers.
func (s *Sequence) Tag(from, to time.Time, r Reason) {
	from, to = s.clamp(from, to)
	if !from.Before(to) {
		return
	}
	s.splitAt(from)
	s.splitAt(to)
	seq := *s
	for i := range seq {
		iv := &seq[i]
		if iv.From.Before(from) || iv.To.After(to) {
			continue
		}
		iv.Code = iv.Code.With(r)
	}
}

// Lower caps the tier over [from, to) at t, tagging r only where the cap
// actually lowered the tier. Reapplying the same cap is a no-op, so caps
// are idempotent. It reports whether anything changed.
func (s *Sequence) Lower(from, to time.Time, t Tier, r Reason) bool {
	from, to = s.clamp(from, to)
	if !from.Before(to) {
		return false
	}
	s.splitAt(from)
	s.splitAt(to)
	seq := *s
	changed := false
	for i := range seq {
		iv := &seq[i]
		if iv.From.Before(from) || iv.To.After(to) {
			continue
		}
		if TierRank(iv.Code.Tier) <= TierRank(t) {
			continue
		}
		iv.Code = Code{Tier: t, Reasons: iv.Code.Reasons}.With(r)
		changed = true
	}
	return changed
}

// Overlay combines s with a supplemental coded sequence instant by instant:
// the result tier is the minimum of the two, and spans where the
// supplemental tier was strictly lower are tagged with tag. Reasons from s
// are kept; the supplemental's reasons travel only through the tag. Parts
// of s the supplemental does not cover pass through unchanged.
func (s Sequence) Overlay(supp Sequence, tag Reason) Sequence {
	if len(s) == 0 {
		return nil
	}
	if len(supp) == 0 {
		out := make(Sequence, len(s))
		copy(out, s)
		return out
	}
	out := make(Sequence, 0, len(s)+len(supp))
	j := 0
	for _, iv := range s {
		cur := iv.From
		for cur.Before(iv.To) {
			for j < len(supp) && !supp[j].To.After(cur) {
				j++
			}
			if j >= len(supp) || !supp[j].From.Before(iv.To) {
				out = append(out, Interval{From: cur, To: iv.To, Code: iv.Code})
				cur = iv.To
				continue
			}
			if supp[j].From.After(cur) {
				out = append(out, Interval{From: cur, To: supp[j].From, Code: iv.Code})
				cur = supp[j].From
				continue
			}
			end := iv.To
			if supp[j].To.Before(end) {
				end = supp[j].To
			}
			code := iv.Code
			if TierRank(supp[j].Code.Tier) < TierRank(code.Tier) {
				code = Code{Tier: supp[j].Code.Tier, Reasons: code.Reasons}.With(tag)
			}
			out = append(out, Interval{From: cur, To: end, Code: code})
			cur = end
		}
	}
	out.Coalesce()
	return out
}
