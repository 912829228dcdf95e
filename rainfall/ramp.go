package rainfall

import (
	"fmt"
	"math"
	"sort"
	"time"

	"hydroqc/qc"
)

// Check is one manual gauge reading aligned to the slot grid. Gauge is
// the measured total since the previous visit.
type Check struct {
	At    time.Time
	Gauge float64
	Note  string
}

// Span grades the stretch between two consecutive checks. Ratio is the
// gauge total divided by the recorded total; a span with nothing
// recorded carries an infinite or undefined ratio and grades 400.
type Span struct {
	From  time.Time
	To    time.Time
	Tier  qc.Tier
	Ratio float64
}

// Ramp scales six-minute totals so the recorder passes through the
// manual gauge readings, and grades each inter-check span by the
// scaling ratio: inside (0.9, 1.1) codes 600, anything else 400.
// Totals at or before the first check and after the last are zeroed;
// they have no gauge reading to verify against. Check times missing
// from the grid get zero slots inserted first.
func Ramp(sixMinute []qc.Sample, checks []Check) ([]qc.Sample, []Span, error) {
	for i := 1; i < len(checks); i++ {
		if !checks[i].At.After(checks[i-1].At) {
			return nil, nil, fmt.Errorf("rainfall: checks out of order at %s",
				checks[i].At.UTC().Format(time.RFC3339))
		}
	}
	grid := withZeroSlots(sixMinute, checks)
	if len(checks) == 0 {
		return grid, nil, nil
	}

	// Cumulative recorded total at each check time.
	recorded := make([]float64, len(checks))
	running := 0.0
	gi := 0
	for ci := range checks {
		for gi < len(grid) && !grid[gi].At.After(checks[ci].At) {
			if !grid[gi].Missing() {
				running += grid[gi].Value
			}
			gi++
		}
		recorded[ci] = running
	}

	ratios := make([]float64, len(checks))
	ratios[0] = math.NaN()
	spans := make([]Span, 0, len(checks)-1)
	for i := 1; i < len(checks); i++ {
		ratios[i] = checks[i].Gauge / (recorded[i] - recorded[i-1])
		tier := qc.TierFair
		if ratios[i] > 0.9 && ratios[i] < 1.1 {
			tier = qc.TierExcellent
		}
		spans = append(spans, Span{
			From:  checks[i-1].At,
			To:    checks[i].At,
			Tier:  tier,
			Ratio: ratios[i],
		})
	}

	ramped := make([]qc.Sample, len(grid))
	ci := 0
	for i, s := range grid {
		if s.Missing() {
			ramped[i] = s
			continue
		}
		for ci < len(checks) && checks[ci].At.Before(s.At) {
			ci++
		}
		m := 0.0
		if ci > 0 && ci < len(checks) {
			if r := ratios[ci]; !math.IsNaN(r) && !math.IsInf(r, 0) {
				m = r
			}
		}
		ramped[i] = qc.Sample{At: s.At, Value: s.Value * m}
	}
	return ramped, spans, nil
}

// withZeroSlots inserts a zero total wherever a check lands on a slot
// with no recorded tips.
func withZeroSlots(sixMinute []qc.Sample, checks []Check) []qc.Sample {
	out := append([]qc.Sample(nil), sixMinute...)
	for _, c := range checks {
		i := sort.Search(len(out), func(i int) bool { return !out[i].At.Before(c.At) })
		if i < len(out) && out[i].At.Equal(c.At) {
			continue
		}
		out = append(out, qc.Sample{})
		copy(out[i+1:], out[i:])
		out[i] = qc.Sample{At: c.At}
	}
	return out
}
