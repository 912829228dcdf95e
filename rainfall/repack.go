// Package rainfall implements the measurement-specific coding path for
// tipping-bucket rain gauges. Tip events are repacked onto a six-minute
// grid, scaled through the manual gauge readings taken at inspections,
// and graded from the scaling ratio plus the NEMS points deductions for
// inspection age and site survey findings. The graded spans feed the
// engine as an overlay; gap and cap handling stay with the engine.
package rainfall

import (
	"math"
	"sort"
	"time"

	"hydroqc/qc"
)

// Slot is the repacking grid interval.
const Slot = 6 * time.Minute

// RoundToSlot rounds t to the nearest six-minute mark. Halfway values
// round up.
func RoundToSlot(t time.Time) time.Time {
	return t.Round(Slot)
}

// Repack converts logger tip events into six-minute slot totals. A tip
// is split between the slots it straddles: across a quiet stretch the
// split is by position inside the slot, and within a burst by the time
// since the previous tip. Split parts are rounded to whole units so
// totals stay in the recorded integer unit; a burst tip landing in the
// previous tip's slot is carried whole into the next one.
func Repack(tips []qc.Sample) []qc.Sample {
	totals := make(map[int64]float64, len(tips))
	var prevAt, prevFloor time.Time
	seen := false
	for _, tip := range tips {
		if tip.Missing() {
			continue
		}
		floor := tip.At.Truncate(Slot)
		ceil := floor
		if !floor.Equal(tip.At) {
			ceil = floor.Add(Slot)
		}
		burst := seen && tip.At.Sub(prevAt) < Slot
		switch {
		case !burst:
			frac := float64(tip.At.Sub(floor)) / float64(Slot)
			totals[ceil.Unix()] += math.Round(tip.Value * frac)
			totals[floor.Unix()] += math.Round(tip.Value * (1 - frac))
		case floor.Equal(prevFloor):
			totals[ceil.Unix()] += tip.Value
		default:
			frac := float64(tip.At.Sub(floor)) / float64(tip.At.Sub(prevAt))
			totals[ceil.Unix()] += math.Round(tip.Value * frac)
			totals[floor.Unix()] += math.Round(tip.Value * (1 - frac))
		}
		prevAt, prevFloor = tip.At, floor
		seen = true
	}

	out := make([]qc.Sample, 0, len(totals))
	for sec, v := range totals {
		out = append(out, qc.Sample{At: time.Unix(sec, 0).UTC(), Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
