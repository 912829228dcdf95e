package qc

import (
	"fmt"
	"math"
)

// overlay is the fifth pass: fold in supplemental coded sequences from the
// measurements this one depends on, then cap spans whose values sit above
// the value-cap threshold. Dissolved oxygen is the driving case: its code
// can never exceed the codes of the pressure and temperature series it was
// computed from, and supersaturated stretches are capped outright.
func (r *run) overlay(overlays []OverlayInput) {
	for _, ov := range overlays {
		if len(ov.Seq) == 0 {
			continue
		}
		before := len(r.seq)
		r.seq = r.seq.Overlay(ov.Seq, ov.Tag)
		from, to := ov.Seq.Span()
		r.decide("overlay", from, from, to, 0, []Reason{ov.Tag},
			fmt.Sprintf("supplemental overlay, %d intervals in, %d out", before, len(r.seq)))
	}
	r.valueCap()
}

// valueCap lowers the tier over runs of samples above the configured
// threshold.
func (r *run) valueCap() {
	if math.IsNaN(r.pol.ValueCapThreshold) || len(r.series.Samples) == 0 {
		return
	}
	samples := r.series.Samples
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		from, to := r.spanStart(start), r.spanEnd(end)
		if r.seq.Lower(from, to, r.pol.ValueCapTier, ReasonCAP) {
			r.decide("overlay", from, from, to, r.pol.ValueCapTier, []Reason{ReasonCAP},
				fmt.Sprintf("values above %g", r.pol.ValueCapThreshold))
		}
		start = -1
	}
	for i, s := range samples {
		if !s.Missing() && s.Value > r.pol.ValueCapThreshold {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(samples))
}
