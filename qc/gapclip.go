package qc

import "math"

// gapClip is the first pass: regularize the series onto its cadence grid,
// cap values outside the plausibility bounds, then code the missing runs.
func (r *run) gapClip() {
	r.stats.SamplesIn = len(r.series.Samples)
	r.stats.HolesInserted = r.series.Regularize()
	r.clip()
	r.codeGaps()
}

// clip caps out-of-bound values at the bound and records the runs for CAP
// tagging after reconciliation.
func (r *run) clip() {
	if !r.pol.clipEnabled() {
		return
	}
	samples := r.series.Samples
	start := -1
	for i := range samples {
		v := samples[i].Value
		capped := false
		switch {
		case math.IsNaN(v):
		case v < r.pol.LowClip:
			samples[i].Value = r.pol.LowClip
			capped = true
		case v > r.pol.HighClip:
			samples[i].Value = r.pol.HighClip
			capped = true
		}
		if capped {
			r.stats.Clipped++
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			r.clipped = append(r.clipped, indexRun{start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		r.clipped = append(r.clipped, indexRun{start: start, end: len(samples)})
	}
}

// codeGaps walks the missing runs: runs longer than the gap limit (and
// runs touching a series edge, which have no anchor to interpolate from)
// are stamped as gaps; short interior runs are filled linearly and
// recorded for SYN marking. The pass also stamps the uncovered head and
// tail of the request window. It is idempotent, so the spike pass can call
// it again after removals.
func (r *run) codeGaps() {
	if r.gapRuns == nil {
		r.gapRuns = make(map[int]int)
	}
	gap := NewCode(TierMissing, ReasonGAP)
	samples := r.series.Samples
	if len(samples) == 0 {
		if !r.edgesCoded {
			r.seq.Stamp(r.req.From, r.req.To, gap)
			r.decide("gapclip", r.req.From, r.req.From, r.req.To, TierMissing, []Reason{ReasonGAP}, "no samples in window")
			r.edgesCoded = true
		}
		return
	}

	i := 0
	for i < len(samples) {
		if !samples[i].Missing() {
			i++
			continue
		}
		j := i
		for j < len(samples) && samples[j].Missing() {
			j++
		}
		edge := i == 0 || j == len(samples)
		if edge || j-i > r.pol.GapLimit {
			from, to := r.spanStart(i), r.spanEnd(j)
			r.seq.Stamp(from, to, gap)
			if r.gapRuns[i] != j {
				r.decide("gapclip", from, from, to, TierMissing, []Reason{ReasonGAP}, "missing run over limit")
				r.gapRuns[i] = j
			}
		} else {
			r.fill(i, j)
		}
		i = j
	}

	// Uncovered head and tail of the request window.
	if r.edgesCoded {
		return
	}
	r.edgesCoded = true
	if first := samples[0].At; first.After(r.req.From) {
		r.seq.Stamp(r.req.From, first, gap)
		r.decide("gapclip", r.req.From, r.req.From, first, TierMissing, []Reason{ReasonGAP}, "window starts before record")
	}
	covered := samples[len(samples)-1].At
	if r.series.Cadence > 0 {
		covered = covered.Add(r.series.Cadence)
	}
	if covered.Before(r.req.To) {
		r.seq.Stamp(covered, r.req.To, gap)
		r.decide("gapclip", covered, covered, r.req.To, TierMissing, []Reason{ReasonGAP}, "record ends before window")
	}
}

// fill interpolates the interior missing run [i, j) between its real
// neighbours and records it for SYN marking.
func (r *run) fill(i, j int) {
	samples := r.series.Samples
	lo, hi := samples[i-1].Value, samples[j].Value
	steps := float64(j - i + 1)
	for k := i; k < j; k++ {
		samples[k].Value = lo + (hi-lo)*float64(k-i+1)/steps
	}
	r.filled = append(r.filled, indexRun{start: i, end: j})
	r.stats.Interpolated += j - i
}
