package qc

import (
	"fmt"
	"math"
)

// spikeFlatline is the second pass: remove samples that stray from the
// forward-backward EWMA, hand the holes back to gap handling, then flag
// identical-value runs. Flatlines assign nothing themselves; the
// reconciliation pass treats checks landing on them as unverifiable.
func (r *run) spikeFlatline() {
	if r.pol.SpikeDelta > 0 && len(r.series.Samples) > 0 {
		spikes := findSpikes(r.sampleValues(), r.pol.SpikeSpan, r.pol.SpikeDelta)
		for _, idx := range spikes {
			r.series.Samples[idx].Value = math.NaN()
		}
		r.stats.SpikesRemoved += len(spikes)
		r.reportSpikeBursts(spikes)
		if len(spikes) > 0 {
			r.codeGaps()
		}
	}

	if r.pol.FlatlineRun >= 2 {
		r.flats = findFlatlines(r.sampleValues(), r.pol.FlatlineRun)
		r.stats.FlatlineRuns = len(r.flats)
		for _, fr := range r.flats {
			v := r.series.Samples[fr.start].Value
			r.issue(IssueFlatline, r.spanStart(fr.start),
				fmt.Sprintf("value %g held for %d samples", v, fr.end-fr.start))
		}
	}
}

// reportSpikeBursts raises an issue when consecutive spike removals form a
// run the gap limit cannot absorb: that span is about to become a coded
// gap, which usually means the sensor failed rather than glitched.
func (r *run) reportSpikeBursts(spikes []int) {
	if len(spikes) == 0 {
		return
	}
	start := 0
	for i := 1; i <= len(spikes); i++ {
		if i < len(spikes) && spikes[i] == spikes[i-1]+1 {
			continue
		}
		if n := i - start; n > r.pol.GapLimit {
			r.issue(IssueSpikeBurst, r.spanStart(spikes[start]),
				fmt.Sprintf("%d consecutive samples removed as spikes", n))
		}
		start = i
	}
}

// inFlatline reports whether sample index i falls in a flagged run.
func (r *run) inFlatline(i int) bool {
	for _, fr := range r.flats {
		if i >= fr.start && i < fr.end {
			return true
		}
	}
	return false
}
