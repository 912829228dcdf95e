package qc

import "math"

// indexRun is a half-open run [start, end) of sample indexes.
type indexRun struct {
	start int
	end   int
}

// ewma computes an exponentially weighted moving average with normalized
// weights: each output is a weighted mean of every sample so far with
// weights decaying by (1 - alpha) per step. Inputs must not contain NaN.
func ewma(values []float64, span int) []float64 {
	if span < 1 {
		span = 1
	}
	alpha := 2.0 / (float64(span) + 1.0)
	decay := 1.0 - alpha
	out := make([]float64, len(values))
	num, den := 0.0, 0.0
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// fbewma averages a forward and a backward EWMA. The two one-sided
// averages lag in opposite directions, so their mean tracks the signal
// through ramps without the lag a single pass would show.
func fbewma(values []float64, span int) []float64 {
	n := len(values)
	fwd := ewma(values, span)
	rev := make([]float64, n)
	for i, v := range values {
		rev[n-1-i] = v
	}
	bwd := ewma(rev, span)
	out := make([]float64, n)
	for i := range out {
		out[i] = (fwd[i] + bwd[n-1-i]) / 2
	}
	return out
}

// bridgeGaps returns a copy with interior NaN runs linearly interpolated
// and boundary NaN runs held at the nearest real value, so the smoother
// has a defined input everywhere. A series with no real values comes back
// unchanged.
func bridgeGaps(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	first, last := -1, -1
	for i, v := range out {
		if !math.IsNaN(v) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return out
	}
	for i := 0; i < first; i++ {
		out[i] = out[first]
	}
	for i := last + 1; i < len(out); i++ {
		out[i] = out[last]
	}
	i := first
	for i <= last {
		if !math.IsNaN(out[i]) {
			i++
			continue
		}
		j := i
		for math.IsNaN(out[j]) {
			j++
		}
		lo, hi := out[i-1], out[j]
		for k := i; k < j; k++ {
			frac := float64(k-i+1) / float64(j-i+1)
			out[k] = lo + (hi-lo)*frac
		}
		i = j
	}
	return out
}

// findSpikes returns the indexes of samples that stray further than delta
// from the forward-backward EWMA of the series. Holes never count as
// spikes.
func findSpikes(values []float64, span int, delta float64) []int {
	if delta <= 0 || len(values) == 0 {
		return nil
	}
	smooth := fbewma(bridgeGaps(values), span)
	var spikes []int
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.Abs(v-smooth[i]) > delta {
			spikes = append(spikes, i)
		}
	}
	return spikes
}

// findFlatlines returns runs of at least minRun identical consecutive
// values. Holes break a run. Loggers repeat the last good reading when a
// sensor wedges, so exact equality is the signal.
func findFlatlines(values []float64, minRun int) []indexRun {
	if minRun < 2 || len(values) == 0 {
		return nil
	}
	var runs []indexRun
	start := 0
	for i := 1; i <= len(values); i++ {
		if i < len(values) && !math.IsNaN(values[i]) && !math.IsNaN(values[start]) && values[i] == values[start] {
			continue
		}
		if !math.IsNaN(values[start]) && i-start >= minRun {
			runs = append(runs, indexRun{start: start, end: i})
		}
		start = i
	}
	return runs
}
