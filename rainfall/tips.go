package rainfall

import (
	"fmt"
	"math"
	"sort"
	"time"

	"hydroqc/qc"
)

// Inspection is one site visit with the number of manual test tips the
// inspector reported firing.
type Inspection struct {
	Arrival    time.Time
	Departure  time.Time
	ManualTips int
	Weather    string
}

// runDurationLimit is how fast a run of tips must fire to be considered
// deliberate; rain does not tip this quickly.
const runDurationLimit = 20 * time.Second

// FilterManualTips zeroes tip events matching the manual tips logged
// during inspections, so test firings never count as rainfall. Visits
// where the removal is uncertain produce review issues; the tips are
// still removed when the run is clearly deliberate.
func FilterManualTips(site, measurement string, tips []qc.Sample, visits []Inspection) ([]qc.Sample, []qc.Issue) {
	out := append([]qc.Sample(nil), tips...)
	var issues []qc.Issue
	for _, v := range visits {
		issues = append(issues, filterVisit(site, measurement, out, v)...)
	}
	return out, issues
}

func filterVisit(site, measurement string, tips []qc.Sample, v Inspection) []qc.Issue {
	start := sort.Search(len(tips), func(i int) bool { return tips[i].At.After(v.Arrival) })
	end := sort.Search(len(tips), func(i int) bool { return !tips[i].At.Before(v.Departure) })
	window := tips[start:end]

	if v.ManualTips == 0 {
		return nil
	}
	if len(window) < v.ManualTips {
		// Fewer recorded events than reported tips: the logger was in
		// inspection mode and never saw them.
		return nil
	}

	dry := v.Weather == "Fine" || v.Weather == "Overcast"
	if dry && abs(v.ManualTips-len(window)) <= 1 {
		// Off by one is a miscount; everything in the window is manual.
		zeroValues(window)
		return nil
	}

	runStart, runDuration := densestRun(window, v.ManualTips)
	issue := qc.Issue{
		Kind:        qc.IssueManualTips,
		Site:        site,
		Measurement: measurement,
		At:          v.Arrival,
	}
	if dry {
		issue.Detail = "weather dry, but more tips recorded than manual tips reported"
		if runDuration < runDurationLimit {
			zeroValues(window[runStart : runStart+v.ManualTips])
		}
	} else {
		weather := v.Weather
		if weather == "" {
			weather = "unknown"
		}
		issue.Detail = fmt.Sprintf("inspection while weather is %s, verify removed tips were not real", weather)
		// Over thirty tips is a calibration run whatever the spacing.
		if runDuration < runDurationLimit || v.ManualTips > 30 {
			zeroValues(window[runStart : runStart+v.ManualTips])
		}
	}
	return []qc.Issue{issue}
}

// densestRun finds the tightest run of n consecutive events and returns
// its start offset and duration.
func densestRun(window []qc.Sample, n int) (int, time.Duration) {
	best := 0
	bestDur := time.Duration(math.MaxInt64)
	for i := 0; i+n <= len(window); i++ {
		d := window[i+n-1].At.Sub(window[i].At)
		if d < bestDur {
			best, bestDur = i, d
		}
	}
	return best, bestDur
}

func zeroValues(samples []qc.Sample) {
	for i := range samples {
		samples[i].Value = 0
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
