package export

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"hydroqc/qc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is the JSON rendering of one coded run.
type Report struct {
	Site        string           `json:"site"`
	Measurement string           `json:"measurement"`
	Unit        string           `json:"unit,omitempty"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	GeneratedAt time.Time        `json:"generated_at"`
	Intervals   []IntervalReport `json:"intervals"`
	Issues      []IssueReport    `json:"issues,omitempty"`
	Stats       StatsReport      `json:"stats"`
}

// IntervalReport is one coded span with its human label.
type IntervalReport struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Tier    int       `json:"tier"`
	Reasons []string  `json:"reasons,omitempty"`
	Label   string    `json:"label"`
}

// IssueReport is one review issue raised during the run.
type IssueReport struct {
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// StatsReport mirrors the run statistics.
type StatsReport struct {
	SamplesIn     int   `json:"samples_in"`
	HolesInserted int   `json:"holes_inserted"`
	Clipped       int   `json:"clipped"`
	SpikesRemoved int   `json:"spikes_removed"`
	FlatlineRuns  int   `json:"flatline_runs"`
	GapsCoded     int   `json:"gaps_coded"`
	Interpolated  int   `json:"interpolated"`
	ChecksIn      int   `json:"checks_in"`
	ChecksApplied int   `json:"checks_applied"`
	ChecksSkipped int   `json:"checks_skipped"`
	Decays        int   `json:"decays"`
	OverlaySpans  int   `json:"overlay_spans"`
	CappedSpans   int   `json:"capped_spans"`
	Intervals     int   `json:"intervals"`
	ElapsedMS     int64 `json:"elapsed_ms"`
}

// BuildReport assembles the JSON report structure for one result.
func BuildReport(res *qc.Result) Report {
	rep := Report{
		Site:        res.Request.Site,
		Measurement: res.Request.Measurement,
		From:        res.Request.From.UTC(),
		To:          res.Request.To.UTC(),
		GeneratedAt: time.Now().UTC(),
		Intervals:   make([]IntervalReport, 0, len(res.Intervals)),
		Stats:       buildStats(res.Stats),
	}
	if res.Series != nil {
		rep.Unit = res.Series.Unit
	}
	for _, iv := range res.Intervals {
		reasons := make([]string, 0, len(iv.Code.Reasons))
		for _, r := range iv.Code.Reasons {
			reasons = append(reasons, string(r))
		}
		rep.Intervals = append(rep.Intervals, IntervalReport{
			From:    iv.From.UTC(),
			To:      iv.To.UTC(),
			Tier:    int(iv.Code.Tier),
			Reasons: reasons,
			Label:   qc.Describe(iv.Code),
		})
	}
	for _, iss := range res.Issues {
		rep.Issues = append(rep.Issues, IssueReport{
			Kind:   string(iss.Kind),
			At:     iss.At.UTC(),
			Detail: iss.Detail,
		})
	}
	return rep
}

// WriteReport renders the JSON report for one result.
func WriteReport(w io.Writer, res *qc.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(BuildReport(res)); err != nil {
		return fmt.Errorf("export: encode report: %w", err)
	}
	return nil
}

func buildStats(s qc.Stats) StatsReport {
	return StatsReport{
		SamplesIn:     s.SamplesIn,
		HolesInserted: s.HolesInserted,
		Clipped:       s.Clipped,
		SpikesRemoved: s.SpikesRemoved,
		FlatlineRuns:  s.FlatlineRuns,
		GapsCoded:     s.GapsCoded,
		Interpolated:  s.Interpolated,
		ChecksIn:      s.ChecksIn,
		ChecksApplied: s.ChecksApplied,
		ChecksSkipped: s.ChecksSkipped,
		Decays:        s.Decays,
		OverlaySpans:  s.OverlaySpans,
		CappedSpans:   s.CappedSpans,
		Intervals:     s.Intervals,
		ElapsedMS:     s.Elapsed.Milliseconds(),
	}
}
