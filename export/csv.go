package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"hydroqc/qc"
)

// WriteCSV renders the run as the familiar spreadsheet layout: one row
// per instant with the standard value, the governing quality tier and
// any check value taken then.
func WriteCSV(w io.Writer, res *qc.Result, checks []qc.CheckEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "standard", "quality", "check"}); err != nil {
		return fmt.Errorf("export: csv header: %w", err)
	}

	var samples []qc.Sample
	if res.Series != nil {
		samples = res.Series.Samples
	}
	si, ci := 0, 0
	for si < len(samples) || ci < len(checks) {
		var at time.Time
		switch {
		case ci >= len(checks):
			at = samples[si].At
		case si >= len(samples):
			at = checks[ci].At
		case samples[si].At.Before(checks[ci].At):
			at = samples[si].At
		default:
			at = checks[ci].At
		}

		row := []string{at.UTC().Format(calendarLayout), "", "", ""}
		if si < len(samples) && samples[si].At.Equal(at) {
			if !samples[si].Missing() {
				row[1] = formatValue(samples[si].Value)
			}
			si++
		}
		if code, ok := res.Intervals.CodeAt(at); ok {
			row[2] = strconv.Itoa(int(code.Tier))
		}
		if ci < len(checks) && checks[ci].At.Equal(at) {
			row[3] = formatValue(checks[ci].Value)
			ci++
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
