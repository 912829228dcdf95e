package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"hydroqc/qc"
)

// calendarLayout is the Calendar date format Hilltop documents carry.
const calendarLayout = "2006-01-02T15:04:05"

// The marshal shapes mirror the documents a Hilltop server emits, so an
// exported file reads back through the same client that fetched the
// inputs.
type hilltopDoc struct {
	XMLName      xml.Name          `xml:"Hilltop"`
	Agency       string            `xml:"Agency,omitempty"`
	Measurements []measurementBlob `xml:"Measurement"`
}

type measurementBlob struct {
	SiteName   string         `xml:"SiteName,attr"`
	DataSource dataSourceBlob `xml:"DataSource"`
	Data       dataBlob       `xml:"Data"`
}

type dataSourceBlob struct {
	Name          string     `xml:"Name,attr"`
	NumItems      int        `xml:"NumItems,attr"`
	TSType        string     `xml:"TSType"`
	DataType      string     `xml:"DataType"`
	Interpolation string     `xml:"Interpolation"`
	Items         []itemBlob `xml:"ItemInfo,omitempty"`
}

type itemBlob struct {
	Number int    `xml:"ItemNumber,attr"`
	Name   string `xml:"ItemName"`
	Units  string `xml:"Units,omitempty"`
	Format string `xml:"Format,omitempty"`
}

type dataBlob struct {
	DateFormat string      `xml:"DateFormat,attr"`
	NumItems   int         `xml:"NumItems,attr"`
	Events     []eventBlob `xml:"E"`
}

type eventBlob struct {
	T  string `xml:"T"`
	I1 string `xml:"I1,omitempty"`
	I2 string `xml:"I2,omitempty"`
	I3 string `xml:"I3,omitempty"`
}

// WriteXML renders one coded run as a Hilltop document: the processed
// standard series, the check events that verified it, and the quality
// series closed by a zero code at the window end.
func WriteXML(w io.Writer, res *qc.Result, checks []qc.CheckEvent, agency string) error {
	doc := hilltopDoc{Agency: agency}
	site := res.Request.Site
	measurement := res.Request.Measurement

	if res.Series != nil && len(res.Series.Samples) > 0 {
		doc.Measurements = append(doc.Measurements, standardBlob(site, measurement, res.Series))
	}
	if len(checks) > 0 {
		doc.Measurements = append(doc.Measurements, checkBlob(site, measurement, checks))
	}
	if len(res.Intervals) > 0 {
		doc.Measurements = append(doc.Measurements, qualityBlob(site, measurement, res.Intervals))
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("export: write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode xml: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return nil
}

// standardBlob renders the processed samples. Remaining missing values
// are confirmed gaps; they are left out and the quality series carries
// the gap code over them.
func standardBlob(site, measurement string, series *qc.Series) measurementBlob {
	events := make([]eventBlob, 0, len(series.Samples))
	for _, sample := range series.Samples {
		if sample.Missing() {
			continue
		}
		events = append(events, eventBlob{
			T:  sample.At.UTC().Format(calendarLayout),
			I1: formatValue(sample.Value),
		})
	}
	return measurementBlob{
		SiteName: site,
		DataSource: dataSourceBlob{
			Name:          measurement,
			NumItems:      1,
			TSType:        "StdSeries",
			DataType:      "SimpleTimeSeries",
			Interpolation: "Instant",
			Items: []itemBlob{{
				Number: 1,
				Name:   measurement,
				Units:  series.Unit,
				Format: "####.###",
			}},
		},
		Data: dataBlob{DateFormat: "Calendar", NumItems: 1, Events: events},
	}
}

// checkBlob renders the verification events: item 1 the checked value,
// item 2 the recorder time of the visit, item 3 the field comment.
func checkBlob(site, measurement string, checks []qc.CheckEvent) measurementBlob {
	events := make([]eventBlob, 0, len(checks))
	for _, check := range checks {
		at := check.At.UTC().Format(calendarLayout)
		events = append(events, eventBlob{
			T:  at,
			I1: formatValue(check.Value),
			I2: at,
			I3: check.Note,
		})
	}
	return measurementBlob{
		SiteName: site,
		DataSource: dataSourceBlob{
			Name:          measurement + " Check",
			NumItems:      3,
			TSType:        "CheckSeries",
			DataType:      "SimpleTimeSeries",
			Interpolation: "Discrete",
			Items: []itemBlob{
				{Number: 1, Name: measurement, Format: "####.###"},
				{Number: 2, Name: "Recorder Time", Format: "###"},
				{Number: 3, Name: "Comment", Format: "###"},
			},
		},
		Data: dataBlob{DateFormat: "Calendar", NumItems: 3, Events: events},
	}
}

// qualityBlob renders the coded intervals as a stepped quality series
// with the conventional zero code closing the window.
func qualityBlob(site, measurement string, seq qc.Sequence) measurementBlob {
	events := make([]eventBlob, 0, len(seq)+1)
	for _, iv := range seq {
		events = append(events, eventBlob{
			T:  iv.From.UTC().Format(calendarLayout),
			I1: strconv.Itoa(int(iv.Code.Tier)),
		})
	}
	_, to := seq.Span()
	events = append(events, eventBlob{T: to.UTC().Format(calendarLayout), I1: "0"})
	return measurementBlob{
		SiteName: site,
		DataSource: dataSourceBlob{
			Name:          measurement,
			NumItems:      1,
			TSType:        "StdQualSeries",
			DataType:      "SimpleTimeSeries",
			Interpolation: "Event",
		},
		Data: dataBlob{DateFormat: "Calendar", NumItems: 1, Events: events},
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
