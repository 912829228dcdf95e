package hilltop

import (
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"hydroqc/qc"
)

// dataResponse mirrors a GetData payload. Servers report problems inline
// through an Error element rather than HTTP status codes.
type dataResponse struct {
	XMLName      xml.Name         `xml:"Hilltop"`
	Agency       string           `xml:"Agency"`
	Error        string           `xml:"Error"`
	Measurements []measurementXML `xml:"Measurement"`
}

type measurementXML struct {
	SiteName   string        `xml:"SiteName,attr"`
	DataSource dataSourceXML `xml:"DataSource"`
	Data       dataXML       `xml:"Data"`
}

type dataSourceXML struct {
	Name          string        `xml:"Name,attr"`
	NumItems      int           `xml:"NumItems,attr"`
	TSType        string        `xml:"TSType"`
	DataType      string        `xml:"DataType"`
	Interpolation string        `xml:"Interpolation"`
	Items         []itemInfoXML `xml:"ItemInfo"`
}

type itemInfoXML struct {
	Number   int    `xml:"ItemNumber,attr"`
	ItemName string `xml:"ItemName"`
	Units    string `xml:"Units"`
	Format   string `xml:"Format"`
}

type dataXML struct {
	DateFormat string     `xml:"DateFormat,attr"`
	NumItems   int        `xml:"NumItems,attr"`
	Events     []eventXML `xml:"E"`
}

type eventXML struct {
	T  string `xml:"T"`
	I1 string `xml:"I1"`
	I2 string `xml:"I2"`
	I3 string `xml:"I3"`
}

// serverResponse mirrors SiteList and MeasurementList payloads, which use
// a HilltopServer root instead of Hilltop.
type serverResponse struct {
	XMLName     xml.Name    `xml:"HilltopServer"`
	Agency      string      `xml:"Agency"`
	Error       string      `xml:"Error"`
	Sites       []namedXML  `xml:"Site"`
	DataSources []dsListXML `xml:"DataSource"`
}

type namedXML struct {
	Name string `xml:"Name,attr"`
}

type dsListXML struct {
	Name         string     `xml:"Name,attr"`
	Site         string     `xml:"Site,attr"`
	Measurements []namedXML `xml:"Measurement"`
}

// QualityPoint is one step of an existing coded trace: Tier applies from
// At until the next point.
type QualityPoint struct {
	At   time.Time
	Tier qc.Tier
}

// LastQuality returns the latest step start in a coded trace, which is
// where a previous run stopped coding.
func LastQuality(points []QualityPoint) (time.Time, bool) {
	var last time.Time
	for _, p := range points {
		if p.At.After(last) {
			last = p.At
		}
	}
	return last, !last.IsZero()
}

// QualitySequence converts quality steps into half-open coded intervals
// ending at to, the shape the overlay pass consumes. Steps at or past
// to carry no width and are dropped.
func QualitySequence(points []QualityPoint, to time.Time) qc.Sequence {
	var seq qc.Sequence
	for i, p := range points {
		end := to
		if i+1 < len(points) && points[i+1].At.Before(to) {
			end = points[i+1].At
		}
		if !end.After(p.At) {
			continue
		}
		seq = append(seq, qc.Interval{From: p.At, To: end, Code: qc.NewCode(p.Tier)})
	}
	seq.Coalesce()
	return seq
}

// toSeries converts a Standard payload into a raw series. The cadence is
// not carried on the wire; callers set it from configuration. Values that
// do not parse become holes.
func (m measurementXML) toSeries(site, measurement string) (*qc.Series, error) {
	s := &qc.Series{
		Site:        firstNonEmpty(m.SiteName, site),
		Measurement: firstNonEmpty(m.DataSource.Name, measurement),
	}
	for _, item := range m.DataSource.Items {
		if item.Number == 1 || len(m.DataSource.Items) == 1 {
			s.Unit = item.Units
		}
	}
	s.Samples = make([]qc.Sample, 0, len(m.Data.Events))
	for _, ev := range m.Data.Events {
		at, err := parseEventTime(m.Data.DateFormat, ev.T)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(ev.I1), 64)
		if err != nil {
			v = math.NaN()
		}
		s.Samples = append(s.Samples, qc.Sample{At: at, Value: v})
	}
	sort.SliceStable(s.Samples, func(i, j int) bool { return s.Samples[i].At.Before(s.Samples[j].At) })
	return s, nil
}

// toChecks converts a Check payload into check events. The comment rides
// in the last populated item slot when the data source carries more than
// the value column.
func (m measurementXML) toChecks() ([]qc.CheckEvent, error) {
	checks := make([]qc.CheckEvent, 0, len(m.Data.Events))
	for _, ev := range m.Data.Events {
		at, err := parseEventTime(m.Data.DateFormat, ev.T)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(ev.I1), 64)
		if err != nil {
			continue
		}
		checks = append(checks, qc.CheckEvent{
			At:     at,
			Value:  v,
			Source: qc.SourceHilltop,
			Note:   firstNonEmpty(strings.TrimSpace(ev.I3), strings.TrimSpace(ev.I2)),
		})
	}
	return checks, nil
}

// toQuality converts a Quality payload into tier steps. Off-ladder codes
// are an error rather than a skip so a corrupt trace is never silently
// thinned.
func (m measurementXML) toQuality() ([]QualityPoint, error) {
	points := make([]QualityPoint, 0, len(m.Data.Events))
	for _, ev := range m.Data.Events {
		at, err := parseEventTime(m.Data.DateFormat, ev.T)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(ev.I1), 64)
		if err != nil {
			return nil, fmt.Errorf("hilltop: bad quality code %q", ev.I1)
		}
		tier, err := qc.ParseTier(int(v))
		if err != nil {
			return nil, err
		}
		points = append(points, QualityPoint{At: at, Tier: tier})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
	return points, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
