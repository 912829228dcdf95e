package qc

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/zeebo/xxh3"
)

// Sample is one raw observation. A NaN value marks a hole in the record;
// regularization inserts NaN samples for cadence gaps so the screening
// passes can treat both the same way.
type Sample struct {
	At    time.Time
	Value float64
}

// Missing reports whether the sample is a hole.
func (s Sample) Missing() bool {
	return math.IsNaN(s.Value)
}

// Series is an ordered raw series with its measurement identity. Cadence is
// the expected sampling interval; zero means irregular (event-driven) data
// that is never regularized.
type Series struct {
	Site        string
	Measurement string
	Unit        string
	Cadence     time.Duration
	Samples     []Sample
}

// Validate checks structural soundness: identity present and timestamps
// strictly increasing.
func (s *Series) Validate() error {
	if s.Site == "" || s.Measurement == "" {
		return &SeriesError{Site: s.Site, Measurement: s.Measurement, Reason: "series identity incomplete"}
	}
	for i := 1; i < len(s.Samples); i++ {
		if !s.Samples[i].At.After(s.Samples[i-1].At) {
			return &SeriesError{
				Site:        s.Site,
				Measurement: s.Measurement,
				At:          s.Samples[i].At,
				Reason:      "samples not strictly increasing",
			}
		}
	}
	return nil
}

// Regularize inserts NaN samples wherever the gap between neighbours
// exceeds the cadence, so missing stretches become explicit holes. The grid
// re-anchors at every real sample, which tolerates slow clock drift in the
// logger. It returns the number of holes inserted. Irregular series are
// left untouched.
func (s *Series) Regularize() int {
	if s.Cadence <= 0 || len(s.Samples) < 2 {
		return 0
	}
	out := make([]Sample, 0, len(s.Samples))
	out = append(out, s.Samples[0])
	inserted := 0
	for _, smp := range s.Samples[1:] {
		prev := out[len(out)-1].At
		for next := prev.Add(s.Cadence); next.Before(smp.At); next = next.Add(s.Cadence) {
			out = append(out, Sample{At: next, Value: math.NaN()})
			inserted++
		}
		out = append(out, smp)
	}
	s.Samples = out
	return inserted
}

// NearestIndex returns the index of the sample closest in time to t, or -1
// for an empty series.
func (s *Series) NearestIndex(t time.Time) int {
	n := len(s.Samples)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return !s.Samples[i].At.Before(t) })
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	if s.Samples[i].At.Sub(t) < t.Sub(s.Samples[i-1].At) {
		return i
	}
	return i - 1
}

// CheckEvent is one field verification observation against the raw series.
type CheckEvent struct {
	At     time.Time
	Value  float64
	Source Source
	Note   string
}

// Hash64 returns a dedup hash over a fixed-layout buffer: minute-truncated
// time, value bits, source, site and measurement in fixed-width slots.
// Little-endian keeps the byte order deterministic across platforms.
func (c CheckEvent) Hash64(site, measurement string) uint64 {
	var buf [68]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.At.Truncate(time.Minute).Unix()))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(c.Value))
	writeFixedField(buf[16:20], string(c.Source))
	writeFixedField(buf[20:44], site)
	writeFixedField(buf[44:68], measurement)
	return xxh3.Hash(buf[:])
}

// writeFixedField copies s into dst, truncating or zero-padding to the slot
// width.
func writeFixedField(dst []byte, s string) {
	n := 0
	for i := 0; i < len(s) && n < len(dst); i++ {
		dst[n] = s[i]
		n++
	}
	for n < len(dst) {
		dst[n] = 0
		n++
	}
}

// DedupChecks sorts checks by time (ties by source then value) and drops
// exact repeats by hash. Repeated extraction of overlapping windows feeds
// the same inspection rows in more than once; the hash makes that harmless.
func DedupChecks(site, measurement string, checks []CheckEvent) []CheckEvent {
	if len(checks) == 0 {
		return nil
	}
	out := make([]CheckEvent, len(checks))
	copy(out, checks)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Value < out[j].Value
	})
	seen := make(map[uint64]struct{}, len(out))
	kept := out[:0]
	for _, c := range out {
		h := c.Hash64(site, measurement)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		kept = append(kept, c)
	}
	return kept
}

// ResolveCheckTies keeps one check per timestamp when several sources
// report the same instant: the source with the higher trust ceiling wins,
// ties broken by source token. Checks must already be sorted by time.
func ResolveCheckTies(checks []CheckEvent) []CheckEvent {
	if len(checks) < 2 {
		return checks
	}
	out := checks[:0]
	for _, c := range checks {
		if len(out) > 0 && out[len(out)-1].At.Equal(c.At) {
			last := out[len(out)-1]
			if TierRank(c.Source.TrustCeiling()) > TierRank(last.Source.TrustCeiling()) {
				out[len(out)-1] = c
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// VerifyCheckOrder enforces strictly increasing check timestamps. A
// violation is fatal: it means the extraction upstream merged or paged
// wrongly, and coding against it would attach codes to the wrong spans.
func VerifyCheckOrder(site, measurement string, checks []CheckEvent) error {
	for i := 1; i < len(checks); i++ {
		if !checks[i].At.After(checks[i-1].At) {
			return &OutOfOrderCheckError{
				Site:        site,
				Measurement: measurement,
				At:          checks[i].At,
				Previous:    checks[i-1].At,
			}
		}
	}
	return nil
}

// Request names one processing run: a site, a measurement and the half-open
// window [From, To) to code.
type Request struct {
	Site        string
	Measurement string
	From        time.Time
	To          time.Time
}

// Validate checks the request window and identity.
func (r Request) Validate() error {
	if r.Site == "" || r.Measurement == "" {
		return &SeriesError{Site: r.Site, Measurement: r.Measurement, Reason: "request identity incomplete"}
	}
	if !r.From.Before(r.To) {
		return &SeriesError{Site: r.Site, Measurement: r.Measurement, At: r.From, Reason: "request window empty or inverted"}
	}
	return nil
}
