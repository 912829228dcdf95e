package qc

import "time"

// Engine runs the coding pipeline. One engine serves many runs; it carries
// only the journal and the clock, so it is safe for concurrent use.
type Engine struct {
	journal Journal
	now     func() time.Time
}

// Options configures an Engine. Zero values mean no journal and the wall
// clock.
type Options struct {
	Journal Journal
	Now     func() time.Time
}

// NewEngine constructs an engine.
func NewEngine(opts Options) *Engine {
	j := opts.Journal
	if j == nil {
		j = noopJournal{}
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{journal: j, now: now}
}

// Input is everything one run needs: the request window, the fetched raw
// series, the extracted checks, the compiled policy and any supplemental
// coded sequences to overlay.
//
// Graded, when non-empty, replaces check reconciliation outright: families
// graded outside the deviation ladder (rainfall accumulation ratios) hand
// in their verification partition and the engine stamps it as-is, leaving
// uncovered stretches unverified.
type Input struct {
	Request  Request
	Series   *Series
	Checks   []CheckEvent
	Graded   Sequence
	Policy   Policy
	Overlays []OverlayInput
}

// OverlayInput is a supplemental coded sequence plus the reason tagged onto
// spans it governs.
type OverlayInput struct {
	Seq Sequence
	Tag Reason
}

// Stats summarizes one run.
type Stats struct {
	SamplesIn     int
	HolesInserted int
	Clipped       int
	SpikesRemoved int
	FlatlineRuns  int
	GapsCoded     int
	Interpolated  int
	ChecksIn      int
	ChecksApplied int
	ChecksSkipped int
	Decays        int
	OverlaySpans  int
	CappedSpans   int
	Intervals     int
	Elapsed       time.Duration
}

// Result is the coded output of one run. Series is the processed standard
// series: clipped values capped, spikes removed, small gaps filled.
type Result struct {
	Request   Request
	Intervals Sequence
	Issues    []Issue
	Stats     Stats
	Series    *Series
}

// appliedCheck remembers a reconciled check for the decay pass.
type appliedCheck struct {
	at   time.Time
	tier Tier
}

// run carries the state of one pipeline execution.
type run struct {
	e       *Engine
	req     Request
	pol     Policy
	series  *Series
	checks  []CheckEvent
	graded  Sequence
	seq     Sequence
	issues  []Issue
	stats   Stats
	applied []appliedCheck
	filled  []indexRun
	clipped []indexRun
	flats   []indexRun

	// codeGaps runs once per screening pass; these keep the second entry
	// from re-journaling spans the first already coded.
	gapRuns    map[int]int
	edgesCoded bool
}

// Process executes the pipeline for one input. The pass order is fixed:
// gap and clip screening, spike and flatline screening, check
// reconciliation, staleness decay, edit annotation, overlays, site cap.
// The input series is modified in place and returned in Result.Series.
func (e *Engine) Process(in Input) (*Result, error) {
	started := e.now()
	if err := in.Request.Validate(); err != nil {
		return nil, err
	}
	pol := in.Policy.normalized()
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	ser := in.Series
	if ser == nil {
		ser = &Series{Site: in.Request.Site, Measurement: in.Request.Measurement}
	}
	if err := ser.Validate(); err != nil {
		return nil, err
	}

	r := &run{
		e:      e,
		req:    in.Request,
		pol:    pol,
		series: ser,
		checks: in.Checks,
		graded: in.Graded,
		seq:    NewSequence(in.Request.From, in.Request.To),
	}
	r.gapClip()
	r.spikeFlatline()
	if err := r.reconcile(); err != nil {
		return nil, err
	}
	r.decay()
	r.annotateEdits()
	r.overlay(in.Overlays)
	r.siteCap()
	r.finalize(started)

	return &Result{
		Request:   r.req,
		Intervals: r.seq,
		Issues:    r.issues,
		Stats:     r.stats,
		Series:    r.series,
	}, nil
}

// spanStart returns the instant sample i starts covering.
func (r *run) spanStart(i int) time.Time {
	return r.series.Samples[i].At
}

// spanEnd returns the first instant after the run ending at index end
// (exclusive). A run touching the end of the series covers through the
// request end.
func (r *run) spanEnd(end int) time.Time {
	if end < len(r.series.Samples) {
		return r.series.Samples[end].At
	}
	return r.req.To
}

func (r *run) issue(kind IssueKind, at time.Time, detail string) {
	iss := Issue{
		Kind:        kind,
		Site:        r.req.Site,
		Measurement: r.req.Measurement,
		At:          at,
		Detail:      detail,
	}
	r.issues = append(r.issues, iss)
	r.e.journal.Issue(iss)
}

func (r *run) decide(pass string, at, from, to time.Time, tier Tier, reasons []Reason, detail string) {
	r.e.journal.Decision(Decision{
		Pass:        pass,
		Site:        r.req.Site,
		Measurement: r.req.Measurement,
		At:          at,
		From:        from,
		To:          to,
		Tier:        tier,
		Reasons:     reasons,
		Detail:      detail,
	})
}

// annotateEdits applies the data-edit annotations recorded by the
// screening passes. They land after reconciliation on purpose: check
// stamping overwrites whole spans, and a synthetic or clipped mark must
// survive the check that covers it.
func (r *run) annotateEdits() {
	for _, fr := range r.filled {
		from, to := r.spanStart(fr.start), r.spanEnd(fr.end)
		changed := r.seq.Lower(from, to, TierSynthetic, ReasonSYN)
		r.seq.Tag(from, to, ReasonSYN)
		if changed {
			r.decide("edits", from, from, to, TierSynthetic, []Reason{ReasonSYN}, "interpolated fill")
		}
	}
	for _, cr := range r.clipped {
		from, to := r.spanStart(cr.start), r.spanEnd(cr.end)
		r.seq.Tag(from, to, ReasonCAP)
		r.decide("edits", from, from, to, 0, []Reason{ReasonCAP}, "value clipped to bound")
	}
}

// siteCap applies the per-site ceiling. Reapplication changes nothing, so
// the pass is idempotent.
func (r *run) siteCap() {
	if r.pol.Cap == 0 {
		return
	}
	if r.seq.Lower(r.req.From, r.req.To, r.pol.Cap, ReasonLIM) {
		r.stats.CappedSpans++
		r.decide("sitecap", r.req.From, r.req.From, r.req.To, r.pol.Cap, []Reason{ReasonLIM}, "site cap applied")
	}
}

func (r *run) finalize(started time.Time) {
	r.seq.Coalesce()
	r.stats.Intervals = len(r.seq)
	gaps, overlays, capped := 0, 0, 0
	for _, iv := range r.seq {
		if gapLocked(iv.Code) {
			gaps++
		}
		if iv.Code.Has(ReasonAPD) || iv.Code.Has(ReasonWTD) {
			overlays++
		}
		if iv.Code.Has(ReasonLIM) {
			capped++
		}
	}
	r.stats.GapsCoded = gaps
	r.stats.OverlaySpans = overlays
	r.stats.CappedSpans = capped
	r.stats.Elapsed = r.e.now().Sub(started)
}

// sampleValues returns the value column. The slice aliases nothing; passes
// mutate samples through the series only.
func (r *run) sampleValues() []float64 {
	out := make([]float64, len(r.series.Samples))
	for i, s := range r.series.Samples {
		out[i] = s.Value
	}
	return out
}
