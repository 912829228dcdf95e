package qc

import (
	"fmt"
	"math"
	"time"
)

// deviation bands for a reconciled check.
type band int

const (
	bandTight band = iota // within delta: family ceiling
	bandWide              // within delta * multiplier: one rung down
	bandFail              // beyond the admissible band: worst non-zero rung
)

// reconcile is the third pass: align each check to the raw series, grade
// the deviation, and stamp the derived code as a step function from the
// check forward. A later applied check overwrites the tail, so each step
// runs until the next applied check or the window end. Gap spans survive
// every stamp. Checks are graded first and stamped second so a skipped
// check never truncates its predecessor's step.
func (r *run) reconcile() error {
	r.stats.ChecksIn = len(r.checks)
	if err := VerifyCheckOrder(r.req.Site, r.req.Measurement, r.checks); err != nil {
		return err
	}
	if len(r.graded) > 0 {
		r.stampGraded()
		return nil
	}

	type graded struct {
		at     time.Time
		tier   Tier
		detail string
	}
	var steps []graded
	for _, chk := range r.checks {
		if !chk.At.Before(r.req.To) {
			break
		}
		tier, detail, ok := r.evaluateCheck(chk)
		if !ok {
			r.stats.ChecksSkipped++
			continue
		}
		steps = append(steps, graded{at: chk.At, tier: tier, detail: detail})
	}

	uck := NewCode(TierUnverified, ReasonUCK)
	if len(steps) == 0 {
		r.seq.Stamp(r.req.From, r.req.To, uck)
		r.decide("reconcile", r.req.From, r.req.From, r.req.To, TierUnverified, uck.Reasons, "no usable checks in window")
		return nil
	}
	if first := steps[0].at; first.After(r.req.From) {
		r.seq.Stamp(r.req.From, first, uck)
		r.decide("reconcile", r.req.From, r.req.From, first, TierUnverified, uck.Reasons, "window starts before first check")
	}
	for _, st := range steps {
		from := st.at
		if from.Before(r.req.From) {
			from = r.req.From
		}
		code := NewCode(st.tier, ReasonCHK)
		r.seq.Stamp(from, r.req.To, code)
		r.applied = append(r.applied, appliedCheck{at: st.at, tier: st.tier})
		r.stats.ChecksApplied++
		r.decide("reconcile", st.at, from, r.req.To, st.tier, code.Reasons, st.detail)
	}
	return nil
}

// stampGraded installs a caller-built verification partition. Stretches of
// the window the partition does not reach stay unverified, and gap spans
// from the screening passes survive underneath it.
func (r *run) stampGraded() {
	uck := NewCode(TierUnverified, ReasonUCK)
	cursor := r.req.From
	for _, iv := range r.graded {
		from, to := iv.From, iv.To
		if !to.After(r.req.From) || !from.Before(r.req.To) {
			continue
		}
		if from.Before(r.req.From) {
			from = r.req.From
		}
		if to.After(r.req.To) {
			to = r.req.To
		}
		if cursor.Before(from) {
			r.seq.Stamp(cursor, from, uck)
			r.decide("reconcile", cursor, cursor, from, TierUnverified, uck.Reasons, "outside graded spans")
		}
		r.seq.Stamp(from, to, iv.Code)
		r.stats.ChecksApplied++
		r.decide("reconcile", from, from, to, iv.Code.Tier, iv.Code.Reasons, "graded span")
		cursor = to
	}
	if cursor.Before(r.req.To) {
		r.seq.Stamp(cursor, r.req.To, uck)
		r.decide("reconcile", cursor, cursor, r.req.To, TierUnverified, uck.Reasons, "outside graded spans")
	}
}

// evaluateCheck aligns one check against the series and grades it. A false
// return means the check was skipped; the issue is already recorded.
func (r *run) evaluateCheck(chk CheckEvent) (Tier, string, bool) {
	if math.IsNaN(chk.Value) {
		r.issue(IssueMissingCheck, chk.At, "check carries no value")
		return 0, "", false
	}
	idx := r.series.NearestIndex(chk.At)
	if idx < 0 {
		r.issue(IssueMissingStandard, chk.At, "no samples to align against")
		return 0, "", false
	}
	sample := r.series.Samples[idx]
	tol := r.pol.alignTolerance(r.series.Cadence)
	if off := absDuration(sample.At.Sub(chk.At)); off > tol {
		r.issue(IssueMissingStandard, chk.At, fmt.Sprintf("nearest sample %s away, tolerance %s", off, tol))
		return 0, "", false
	}
	if sample.Missing() {
		r.issue(IssueMissingStandard, chk.At, "check falls inside a gap")
		return 0, "", false
	}
	if r.inFlatline(idx) {
		r.issue(IssueFlatline, chk.At, "check aligns to a flatline run")
		return 0, "", false
	}

	target := chk.Value + r.pol.CheckShift
	dev := math.Abs(sample.Value - target)
	tier, b, detail := r.gradeDeviation(dev, target)
	if b == bandFail {
		r.issue(IssueReview, chk.At, detail)
	}
	if ceil := chk.Source.TrustCeiling(); TierRank(ceil) < TierRank(tier) {
		tier = ceil
		detail = fmt.Sprintf("%s, capped by %s source", detail, chk.Source)
	}
	return tier, fmt.Sprintf("%s check: %s", chk.Source, detail), true
}

// gradeDeviation maps a deviation onto the tier ladder under the family
// ceiling. Above the percent threshold the deviation is judged relative to
// the check value; below it (and for families without percent limits) the
// absolute bands apply. A failed check lands on the worst non-zero rung:
// disagreement is still evidence that data exists.
func (r *run) gradeDeviation(dev, target float64) (Tier, band, string) {
	base := r.pol.MaxQC
	mid := floorUnverified(StepDown(base, 1))
	worst := floorUnverified(StepDown(base, 2))

	if r.percentMode(target) {
		pct := dev / math.Abs(target) * 100
		switch {
		case pct < r.pol.QC600Percent:
			return base, bandTight, fmt.Sprintf("deviation %.3g%% within %.3g%%", pct, r.pol.QC600Percent)
		case pct < r.pol.QC500Percent:
			return mid, bandWide, fmt.Sprintf("deviation %.3g%% within %.3g%%", pct, r.pol.QC500Percent)
		default:
			return worst, bandFail, fmt.Sprintf("deviation %.3g%% beyond %.3g%%", pct, r.pol.QC500Percent)
		}
	}

	wide := r.pol.Delta * r.pol.DeltaMultiplier
	switch {
	case dev <= r.pol.Delta:
		return base, bandTight, fmt.Sprintf("deviation %.4g within %.4g", dev, r.pol.Delta)
	case dev <= wide:
		return mid, bandWide, fmt.Sprintf("deviation %.4g within %.4g", dev, wide)
	default:
		return worst, bandFail, fmt.Sprintf("deviation %.4g beyond %.4g", dev, wide)
	}
}

// percentMode reports whether the check value is large enough for relative
// grading.
func (r *run) percentMode(target float64) bool {
	return r.pol.QC600Percent > 0 && math.Abs(target) > r.pol.LimitPercentThreshold
}

// floorUnverified keeps derived check tiers at or above the unverified
// floor.
func floorUnverified(t Tier) Tier {
	if TierRank(t) < TierRank(TierUnverified) {
		return TierUnverified
	}
	return t
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
