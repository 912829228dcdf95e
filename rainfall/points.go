package rainfall

import (
	"time"

	"hydroqc/qc"
)

// PointsStep is a deduction in force from At until the next step.
type PointsStep struct {
	At     time.Time
	Points int
}

// Survey carries the static points from the most recent rainfall site
// survey.
type Survey struct {
	Points     int // summed matrix points
	ThreeCount int // matrix categories scoring three points or more
}

// InspectionPoints converts the gap between consecutive checks into
// deduction points: eighteen or more complete months since the last
// inspection is 12 points, twelve is 3, three is 1.
func InspectionPoints(checks []Check) []PointsStep {
	if len(checks) < 2 {
		return nil
	}
	steps := make([]PointsStep, 0, len(checks)-1)
	for i := 0; i+1 < len(checks); i++ {
		months := completeMonths(checks[i].At, checks[i+1].At)
		var p int
		switch {
		case months >= 18:
			p = 12
		case months >= 12:
			p = 3
		case months >= 3:
			p = 1
		}
		steps = append(steps, PointsStep{At: checks[i].At, Points: p})
	}
	return steps
}

// completeMonths counts full calendar months between a and b. Landing
// on or before the same day of month does not complete the last one.
func completeMonths(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	if b.Day() <= a.Day() {
		months--
	}
	return months
}

// Grade folds ramp grades and deduction points into coded spans.
// Twelve or more points, or three or more three-point categories, cap
// a span at 400; three to eleven points cap at 500. The ramp grade
// stands when the deductions allow better, and a capped span carries
// the reason that lowered it.
func Grade(spans []Span, steps []PointsStep, survey Survey) qc.Sequence {
	seq := make(qc.Sequence, 0, len(spans))
	for _, sp := range spans {
		stepPts := pointsAt(steps, sp.From)
		points := survey.Points + stepPts
		threes := survey.ThreeCount
		if stepPts >= 3 {
			threes++
		}

		code := qc.NewCode(sp.Tier, qc.ReasonCHK)
		capTier := qc.TierExcellent
		capped := false
		switch {
		case points >= 12 || threes >= 3:
			capTier, capped = qc.TierFair, true
		case points >= 3:
			capTier, capped = qc.TierGood, true
		}
		if capped && qc.TierRank(capTier) < qc.TierRank(code.Tier) {
			code = qc.Combine(code, qc.NewCode(capTier, deductionReasons(stepPts, survey)...))
		}
		seq = append(seq, qc.Interval{From: sp.From, To: sp.To, Code: code})
	}
	return seq
}

// deductionReasons names what lowered a capped span: stale inspections,
// survey findings, or both.
func deductionReasons(stepPts int, survey Survey) []qc.Reason {
	var rs []qc.Reason
	if stepPts > 0 {
		rs = append(rs, qc.ReasonOOV)
	}
	if survey.Points > 0 || survey.ThreeCount > 0 {
		rs = append(rs, qc.ReasonLIM)
	}
	if len(rs) == 0 {
		rs = append(rs, qc.ReasonLIM)
	}
	return rs
}

// pointsAt returns the step in force at t.
func pointsAt(steps []PointsStep, t time.Time) int {
	points := 0
	for _, s := range steps {
		if s.At.After(t) {
			break
		}
		points = s.Points
	}
	return points
}
