package rainfall

import (
	"testing"
	"time"

	"hydroqc/qc"
)

func TestCompleteMonths(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"2026-01-15", "2026-02-20", 1},
		{"2026-01-15", "2026-03-15", 1}, // same day of month does not complete it
		{"2026-01-15", "2026-04-16", 3},
		{"2026-01-31", "2026-02-01", 0},
		{"2025-01-15", "2026-02-16", 13},
	}
	for _, tc := range cases {
		a, _ := time.Parse("2006-01-02", tc.a)
		b, _ := time.Parse("2006-01-02", tc.b)
		if got := completeMonths(a, b); got != tc.want {
			t.Errorf("completeMonths(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestInspectionPointsLadder(t *testing.T) {
	at := func(s string) time.Time {
		v, err := time.Parse("2006-01-02", s)
		if err != nil {
			t.Fatal(err)
		}
		return v
	}
	checks := []Check{
		{At: at("2025-01-10")},
		{At: at("2025-03-15")}, // 2 months: no deduction
		{At: at("2025-07-20")}, // 4 months: 1 point
		{At: at("2026-08-25")}, // 13 months: 3 points
		{At: at("2028-03-01")}, // 18 months: 12 points
	}

	steps := InspectionPoints(checks)
	want := []int{0, 1, 3, 12}
	if len(steps) != len(want) {
		t.Fatalf("got %d steps: %v", len(steps), steps)
	}
	for i, w := range want {
		if steps[i].Points != w {
			t.Errorf("step %d = %d points, want %d", i, steps[i].Points, w)
		}
		if !steps[i].At.Equal(checks[i].At) {
			t.Errorf("step %d at %v, want %v", i, steps[i].At, checks[i].At)
		}
	}

	if got := InspectionPoints(checks[:1]); got != nil {
		t.Errorf("single check produced steps: %v", got)
	}
}

func TestGradeCapsSpansByDeductions(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := base.Add(24 * time.Hour)
	t2 := base.Add(48 * time.Hour)
	t3 := base.Add(72 * time.Hour)
	spans := []Span{
		{From: base, To: t1, Tier: qc.TierExcellent, Ratio: 1.0},
		{From: t1, To: t2, Tier: qc.TierExcellent, Ratio: 1.05},
		{From: t2, To: t3, Tier: qc.TierFair, Ratio: 1.3},
	}
	steps := []PointsStep{{At: base, Points: 0}, {At: t1, Points: 3}, {At: t2, Points: 0}}

	seq := Grade(spans, steps, Survey{})
	want := []string{"600 CHK", "500 CHK,OOV", "400 CHK"}
	if len(seq) != len(want) {
		t.Fatalf("got %d intervals: %v", len(seq), seq)
	}
	for i, w := range want {
		if got := seq[i].Code.String(); got != w {
			t.Errorf("interval %d = %q, want %q", i, got, w)
		}
	}
	if !seq[1].From.Equal(t1) || !seq[1].To.Equal(t2) {
		t.Errorf("interval 1 window = %v..%v", seq[1].From, seq[1].To)
	}
}

func TestGradeSurveyPointsCapAtFair(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	spans := []Span{{From: base, To: base.Add(time.Hour), Tier: qc.TierExcellent, Ratio: 1.0}}

	seq := Grade(spans, nil, Survey{Points: 12})
	if got := seq[0].Code.String(); got != "400 CHK,LIM" {
		t.Errorf("code = %q, want %q", got, "400 CHK,LIM")
	}
}

func TestGradeNeverRaisesARampGrade(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	spans := []Span{{From: base, To: base.Add(time.Hour), Tier: qc.TierFair, Ratio: 2.0}}

	// A 500 cap sits above the 400 ramp grade, so the grade stands.
	seq := Grade(spans, nil, Survey{Points: 5})
	if got := seq[0].Code.String(); got != "400 CHK" {
		t.Errorf("code = %q, want %q", got, "400 CHK")
	}
}

func TestGradeThreePointCategoriesCapAtFair(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	spans := []Span{{From: base, To: base.Add(time.Hour), Tier: qc.TierExcellent, Ratio: 1.0}}
	steps := []PointsStep{{At: base, Points: 3}}

	seq := Grade(spans, steps, Survey{Points: 2, ThreeCount: 2})
	if got := seq[0].Code.String(); got != "400 CHK,OOV,LIM" {
		t.Errorf("code = %q, want %q", got, "400 CHK,OOV,LIM")
	}
}
