package rainfall

import (
	"math"
	"strings"
	"testing"
	"time"

	"hydroqc/qc"
)

func slotGrid(start time.Time, values ...float64) []qc.Sample {
	out := make([]qc.Sample, len(values))
	for i, v := range values {
		out[i] = qc.Sample{At: start.Add(time.Duration(i) * Slot), Value: v}
	}
	return out
}

func TestRampScalesThroughChecks(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	grid := slotGrid(base, 7, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 9)
	checks := []Check{
		{At: base},
		{At: base.Add(30 * time.Minute), Gauge: 20},
		{At: base.Add(60 * time.Minute), Gauge: 30},
	}

	ramped, spans, err := Ramp(grid, checks)
	if err != nil {
		t.Fatal(err)
	}

	if len(spans) != 2 {
		t.Fatalf("got %d spans: %v", len(spans), spans)
	}
	if spans[0].Tier != qc.TierExcellent || spans[0].Ratio != 1.0 {
		t.Errorf("first span = %v %v, want 600 at ratio 1", spans[0].Tier, spans[0].Ratio)
	}
	if spans[1].Tier != qc.TierFair || spans[1].Ratio != 1.5 {
		t.Errorf("second span = %v %v, want 400 at ratio 1.5", spans[1].Tier, spans[1].Ratio)
	}
	if !spans[0].From.Equal(base) || !spans[0].To.Equal(checks[1].At) {
		t.Errorf("first span window = %v..%v", spans[0].From, spans[0].To)
	}

	want := []float64{0, 4, 4, 4, 4, 4, 6, 6, 6, 6, 6, 0}
	if len(ramped) != len(want) {
		t.Fatalf("got %d samples, want %d", len(ramped), len(want))
	}
	for i, w := range want {
		if ramped[i].Value != w {
			t.Errorf("slot %d (%v) = %v, want %v", i, ramped[i].At, ramped[i].Value, w)
		}
	}
}

func TestRampGradesEmptySpanFair(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	checks := []Check{
		{At: base},
		{At: base.Add(30 * time.Minute), Gauge: 5},
	}

	ramped, spans, err := Ramp(nil, checks)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 1 || spans[0].Tier != qc.TierFair {
		t.Fatalf("spans = %v, want one 400 span", spans)
	}
	if !math.IsInf(spans[0].Ratio, 1) {
		t.Errorf("ratio = %v, want +Inf", spans[0].Ratio)
	}
	for _, s := range ramped {
		if s.Value != 0 {
			t.Errorf("slot %v = %v, want 0", s.At, s.Value)
		}
	}
}

func TestRampInsertsZeroSlotsForChecks(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	grid := []qc.Sample{{At: base.Add(Slot), Value: 3}}
	checks := []Check{
		{At: base},
		{At: base.Add(2 * Slot), Gauge: 3},
	}

	ramped, spans, err := Ramp(grid, checks)
	if err != nil {
		t.Fatal(err)
	}
	if len(ramped) != 3 {
		t.Fatalf("got %d samples: %v", len(ramped), ramped)
	}
	if !ramped[0].At.Equal(base) || ramped[0].Value != 0 {
		t.Errorf("inserted slot = %v %v", ramped[0].At, ramped[0].Value)
	}
	if !ramped[2].At.Equal(base.Add(2 * Slot)) {
		t.Errorf("last slot at %v, want %v", ramped[2].At, base.Add(2*Slot))
	}
	if len(spans) != 1 || spans[0].Tier != qc.TierExcellent {
		t.Errorf("spans = %v, want one 600 span", spans)
	}
}

func TestRampRejectsOutOfOrderChecks(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	checks := []Check{
		{At: base.Add(30 * time.Minute), Gauge: 2},
		{At: base, Gauge: 1},
	}
	_, _, err := Ramp(nil, checks)
	if err == nil || !strings.Contains(err.Error(), "out of order") {
		t.Fatalf("err = %v, want out-of-order error", err)
	}
}

func TestRampWithoutChecksPassesGridThrough(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	grid := slotGrid(base, 1, 2, 3)

	ramped, spans, err := Ramp(grid, nil)
	if err != nil {
		t.Fatal(err)
	}
	if spans != nil {
		t.Errorf("spans = %v, want none", spans)
	}
	if len(ramped) != 3 || ramped[2].Value != 3 {
		t.Errorf("grid changed: %v", ramped)
	}
}
