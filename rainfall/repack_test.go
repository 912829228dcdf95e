package rainfall

import (
	"math"
	"testing"
	"time"

	"hydroqc/qc"
)

func TestRoundToSlot(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{base.Add(2*time.Minute + 59*time.Second), base},
		{base.Add(3 * time.Minute), base.Add(6 * time.Minute)}, // halfway rounds up
		{base.Add(4 * time.Minute), base.Add(6 * time.Minute)},
		{base.Add(6 * time.Minute), base.Add(6 * time.Minute)},
	}
	for _, tc := range cases {
		if got := RoundToSlot(tc.in); !got.Equal(tc.want) {
			t.Errorf("RoundToSlot(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRepackSplitsIsolatedTip(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := Repack([]qc.Sample{{At: base.Add(2*time.Minute + 24*time.Second), Value: 10}})

	if len(got) != 2 {
		t.Fatalf("got %d slots: %v", len(got), got)
	}
	if !got[0].At.Equal(base) || got[0].Value != 6 {
		t.Errorf("floor slot = %v %v, want %v 6", got[0].At, got[0].Value, base)
	}
	if !got[1].At.Equal(base.Add(Slot)) || got[1].Value != 4 {
		t.Errorf("ceil slot = %v %v, want %v 4", got[1].At, got[1].Value, base.Add(Slot))
	}
}

func TestRepackBurstInSameSlotCarriesForward(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := Repack([]qc.Sample{
		{At: base.Add(time.Minute), Value: 1},
		{At: base.Add(2 * time.Minute), Value: 1},
	})

	want := map[int64]float64{
		base.Unix():           1,
		base.Add(Slot).Unix(): 1,
	}
	for _, s := range got {
		if want[s.At.Unix()] != s.Value {
			t.Errorf("slot %v = %v, want %v", s.At, s.Value, want[s.At.Unix()])
		}
		delete(want, s.At.Unix())
	}
	if len(want) != 0 {
		t.Errorf("missing slots: %v", want)
	}
}

func TestRepackBurstAcrossSlotsSplitsByTipGap(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := Repack([]qc.Sample{
		{At: base.Add(5 * time.Minute), Value: 6},
		{At: base.Add(7 * time.Minute), Value: 6},
	})

	// First tip splits 1/5 between 00:00 and 00:06. The second fired two
	// minutes later, one minute into the next slot, so it splits evenly
	// between 00:06 and 00:12.
	want := []qc.Sample{
		{At: base, Value: 1},
		{At: base.Add(Slot), Value: 8},
		{At: base.Add(2 * Slot), Value: 3},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].At.Equal(want[i].At) || got[i].Value != want[i].Value {
			t.Errorf("slot %d = %v %v, want %v %v", i, got[i].At, got[i].Value, want[i].At, want[i].Value)
		}
	}
}

func TestRepackTipOnBoundaryStaysInItsSlot(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := Repack([]qc.Sample{{At: base.Add(Slot), Value: 4}})

	if len(got) != 1 {
		t.Fatalf("got %v, want one slot", got)
	}
	if !got[0].At.Equal(base.Add(Slot)) || got[0].Value != 4 {
		t.Errorf("slot = %v %v", got[0].At, got[0].Value)
	}
}

func TestRepackSkipsHoles(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hole := qc.Sample{At: base.Add(time.Minute), Value: math.NaN()}
	got := Repack([]qc.Sample{hole, {At: base.Add(8 * time.Minute), Value: 2}})

	for _, s := range got {
		if s.Missing() {
			t.Errorf("hole leaked into slot totals at %v", s.At)
		}
	}
}
