package seriescache

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"

	"hydroqc/qc"
)

func openTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "cache"), ttl)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSeriesRoundTrip(t *testing.T) {
	store := openTestStore(t, time.Hour)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	series := &qc.Series{
		Unit:    "degC",
		Cadence: 15 * time.Minute,
		Samples: []qc.Sample{
			{At: time.Date(1965, 6, 1, 12, 0, 0, 0, time.UTC), Value: 11.5},
			{At: from.Add(15 * time.Minute), Value: math.NaN()},
			{At: from.Add(30 * time.Minute), Value: 12.25},
		},
	}
	if err := store.PutSeries("Saddle Road", "Water Temperature", from, to, series); err != nil {
		t.Fatalf("PutSeries: %v", err)
	}

	got, ok := store.GetSeries("Saddle Road", "Water Temperature", from, to)
	if !ok {
		t.Fatal("GetSeries missed a freshly cached window")
	}
	if got.Site != "Saddle Road" || got.Measurement != "Water Temperature" {
		t.Errorf("identity = %q/%q, want request identity restored", got.Site, got.Measurement)
	}
	if got.Unit != "degC" || got.Cadence != 15*time.Minute {
		t.Errorf("unit/cadence = %q/%v", got.Unit, got.Cadence)
	}
	if len(got.Samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(got.Samples))
	}
	if !got.Samples[0].At.Equal(series.Samples[0].At) {
		t.Errorf("pre-1970 timestamp did not round-trip: %v", got.Samples[0].At)
	}
	if !math.IsNaN(got.Samples[1].Value) {
		t.Errorf("missing-value hole did not round-trip: %v", got.Samples[1].Value)
	}
	if hits, misses, _ := store.Stats(); hits != 1 || misses != 0 {
		t.Errorf("stats = %d hits %d misses, want 1 hit", hits, misses)
	}
}

func TestDifferentWindowIsAMiss(t *testing.T) {
	store := openTestStore(t, time.Hour)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	if err := store.PutSeries("Saddle Road", "Stage", from, to, &qc.Series{Unit: "mm"}); err != nil {
		t.Fatalf("PutSeries: %v", err)
	}

	if _, ok := store.GetSeries("Saddle Road", "Stage", from.Add(time.Hour), to); ok {
		t.Error("shifted window hit the cache; keys must bind the exact window")
	}
	if _, ok := store.GetSeries("Saddle Road", "Water Temperature", from, to); ok {
		t.Error("different measurement hit the cache")
	}
}

func TestExpiredEntryIsEvicted(t *testing.T) {
	store := openTestStore(t, time.Hour)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }

	from := base.AddDate(0, 0, -7)
	if err := store.PutSeries("Saddle Road", "Stage", from, base, &qc.Series{Unit: "mm"}); err != nil {
		t.Fatalf("PutSeries: %v", err)
	}

	current = base.Add(30 * time.Minute)
	if _, ok := store.GetSeries("Saddle Road", "Stage", from, base); !ok {
		t.Fatal("entry expired before its TTL")
	}

	current = base.Add(2 * time.Hour)
	if _, ok := store.GetSeries("Saddle Road", "Stage", from, base); ok {
		t.Fatal("entry survived past its TTL")
	}
	if _, _, evictions := store.Stats(); evictions != 1 {
		t.Errorf("evictions = %d, want the expired entry dropped", evictions)
	}
}

func TestCachedEmptyChecksIsAHit(t *testing.T) {
	store := openTestStore(t, time.Hour)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	if err := store.PutChecks("Saddle Road", "Stage", from, to, nil); err != nil {
		t.Fatalf("PutChecks: %v", err)
	}

	checks, ok := store.GetChecks("Saddle Road", "Stage", from, to)
	if !ok {
		t.Fatal("cached empty check list came back as a miss")
	}
	if len(checks) != 0 {
		t.Fatalf("got %d checks, want 0", len(checks))
	}
}

func TestChecksRoundTripCarriesSourceAndNote(t *testing.T) {
	store := openTestStore(t, time.Hour)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	want := []qc.CheckEvent{
		{At: from.Add(26 * time.Hour), Value: 12.1, Source: qc.SourceInspection, Note: "MB: meter 4417"},
		{At: from.Add(50 * time.Hour), Value: 12.4, Source: qc.SourceSoE},
	}
	if err := store.PutChecks("Saddle Road", "Water Temperature", from, to, want); err != nil {
		t.Fatalf("PutChecks: %v", err)
	}

	got, ok := store.GetChecks("Saddle Road", "Water Temperature", from, to)
	if !ok || len(got) != 2 {
		t.Fatalf("ok=%t len=%d, want both checks back", ok, len(got))
	}
	if !got[0].At.Equal(want[0].At) || got[0].Source != qc.SourceInspection || got[0].Note != want[0].Note {
		t.Errorf("check 0 = %+v, want %+v", got[0], want[0])
	}
	if got[1].Source != qc.SourceSoE || got[1].Note != "" {
		t.Errorf("check 1 = %+v, want bare SoE sample", got[1])
	}
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	store := openTestStore(t, time.Hour)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base.Add(-3 * time.Hour)
	store.now = func() time.Time { return current }

	from := base.AddDate(0, 0, -7)
	if err := store.PutSeries("Saddle Road", "Stage", from, base, &qc.Series{Unit: "mm"}); err != nil {
		t.Fatalf("put stale: %v", err)
	}
	current = base
	if err := store.PutSeries("Saddle Road", "Water Temperature", from, base, &qc.Series{Unit: "degC"}); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	removed, err := store.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("swept %d entries, want only the stale one", removed)
	}
	if _, ok := store.GetSeries("Saddle Road", "Water Temperature", from, base); !ok {
		t.Error("sweep dropped a fresh entry")
	}
	if _, ok := store.GetSeries("Saddle Road", "Stage", from, base); ok {
		t.Error("sweep left the stale entry behind")
	}
}

func TestIncompatibleVersionWipesCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	store, err := Open(dir, time.Hour)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	if err := store.PutSeries("Saddle Road", "Stage", from, to, &qc.Series{Unit: "mm"}); err != nil {
		t.Fatalf("PutSeries: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		t.Fatalf("reopen raw: %v", err)
	}
	if err := db.Set([]byte(metaVersionKey), []byte("99"), pebble.Sync); err != nil {
		t.Fatalf("tamper version: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	store, err = Open(dir, time.Hour)
	if err != nil {
		t.Fatalf("reopen after version bump: %v", err)
	}
	defer store.Close()
	if _, ok := store.GetSeries("Saddle Road", "Stage", from, to); ok {
		t.Error("entry from an incompatible cache version survived the wipe")
	}
}

func TestAppendSampleUpdatesCoveringWindow(t *testing.T) {
	store := openTestStore(t, time.Hour)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	series := &qc.Series{
		Unit:    "mm",
		Cadence: 15 * time.Minute,
		Samples: []qc.Sample{
			{At: from, Value: 1.0},
			{At: from.Add(30 * time.Minute), Value: 3.0},
		},
	}
	if err := store.PutSeries("Saddle Road", "Stage", from, to, series); err != nil {
		t.Fatalf("PutSeries: %v", err)
	}

	changed, err := store.AppendSample("Saddle Road", "Stage", qc.Sample{At: from.Add(15 * time.Minute), Value: 2.0})
	if err != nil {
		t.Fatalf("AppendSample: %v", err)
	}
	if !changed {
		t.Fatal("append inside a cached window reported no change")
	}

	got, ok := store.GetSeries("Saddle Road", "Stage", from, to)
	if !ok {
		t.Fatal("GetSeries missed after append")
	}
	if len(got.Samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(got.Samples))
	}
	if got.Samples[1].Value != 2.0 {
		t.Errorf("inserted sample out of order: %v", got.Samples)
	}

	// Same instant replaces rather than duplicates.
	changed, err = store.AppendSample("Saddle Road", "Stage", qc.Sample{At: from.Add(15 * time.Minute), Value: 2.5})
	if err != nil {
		t.Fatalf("AppendSample replace: %v", err)
	}
	if !changed {
		t.Fatal("same-instant append reported no change")
	}
	got, _ = store.GetSeries("Saddle Road", "Stage", from, to)
	if len(got.Samples) != 3 || got.Samples[1].Value != 2.5 {
		t.Errorf("replace produced %v", got.Samples)
	}
}

func TestAppendSampleIgnoresReadingsPastTheWindow(t *testing.T) {
	store := openTestStore(t, time.Hour)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	if err := store.PutSeries("Saddle Road", "Stage", from, to, &qc.Series{Unit: "mm"}); err != nil {
		t.Fatalf("PutSeries: %v", err)
	}

	// The window end is exclusive, so a reading exactly there is new data.
	changed, err := store.AppendSample("Saddle Road", "Stage", qc.Sample{At: to, Value: 9.0})
	if err != nil {
		t.Fatalf("AppendSample: %v", err)
	}
	if changed {
		t.Error("reading at the window end changed a cached entry")
	}
	changed, err = store.AppendSample("Other Site", "Stage", qc.Sample{At: from.Add(time.Hour), Value: 9.0})
	if err != nil {
		t.Fatalf("AppendSample other site: %v", err)
	}
	if changed {
		t.Error("reading for another site changed this pair's entries")
	}
}

func TestAppendSampleSkipsExpiredWindows(t *testing.T) {
	store := openTestStore(t, time.Hour)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	from := base.AddDate(0, 0, -7)
	if err := store.PutSeries("Saddle Road", "Stage", from, base, &qc.Series{Unit: "mm"}); err != nil {
		t.Fatalf("PutSeries: %v", err)
	}

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	changed, err := store.AppendSample("Saddle Road", "Stage", qc.Sample{At: base.Add(-time.Hour), Value: 4.0})
	if err != nil {
		t.Fatalf("AppendSample: %v", err)
	}
	if changed {
		t.Error("append resurrected an expired window")
	}
}
