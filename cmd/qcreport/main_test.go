package main

import (
	"testing"

	"hydroqc/qc"
)

func TestSortedCountsOrdersByCountThenKey(t *testing.T) {
	rows := sortedCounts(map[string]int64{
		"reconcile": 10,
		"gapclip":   25,
		"decay":     10,
		"overlay":   3,
	})
	got := make([]string, 0, len(rows))
	for _, r := range rows {
		got = append(got, r.Key)
	}
	want := []string{"gapclip", "decay", "reconcile", "overlay"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s (full order %v)", i, got[i], want[i], got)
		}
	}
}

func TestPercentHandlesZeroTotal(t *testing.T) {
	if p := percent(5, 0); p != 0 {
		t.Fatalf("expected 0 for zero total, got %v", p)
	}
	if p := percent(1, 4); p != 25 {
		t.Fatalf("expected 25, got %v", p)
	}
}

func TestIssueLabelFallsBackToRawKind(t *testing.T) {
	if got := issueLabel(qc.IssueFlatline); got != "flatline suspect" {
		t.Fatalf("unexpected label for flatline: %q", got)
	}
	if got := issueLabel(qc.IssueKind("XYZ")); got != "XYZ" {
		t.Fatalf("unknown kinds should pass through, got %q", got)
	}
}
