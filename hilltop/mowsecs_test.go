package hilltop

import (
	"testing"
	"time"
)

func TestMowsecsEpoch(t *testing.T) {
	epoch := FromMowsecs(0)
	want := time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC)
	if !epoch.Equal(want) {
		t.Fatalf("expected Mowsecs epoch %s, got %s", want, epoch)
	}
}

func TestMowsecsRoundTrip(t *testing.T) {
	at := time.Date(2023, 10, 12, 8, 30, 0, 0, time.UTC)
	if got := FromMowsecs(ToMowsecs(at)); !got.Equal(at) {
		t.Fatalf("round trip lost time: %s != %s", got, at)
	}
}

func TestParseEventTimeCalendar(t *testing.T) {
	at, err := parseEventTime("Calendar", "2023-10-12T08:30:00")
	if err != nil {
		t.Fatalf("parseEventTime: %v", err)
	}
	want := time.Date(2023, 10, 12, 8, 30, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("expected %s, got %s", want, at)
	}
}

func TestParseEventTimeRejectsGarbage(t *testing.T) {
	if _, err := parseEventTime("mowsecs", "not-a-number"); err == nil {
		t.Fatalf("expected bad mowsecs to fail")
	}
	if _, err := parseEventTime("Calendar", ""); err == nil {
		t.Fatalf("expected empty timestamp to fail")
	}
}

func TestNearestNamesBoundsDistance(t *testing.T) {
	names := nearestNames("Sadle Road", []string{"Saddle Road", "Hutt at Taita", "Saddle Rd"}, 3)
	if len(names) == 0 || names[0] != "Saddle Road" {
		t.Fatalf("expected Saddle Road first, got %v", names)
	}
	for _, n := range names {
		if n == "Hutt at Taita" {
			t.Fatalf("distant name must not be suggested: %v", names)
		}
	}
}
