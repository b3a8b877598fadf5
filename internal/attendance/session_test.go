package attendance

import (
	"testing"
	"time"
)

// 2024-03-04 is a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2024, 3, 4, hour, minute, 0, 0, time.UTC)
}

func TestLocateMatchesWeekdayLoosely(t *testing.T) {
	sessions := []Session{
		{ID: "a", Day: "Monday"},
		{ID: "b", Day: "  MONDAY "},
		{ID: "c", Day: "mon"},
		{ID: "d", Day: "Tuesday"},
		{ID: "e", Day: ""},
		{ID: "f", Day: "Funday"},
		{ID: "g", Day: "monday", Subject: "Physics"},
	}
	got := Locate(sessions, monday(9, 0))
	want := []string{"a", "b", "c", "g"}
	if len(got) != len(want) {
		t.Fatalf("Locate returned %d sessions, want %d: %+v", len(got), len(want), got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("session %d = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestLocateNoMatch(t *testing.T) {
	if got := Locate([]Session{{Day: "friday"}}, monday(9, 0)); len(got) != 0 {
		t.Fatalf("expected no sessions, got %+v", got)
	}
	if got := Locate(nil, monday(9, 0)); got != nil {
		t.Fatalf("expected nil for no sessions, got %+v", got)
	}
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"Sunday": time.Sunday, "thurs": time.Thursday, " SAT": time.Saturday, "wednesday": time.Wednesday,
	} {
		got, ok := ParseWeekday(in)
		if !ok || got != want {
			t.Errorf("ParseWeekday(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseWeekday("someday"); ok {
		t.Errorf("ParseWeekday accepted an unknown day")
	}
}
