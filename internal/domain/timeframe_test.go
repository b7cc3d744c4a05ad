package domain

import (
	"testing"
	"time"
)

// A Wednesday, mid-month, fixed for deterministic resolution.
var refNow = time.Date(2026, 3, 18, 15, 4, 5, 0, time.UTC)

func TestParseTimeframe(t *testing.T) {
	t.Helper()

	valid := []string{"today", "this-week", "this-month", "last-30-days", "last-90-days"}
	for _, s := range valid {
		if _, err := ParseTimeframe(s); err != nil {
			t.Errorf("ParseTimeframe(%q): unexpected error %v", s, err)
		}
	}

	for _, s := range []string{"", "yesterday", "last-7-days", "TODAY"} {
		if _, err := ParseTimeframe(s); err == nil {
			t.Errorf("ParseTimeframe(%q): expected error, got nil", s)
		}
	}
}

func TestResolve_Today(t *testing.T) {
	t.Helper()

	start, end := TimeframeToday.Resolve(refNow)
	wantStart := time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", start, wantStart)
	}
	if !end.Equal(refNow) {
		t.Errorf("end: got %v, want %v", end, refNow)
	}
}

func TestResolve_ThisWeek(t *testing.T) {
	t.Helper()

	start, _ := TimeframeThisWeek.Resolve(refNow)
	wantStart := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC) // Monday
	if !start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", start, wantStart)
	}

	// Sunday belongs to the week that started the previous Monday.
	sunday := time.Date(2026, 3, 22, 10, 0, 0, 0, time.UTC)
	start, _ = TimeframeThisWeek.Resolve(sunday)
	if !start.Equal(wantStart) {
		t.Errorf("sunday start: got %v, want %v", start, wantStart)
	}
}

func TestResolve_ThisMonth(t *testing.T) {
	t.Helper()

	start, _ := TimeframeThisMonth.Resolve(refNow)
	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", start, wantStart)
	}
}

func TestResolve_RollingWindows(t *testing.T) {
	t.Helper()

	start, end := TimeframeLast30Days.Resolve(refNow)
	if got := end.Sub(start); got != 30*24*time.Hour {
		t.Errorf("last-30-days span: got %v", got)
	}

	start, end = TimeframeLast90Days.Resolve(refNow)
	if got := end.Sub(start); got != 90*24*time.Hour {
		t.Errorf("last-90-days span: got %v", got)
	}
}

func TestResolve_NonUTCNowIsNormalized(t *testing.T) {
	t.Helper()

	loc := time.FixedZone("UTC+5", 5*3600)
	local := refNow.In(loc)

	start, end := TimeframeToday.Resolve(local)
	wantStart := time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", start, wantStart)
	}
	if !end.Equal(refNow) {
		t.Errorf("end: got %v, want %v", end, refNow)
	}
}

func TestDayKey(t *testing.T) {
	t.Helper()

	if got := DayKey(refNow); got != "2026-03-18" {
		t.Errorf("DayKey: got %q", got)
	}

	// A local time close to midnight maps to its UTC day.
	loc := time.FixedZone("UTC-8", -8*3600)
	late := time.Date(2026, 3, 17, 23, 0, 0, 0, loc) // 2026-03-18 07:00 UTC
	if got := DayKey(late); got != "2026-03-18" {
		t.Errorf("DayKey across zones: got %q", got)
	}
}
