package domain

import (
	"fmt"
	"time"
)

// Timeframe is an enumerated, named date range resolved relative to
// evaluation time.
type Timeframe string

// Recognized timeframes. Any other value is a configuration error.
const (
	TimeframeToday      Timeframe = "today"
	TimeframeThisWeek   Timeframe = "this-week"
	TimeframeThisMonth  Timeframe = "this-month"
	TimeframeLast30Days Timeframe = "last-30-days"
	TimeframeLast90Days Timeframe = "last-90-days"
)

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeToday, TimeframeThisWeek, TimeframeThisMonth,
		TimeframeLast30Days, TimeframeLast90Days:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Valid reports whether tf is one of the recognized timeframes.
func (tf Timeframe) Valid() bool {
	_, err := ParseTimeframe(string(tf))
	return err == nil
}

// Resolve maps the timeframe to a concrete [start, end] instant pair
// relative to now. Both bounds are inclusive. Calendar-based frames
// (today, this-week, this-month) are anchored in UTC, the fixed
// reference calendar used for day bucketing.
func (tf Timeframe) Resolve(now time.Time) (start, end time.Time) {
	now = now.UTC()
	end = now

	switch tf {
	case TimeframeToday:
		start = startOfDay(now)
	case TimeframeThisWeek:
		start = startOfWeek(now)
	case TimeframeThisMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case TimeframeLast30Days:
		start = now.AddDate(0, 0, -30)
	case TimeframeLast90Days:
		start = now.AddDate(0, 0, -90)
	default:
		// Unrecognized values are rejected at the configuration boundary;
		// fall back to an empty window rather than guessing.
		start = now
	}

	return start, end
}

// startOfDay truncates t to midnight UTC.
func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// startOfWeek truncates t to the preceding Monday midnight UTC.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	weekday := int(day.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return day.AddDate(0, 0, -(weekday - 1))
}

// DayKey returns the UTC calendar day key (YYYY-MM-DD) used for bucketing.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
