package rollup_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alekslucenko/planit-analytics/internal/domain"
	"github.com/alekslucenko/planit-analytics/internal/rollup"
)

func day(d int, hour int) time.Time {
	return time.Date(2026, 3, d, hour, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute_EmptyInputIsAllZero(t *testing.T) {
	t.Helper()
	res := rollup.Compute(nil, day(1, 0), day(31, 23))

	assert.True(t, res.Total.IsZero())
	assert.Zero(t, res.Records)
	assert.Zero(t, res.Units)
	assert.Zero(t, res.DistinctEntities)
	assert.True(t, res.Average.IsZero(), "no division by zero")
	assert.Empty(t, res.Buckets)
}

func TestCompute_InclusiveWindowBounds(t *testing.T) {
	t.Helper()
	start := day(10, 0)
	end := day(20, 0)
	points := []rollup.Point{
		{Timestamp: start, Value: dec("1"), Count: 1},
		{Timestamp: end, Value: dec("2"), Count: 1},
		{Timestamp: start.Add(-time.Nanosecond), Value: dec("100"), Count: 1},
		{Timestamp: end.Add(time.Nanosecond), Value: dec("100"), Count: 1},
	}

	res := rollup.Compute(points, start, end)
	assert.Equal(t, 2, res.Records, "both endpoints are inside the window")
	assert.True(t, res.Total.Equal(dec("3")))
}

func TestCompute_SumOfBucketsEqualsTotal(t *testing.T) {
	t.Helper()
	points := []rollup.Point{
		{Timestamp: day(3, 9), EntityID: "c1", Value: dec("10.10"), Count: 1},
		{Timestamp: day(3, 15), EntityID: "c2", Value: dec("0.20"), Count: 2},
		{Timestamp: day(7, 12), EntityID: "c1", Value: dec("5.05"), Count: 1},
		{Timestamp: day(15, 1), EntityID: "", Value: dec("4.65"), Count: 3},
	}

	res := rollup.Compute(points, day(1, 0), day(31, 23))

	require.Len(t, res.Buckets, 3, "days with no points are omitted")
	assert.Equal(t, "2026-03-03", res.Buckets[0].Day)
	assert.Equal(t, "2026-03-07", res.Buckets[1].Day)
	assert.Equal(t, "2026-03-15", res.Buckets[2].Day)

	sum := decimal.Zero
	for _, b := range res.Buckets {
		sum = sum.Add(b.Value)
	}
	assert.True(t, sum.Equal(res.Total), "bucket sum %s != total %s", sum, res.Total)

	assert.True(t, res.Total.Equal(dec("20.00")))
	assert.Equal(t, 4, res.Records)
	assert.Equal(t, 7, res.Units)
	assert.Equal(t, 2, res.DistinctEntities, "empty entity ids are not counted")
	assert.True(t, res.Average.Equal(dec("5")))
}

func TestCompute_DecimalSumStaysExact(t *testing.T) {
	t.Helper()
	// 0.1 added 100 times drifts under binary float accumulation.
	points := make([]rollup.Point, 100)
	for i := range points {
		points[i] = rollup.Point{Timestamp: day(5, 12), Value: dec("0.1"), Count: 1}
	}

	res := rollup.Compute(points, day(1, 0), day(31, 23))
	assert.True(t, res.Total.Equal(dec("10")), "got %s", res.Total)
}

func TestAttendanceRevenuePoints_TierJoin(t *testing.T) {
	t.Helper()
	events := map[string]domain.Event{
		"e1": {ID: "e1", TierPrices: map[string]decimal.Decimal{"general": dec("10")}},
	}
	attendances := []domain.Attendance{
		{ID: "a1", EventID: "e1", TierID: "general", CustomerID: "c1", Status: domain.AttendanceConfirmed, Quantity: 2, Timestamp: day(12, 10)},
		{ID: "a2", EventID: "e1", TierID: "general", CustomerID: "c2", Status: domain.AttendanceConfirmed, Quantity: 1, Timestamp: day(12, 14)},
		{ID: "a3", EventID: "e1", TierID: "general", CustomerID: "c3", Status: domain.AttendanceConfirmed, Quantity: 3, Timestamp: day(12, 20)},
		{ID: "a4", EventID: "e1", TierID: "general", CustomerID: "c4", Status: domain.AttendanceCancelled, Quantity: 5, Timestamp: day(12, 21)},
	}

	points, joinMisses := rollup.AttendanceRevenuePoints(attendances, events)
	require.Len(t, points, 3, "cancelled attendances are excluded")
	assert.Zero(t, joinMisses)

	res := rollup.Compute(points, day(1, 0), day(31, 23))
	assert.True(t, res.Total.Equal(dec("60")), "2+1+3 attendees at $10")
	assert.Equal(t, 6, res.Units)
	require.Len(t, res.Buckets, 1)
	assert.True(t, res.Buckets[0].Value.Equal(dec("60")))
	assert.Equal(t, 3, res.Buckets[0].Count)
}

func TestAttendanceRevenuePoints_JoinMissContributesZero(t *testing.T) {
	t.Helper()
	events := map[string]domain.Event{
		"e1": {ID: "e1", TierPrices: map[string]decimal.Decimal{"general": dec("10")}},
	}
	attendances := []domain.Attendance{
		{ID: "a1", EventID: "e1", TierID: "vip", Status: domain.AttendanceConfirmed, Quantity: 2, Timestamp: day(12, 10)},
		{ID: "a2", EventID: "missing", TierID: "general", Status: domain.AttendanceConfirmed, Quantity: 1, Timestamp: day(12, 11)},
		{ID: "a3", EventID: "e1", TierID: "general", Status: domain.AttendanceConfirmed, Quantity: 1, Timestamp: day(12, 12)},
	}

	points, joinMisses := rollup.AttendanceRevenuePoints(attendances, events)
	assert.Equal(t, 2, joinMisses)

	res := rollup.Compute(points, day(1, 0), day(31, 23))
	assert.True(t, res.Total.Equal(dec("10")), "misses contribute zero revenue")
	assert.Equal(t, 4, res.Units, "missed joins still count attendees")
}

func TestCountInteractions(t *testing.T) {
	t.Helper()
	interactions := []domain.Interaction{
		{ID: "i1", Kind: domain.InteractionView, Timestamp: day(10, 1)},
		{ID: "i2", Kind: domain.InteractionView, Timestamp: day(11, 1)},
		{ID: "i3", Kind: domain.InteractionClick, Timestamp: day(11, 2)},
		{ID: "i4", Kind: domain.InteractionRSVP, Timestamp: day(12, 3)},
		{ID: "i5", Kind: "share", Timestamp: day(12, 4)},
		{ID: "i6", Kind: domain.InteractionView, Timestamp: day(25, 1)},
	}

	counts := rollup.CountInteractions(interactions, day(10, 0), day(20, 0))
	assert.Equal(t, 2, counts.Views, "out-of-window views excluded")
	assert.Equal(t, 1, counts.Clicks)
	assert.Equal(t, 1, counts.RSVPs)
}

func TestSegmentCustomers(t *testing.T) {
	t.Helper()
	windowStart := day(10, 0)
	all := []rollup.Point{
		{Timestamp: day(2, 0), EntityID: "returning-1"},
		{Timestamp: day(12, 0), EntityID: "returning-1"},
		{Timestamp: day(14, 0), EntityID: "new-1"},
		{Timestamp: day(15, 0), EntityID: "new-1"},
		{Timestamp: day(16, 0), EntityID: "new-2"},
	}
	window := []rollup.Point{
		{Timestamp: day(12, 0), EntityID: "returning-1"},
		{Timestamp: day(14, 0), EntityID: "new-1"},
		{Timestamp: day(15, 0), EntityID: "new-1"},
		{Timestamp: day(16, 0), EntityID: "new-2"},
	}

	newCustomers, returning := rollup.SegmentCustomers(window, all, windowStart)
	assert.Equal(t, 2, newCustomers)
	assert.Equal(t, 1, returning)
}
