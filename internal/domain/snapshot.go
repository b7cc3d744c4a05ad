package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyBucket is the per-calendar-day aggregate for charting. Buckets
// are sparse: only days with data appear, ordered ascending by day.
type DailyBucket struct {
	// Day is the UTC calendar day key (YYYY-MM-DD).
	Day string `json:"day"`
	// Value is the aggregated monetary value for the day.
	Value decimal.Decimal `json:"value"`
	// Count is the number of records contributing to the day.
	Count int `json:"count"`
}

// MetricsSnapshot holds the rolled-up totals for one timeframe. It is
// overwritten wholesale on every recomputation, never partially mutated.
type MetricsSnapshot struct {
	Timeframe  Timeframe `json:"timeframe"`
	ComputedAt time.Time `json:"computed_at"`

	// Revenue totals.
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	SaleCount         int             `json:"sale_count"`

	// Attendance totals.
	TotalAttendees   int             `json:"total_attendees"`
	AttendanceCount  int             `json:"attendance_count"`
	AverageGroupSize decimal.Decimal `json:"average_group_size"`

	// Customer segments.
	UniqueCustomers    int `json:"unique_customers"`
	NewCustomers       int `json:"new_customers"`
	ReturningCustomers int `json:"returning_customers"`

	// Interaction funnel.
	Views  int `json:"views"`
	Clicks int `json:"clicks"`
	RSVPs  int `json:"rsvps"`

	// Stale marks a snapshot served from cache or retained after a
	// fatal subscription error.
	Stale bool `json:"stale"`
	// LastError is the most recent fatal subscription error, if any.
	LastError string `json:"last_error,omitempty"`
}

// ZeroSnapshot returns an all-zero snapshot for the given timeframe.
// Empty input data is represented this way, never as an error.
func ZeroSnapshot(tf Timeframe, computedAt time.Time) MetricsSnapshot {
	return MetricsSnapshot{
		Timeframe:         tf,
		ComputedAt:        computedAt,
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		AverageGroupSize:  decimal.Zero,
	}
}
