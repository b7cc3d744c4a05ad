// Package rollup computes time-windowed aggregates over normalized
// records. Monetary totals accumulate in decimal to keep cent-exact
// sums regardless of batch size or ordering.
package rollup

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alekslucenko/planit-analytics/internal/domain"
)

// Point is one contribution to a rollup: a value at a time, attributed
// to an entity (usually a customer).
type Point struct {
	Timestamp time.Time
	EntityID  string
	Value     decimal.Decimal
	Count     int
}

// Result is a completed rollup over one window.
type Result struct {
	// Total is the decimal sum of all in-window values.
	Total decimal.Decimal
	// Records is the number of in-window points.
	Records int
	// Units is the sum of per-point counts (tickets, group sizes).
	Units int
	// DistinctEntities is the number of unique non-empty entity ids.
	DistinctEntities int
	// Average is Total / Records, zero when Records is zero.
	Average decimal.Decimal
	// Buckets holds per-day sub-totals, ascending by day, days with no
	// points omitted.
	Buckets []domain.DailyBucket
}

// Compute rolls up points over the inclusive [start, end] window.
// Points outside the window are ignored. Entities track distinct
// non-empty ids only.
func Compute(points []Point, start, end time.Time) Result {
	total := decimal.Zero
	records := 0
	units := 0
	entities := make(map[string]struct{})
	days := make(map[string]*domain.DailyBucket)

	for _, p := range points {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}

		total = total.Add(p.Value)
		records++
		units += p.Count
		if p.EntityID != "" {
			entities[p.EntityID] = struct{}{}
		}

		key := domain.DayKey(p.Timestamp)
		bucket, ok := days[key]
		if !ok {
			bucket = &domain.DailyBucket{Day: key}
			days[key] = bucket
		}
		bucket.Value = bucket.Value.Add(p.Value)
		bucket.Count++
	}

	average := decimal.Zero
	if records > 0 {
		average = total.Div(decimal.NewFromInt(int64(records)))
	}

	return Result{
		Total:            total,
		Records:          records,
		Units:            units,
		DistinctEntities: len(entities),
		Average:          average,
		Buckets:          sortedBuckets(days),
	}
}

func sortedBuckets(days map[string]*domain.DailyBucket) []domain.DailyBucket {
	if len(days) == 0 {
		return nil
	}
	buckets := make([]domain.DailyBucket, 0, len(days))
	for _, b := range days {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Day < buckets[j].Day })
	return buckets
}

// SalePoints projects sales into rollup points. Each sale contributes
// its amount once and its quantity as units.
func SalePoints(sales []domain.Sale) []Point {
	points := make([]Point, 0, len(sales))
	for _, s := range sales {
		points = append(points, Point{
			Timestamp: s.Timestamp,
			EntityID:  s.CustomerID,
			Value:     s.Amount,
			Count:     s.Quantity,
		})
	}
	return points
}

// AttendanceRevenuePoints projects confirmed attendances into revenue
// points by joining each attendance's tier against the event price
// table. A missing event or tier contributes zero revenue but still
// counts attendees; joinMisses reports how many lookups failed.
func AttendanceRevenuePoints(attendances []domain.Attendance, events map[string]domain.Event) (points []Point, joinMisses int) {
	points = make([]Point, 0, len(attendances))
	for _, a := range attendances {
		if a.Status != domain.AttendanceConfirmed {
			continue
		}

		price := decimal.Zero
		event, ok := events[a.EventID]
		if ok {
			price, ok = event.TierPrices[a.TierID]
		}
		if !ok {
			price = decimal.Zero
			joinMisses++
		}

		points = append(points, Point{
			Timestamp: a.Timestamp,
			EntityID:  a.CustomerID,
			Value:     price.Mul(decimal.NewFromInt(int64(a.Quantity))),
			Count:     a.Quantity,
		})
	}
	return points, joinMisses
}

// InteractionCounts tallies funnel interactions inside the inclusive
// [start, end] window.
type InteractionCounts struct {
	Views  int
	Clicks int
	RSVPs  int
}

// CountInteractions buckets interactions by kind over the window.
func CountInteractions(interactions []domain.Interaction, start, end time.Time) InteractionCounts {
	var counts InteractionCounts
	for _, in := range interactions {
		if in.Timestamp.Before(start) || in.Timestamp.After(end) {
			continue
		}
		switch in.Kind {
		case domain.InteractionView:
			counts.Views++
		case domain.InteractionClick:
			counts.Clicks++
		case domain.InteractionRSVP:
			counts.RSVPs++
		}
	}
	return counts
}

// SegmentCustomers splits the distinct customers of in-window points
// into new and returning, based on each customer's first-seen time
// across allPoints (the unwindowed history available to the pipeline).
// A customer whose first contribution falls inside the window is new.
func SegmentCustomers(windowPoints, allPoints []Point, start time.Time) (newCustomers, returning int) {
	firstSeen := make(map[string]time.Time)
	for _, p := range allPoints {
		if p.EntityID == "" {
			continue
		}
		if prev, ok := firstSeen[p.EntityID]; !ok || p.Timestamp.Before(prev) {
			firstSeen[p.EntityID] = p.Timestamp
		}
	}

	seen := make(map[string]struct{})
	for _, p := range windowPoints {
		if p.EntityID == "" {
			continue
		}
		if _, dup := seen[p.EntityID]; dup {
			continue
		}
		seen[p.EntityID] = struct{}{}

		if first, ok := firstSeen[p.EntityID]; ok && first.Before(start) {
			returning++
		} else {
			newCustomers++
		}
	}
	return newCustomers, returning
}
