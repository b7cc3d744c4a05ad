// Package normalize turns raw store documents into typed records. It is
// deliberately tolerant: source documents come from mobile clients of
// several vintages, so field types and presence vary. A document is
// dropped only when its identity is unrecoverable (no document ID, or
// no parsable timestamp for time-series records); every other field
// falls back to a documented default.
package normalize

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alekslucenko/planit-analytics/internal/domain"
)

// Drop reasons reported alongside normalized batches.
const (
	ReasonMissingID    = "missing_id"
	ReasonBadTimestamp = "bad_timestamp"
)

// Report counts what normalization did to a batch.
type Report struct {
	Kept    int
	Dropped map[string]int // reason -> count
}

func newReport() Report {
	return Report{Dropped: make(map[string]int)}
}

func (r *Report) drop(reason string) {
	r.Dropped[reason]++
}

// DroppedTotal sums drops across reasons.
func (r Report) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

// Sales normalizes a batch of sales documents. Defaults: amount 0,
// quantity 0, customer/tier/event "".
func Sales(docs []domain.RawDocument) ([]domain.Sale, Report) {
	report := newReport()
	sales := make([]domain.Sale, 0, len(docs))

	for _, doc := range docs {
		if doc.ID == "" {
			report.drop(ReasonMissingID)
			continue
		}
		ts, ok := asTime(firstPresent(doc.Fields, "timestamp", "created_at", "date"))
		if !ok {
			report.drop(ReasonBadTimestamp)
			continue
		}

		sales = append(sales, domain.Sale{
			ID:         doc.ID,
			EventID:    asString(doc.Fields["event_id"]),
			CustomerID: asString(doc.Fields["customer_id"]),
			TierID:     asString(doc.Fields["tier_id"]),
			Amount:     asDecimal(doc.Fields["amount"]),
			Quantity:   asInt(doc.Fields["quantity"]),
			Timestamp:  ts.UTC(),
		})
		report.Kept++
	}
	return sales, report
}

// Attendances normalizes a batch of attendance documents. Defaults:
// status "confirmed", quantity 0, customer/tier/event "".
func Attendances(docs []domain.RawDocument) ([]domain.Attendance, Report) {
	report := newReport()
	attendances := make([]domain.Attendance, 0, len(docs))

	for _, doc := range docs {
		if doc.ID == "" {
			report.drop(ReasonMissingID)
			continue
		}
		ts, ok := asTime(firstPresent(doc.Fields, "timestamp", "created_at", "rsvp_at"))
		if !ok {
			report.drop(ReasonBadTimestamp)
			continue
		}

		status := asString(doc.Fields["status"])
		if status == "" {
			status = domain.AttendanceConfirmed
		}

		attendances = append(attendances, domain.Attendance{
			ID:         doc.ID,
			EventID:    asString(doc.Fields["event_id"]),
			CustomerID: asString(doc.Fields["customer_id"]),
			TierID:     asString(doc.Fields["tier_id"]),
			Status:     status,
			Quantity:   asInt(doc.Fields["quantity"]),
			Timestamp:  ts.UTC(),
		})
		report.Kept++
	}
	return attendances, report
}

// Interactions normalizes a batch of interaction documents. Unknown
// kinds are kept as-is; the rollup simply ignores kinds it does not
// chart.
func Interactions(docs []domain.RawDocument) ([]domain.Interaction, Report) {
	report := newReport()
	interactions := make([]domain.Interaction, 0, len(docs))

	for _, doc := range docs {
		if doc.ID == "" {
			report.drop(ReasonMissingID)
			continue
		}
		ts, ok := asTime(firstPresent(doc.Fields, "timestamp", "created_at"))
		if !ok {
			report.drop(ReasonBadTimestamp)
			continue
		}

		interactions = append(interactions, domain.Interaction{
			ID:         doc.ID,
			EventID:    asString(doc.Fields["event_id"]),
			CustomerID: asString(doc.Fields["customer_id"]),
			Kind:       asString(doc.Fields["kind"]),
			Timestamp:  ts.UTC(),
		})
		report.Kept++
	}
	return interactions, report
}

// Events normalizes a batch of event documents. Events are parent
// entities, not time-series records, so only the document ID is
// identity; a missing start time normalizes to the zero time.
func Events(docs []domain.RawDocument) ([]domain.Event, Report) {
	report := newReport()
	events := make([]domain.Event, 0, len(docs))

	for _, doc := range docs {
		if doc.ID == "" {
			report.drop(ReasonMissingID)
			continue
		}

		startAt, _ := asTime(firstPresent(doc.Fields, "start_at", "starts_at", "date"))

		events = append(events, domain.Event{
			ID:         doc.ID,
			OwnerID:    asString(doc.Fields["owner_id"]),
			Name:       asString(doc.Fields["name"]),
			Status:     asString(doc.Fields["status"]),
			TierPrices: asPriceTable(doc.Fields["tier_prices"]),
			StartAt:    startAt.UTC(),
		})
		report.Kept++
	}
	return events, report
}

func firstPresent(fields map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		if d, err := decimal.NewFromString(n); err == nil {
			return int(d.IntPart())
		}
	}
	return 0
}

func asDecimal(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case float32:
		return decimal.NewFromFloat32(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int32:
		return decimal.NewFromInt32(n)
	case int64:
		return decimal.NewFromInt(n)
	case string:
		if d, err := decimal.NewFromString(n); err == nil {
			return d
		}
	case decimal.Decimal:
		return n
	}
	return decimal.Zero
}

// unixMillisCutoff separates second- from millisecond-precision epoch
// numbers. Anything above it is read as milliseconds.
const unixMillisCutoff = 1e11

// asTime coerces the common timestamp encodings: time.Time, RFC3339
// strings, and unix epoch numbers in seconds or milliseconds.
func asTime(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		if ts.IsZero() {
			return time.Time{}, false
		}
		return ts, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t, true
		}
		return time.Time{}, false
	case float64:
		return fromEpoch(ts)
	case int:
		return fromEpoch(float64(ts))
	case int64:
		return fromEpoch(float64(ts))
	}
	return time.Time{}, false
}

func fromEpoch(n float64) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	if n > unixMillisCutoff {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	sec := int64(n)
	nsec := int64((n - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), true
}

func asPriceTable(v any) map[string]decimal.Decimal {
	raw, ok := v.(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	prices := make(map[string]decimal.Decimal, len(raw))
	for tier, price := range raw {
		prices[tier] = asDecimal(price)
	}
	return prices
}
