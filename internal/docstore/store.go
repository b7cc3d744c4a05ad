// Package docstore abstracts the external document database behind a
// small query and subscription surface. The store delivers full result
// sets on every change, not deltas.
package docstore

import (
	"context"
	"fmt"

	"github.com/alekslucenko/planit-analytics/internal/domain"
)

// Limits imposed on queries, matching what the external store supports.
const (
	// MaxFilters is the maximum number of AND-combined filters per query.
	MaxFilters = 3
	// MaxInValues is the maximum cardinality of an in-set filter.
	MaxInValues = 30
)

// Op is a filter operator.
type Op string

// Supported filter operators.
const (
	OpEqual          Op = "=="
	OpGreaterOrEqual Op = ">="
	OpLessOrEqual    Op = "<="
	OpIn             Op = "in"
)

// Filter is a single predicate on a typed document field.
type Filter struct {
	Field  string
	Op     Op
	Value  any
	Values []any // OpIn only
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// Gte builds a >= range filter.
func Gte(field string, value any) Filter {
	return Filter{Field: field, Op: OpGreaterOrEqual, Value: value}
}

// Lte builds a <= range filter.
func Lte(field string, value any) Filter {
	return Filter{Field: field, Op: OpLessOrEqual, Value: value}
}

// In builds an in-set filter.
func In(field string, values ...any) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Query selects documents from one collection with up to MaxFilters
// AND-combined filters.
type Query struct {
	Collection string
	Filters    []Filter
}

// Validate checks structural query constraints. Violations are caller
// configuration errors, not store faults.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("query: collection is required")
	}
	if len(q.Filters) > MaxFilters {
		return fmt.Errorf("query %s: at most %d filters supported, got %d",
			q.Collection, MaxFilters, len(q.Filters))
	}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEqual, OpGreaterOrEqual, OpLessOrEqual:
			if f.Field == "" {
				return fmt.Errorf("query %s: filter field is required", q.Collection)
			}
		case OpIn:
			if len(f.Values) == 0 {
				return fmt.Errorf("query %s: in-set filter needs at least one value", q.Collection)
			}
			if len(f.Values) > MaxInValues {
				return fmt.Errorf("query %s: in-set filter limited to %d values, got %d",
					q.Collection, MaxInValues, len(f.Values))
			}
		default:
			return fmt.Errorf("query %s: unsupported operator %q", q.Collection, f.Op)
		}
	}
	return nil
}

// Compound reports whether the query needs a composite index on the
// external store (more than one filtered field).
func (q Query) Compound() bool {
	fields := make(map[string]struct{}, len(q.Filters))
	for _, f := range q.Filters {
		fields[f.Field] = struct{}{}
	}
	return len(fields) > 1
}

// Handler receives the full current result set on every delivery, or a
// subscription error. Deliveries for one subscription are serial.
type Handler func(docs []domain.RawDocument, err error)

// Subscription is an open subscription handle. Cancel must be called
// when the subscription is no longer needed.
type Subscription interface {
	Cancel()
}

// Store is the document store boundary.
type Store interface {
	// Subscribe registers a handler that receives the entire current
	// result set for the query, once immediately and again after every
	// underlying change. Deliveries are monotonic in recency but may
	// lag writes made by this process.
	Subscribe(ctx context.Context, q Query, h Handler) (Subscription, error)

	// FetchOnce performs a one-shot fetch for fallback paths.
	FetchOnce(ctx context.Context, q Query) ([]domain.RawDocument, error)
}
