// Package domain holds the core types shared across the aggregation pipeline.
package domain

// RawDocument is an untyped document as delivered by the external store.
// No field is guaranteed to be present or well-typed.
type RawDocument struct {
	// ID is the store-assigned document identifier.
	ID string
	// Fields is the raw key-value payload.
	Fields map[string]any
}

// Collection names used by the aggregation pipeline.
const (
	CollectionSales        = "sales"
	CollectionAttendances  = "attendances"
	CollectionEvents       = "events"
	CollectionInteractions = "interactions"
)
