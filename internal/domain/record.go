package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale is the normalized projection of a "sales" document.
type Sale struct {
	ID         string          `json:"id"`
	EventID    string          `json:"event_id"`
	CustomerID string          `json:"customer_id"`
	TierID     string          `json:"tier_id"`
	Amount     decimal.Decimal `json:"amount"`
	Quantity   int             `json:"quantity"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Attendance is the normalized projection of an "attendances" document.
// Quantity is the group size covered by one RSVP.
type Attendance struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	CustomerID string    `json:"customer_id"`
	TierID     string    `json:"tier_id"`
	Status     string    `json:"status"`
	Quantity   int       `json:"quantity"`
	Timestamp  time.Time `json:"timestamp"`
}

// Attendance statuses recognized by the pipeline.
const (
	AttendanceConfirmed = "confirmed"
	AttendanceCancelled = "cancelled"
)

// Interaction is the normalized projection of an "interactions" document
// (views, clicks and RSVP taps from the consumer app).
type Interaction struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	CustomerID string    `json:"customer_id"`
	Kind       string    `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// Interaction kinds.
const (
	InteractionView  = "view"
	InteractionClick = "click"
	InteractionRSVP  = "rsvp"
)

// Event is the normalized projection of an "events" document. Events are
// the parent entities of sales and attendances and carry the tier price
// table used for the revenue join.
type Event struct {
	ID         string                     `json:"id"`
	OwnerID    string                     `json:"owner_id"`
	Name       string                     `json:"name"`
	Status     string                     `json:"status"`
	TierPrices map[string]decimal.Decimal `json:"tier_prices"`
	StartAt    time.Time                  `json:"start_at"`
}
