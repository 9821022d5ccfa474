package event

import (
	"encoding/json"
	"time"
)

const (
	POSOrdersTopic       = "expedite.pos.orders"
	EventPOSOrderCreated = "pos.order.created"
	EventPOSOrderUpdated = "pos.order.updated"
)

// POSOrderEvent is the envelope published by the POS bridge when an order
// changes upstream. Order carries the raw vendor payload; it is validated at
// the mirror boundary, never decoded loosely by consumers.
type POSOrderEvent struct {
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	OrderID    string          `json:"order_id"`
	LocationID string          `json:"location_id"`
	Order      json.RawMessage `json:"order"`
}
