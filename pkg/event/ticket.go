package event

import "time"

const (
	TicketsTopic              = "expedite.tickets"
	EventTicketCreated        = "ticket.created"
	EventTicketStatusChanged  = "ticket.status_changed"
	EventTicketPromoted       = "ticket.promoted"
)

type TicketEventMetadata struct {
	EventType       string    `json:"event_type"`
	OccurredAt      time.Time `json:"occurred_at"`
	TicketID        string    `json:"ticket_id"`
	ExternalOrderID string    `json:"external_order_id"`
	LocationID      string    `json:"location_id"`
	Source          string    `json:"source"`

	// Denormalized data for display (kitchen board UI)
	Shortcode   string `json:"shortcode,omitempty"`
	CustomLabel string `json:"custom_label,omitempty"`
}

type TicketCreatedEvent struct {
	TicketEventMetadata
	Status        string `json:"status"`
	PriorityOrder int    `json:"priority_order"`
}

type TicketStatusChangedEvent struct {
	TicketEventMetadata
	NewStatus      string     `json:"new_status"`
	PreviousStatus string     `json:"previous_status"`
	Held           bool       `json:"held"`
	HeldReason     string     `json:"held_reason,omitempty"`
	StaffNotes     string     `json:"staff_notes,omitempty"`
	ReadyAt        *time.Time `json:"ready_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
	PromotedAt     *time.Time `json:"promoted_at,omitempty"`
}

type TicketPromotedEvent struct {
	TicketEventMetadata
	PromotedAt time.Time `json:"promoted_at"`
}
