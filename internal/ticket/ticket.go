package ticket

import (
	"time"

	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"github.com/google/uuid"
)

type TicketID = uuid.UUID

// Ticket is a kitchen work item backed 1:1 by an external order mirror.
type Ticket struct {
	ID              TicketID `bson:"_id" json:"id"`
	ExternalOrderID string   `bson:"external_order_id" json:"external_order_id"`
	LocationID      string   `bson:"location_id" json:"location_id"`
	Source          string   `bson:"source" json:"source"`
	Status          string   `bson:"status" json:"status"`

	// Hold is orthogonal to the primary status: a held ticket keeps its
	// status and stays in the active count.
	Held       bool       `bson:"held" json:"held"`
	HeldAt     *time.Time `bson:"held_at,omitempty" json:"held_at,omitempty"`
	HeldReason string     `bson:"held_reason,omitempty" json:"held_reason,omitempty"`

	// Display/ops fields
	Shortcode     string `bson:"shortcode,omitempty" json:"shortcode,omitempty"`
	CustomLabel   string `bson:"custom_label,omitempty" json:"custom_label,omitempty"`
	StaffNotes    string `bson:"staff_notes,omitempty" json:"staff_notes,omitempty"`
	PriorityOrder int    `bson:"priority_order" json:"priority_order"`

	PlacedAt    time.Time  `bson:"placed_at" json:"placed_at"`
	ReadyAt     *time.Time `bson:"ready_at,omitempty" json:"ready_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	CanceledAt  *time.Time `bson:"canceled_at,omitempty" json:"canceled_at,omitempty"`
	PromotedAt  *time.Time `bson:"promoted_at,omitempty" json:"promoted_at,omitempty"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`

	// ActorID records the staff member behind the last status change.
	ActorID string `bson:"actor_id,omitempty" json:"actor_id,omitempty"`

	ModelVersion int `bson:"model_version" json:"model_version"`
}

// Terminal reports whether the ticket reached a terminal state.
func (t *Ticket) Terminal() bool {
	return ticketstatus.IsTerminal(t.Status)
}

// Active reports whether the ticket counts against location capacity:
// promoted and not terminal.
func (t *Ticket) Active() bool {
	return t.PromotedAt != nil && !t.Terminal()
}

// Mirror states for external orders.
const (
	MirrorStateOpen      = "OPEN"
	MirrorStateCompleted = "COMPLETED"
	MirrorStateCanceled  = "CANCELED"
)

// OrderMirror is the local read replica of a remote POS order. It is mutated
// only by the reconciler and the ingest subscriber.
type OrderMirror struct {
	ExternalOrderID string            `bson:"_id" json:"external_order_id"`
	LocationID      string            `bson:"location_id" json:"location_id"`
	State           string            `bson:"state" json:"state"`
	Source          string            `bson:"source" json:"source"`
	ReferenceID     string            `bson:"reference_id,omitempty" json:"reference_id,omitempty"`
	LineItems       []LineItem        `bson:"line_items,omitempty" json:"line_items,omitempty"`
	Metadata        map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt       time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `bson:"updated_at" json:"updated_at"`
}

type LineItem struct {
	Name     string `bson:"name" json:"name"`
	Quantity int    `bson:"quantity" json:"quantity"`
	Note     string `bson:"note,omitempty" json:"note,omitempty"`
}

// MirrorStateTerminal reports whether a mirror state means no more kitchen
// work for the order.
func MirrorStateTerminal(state string) bool {
	return state == MirrorStateCompleted || state == MirrorStateCanceled
}
