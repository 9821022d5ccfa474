package ticket

import (
	"context"
	"time"
)

type TicketFilter struct {
	LocationID *string
	Status     *string
	Source     *string
	Limit      int
	Offset     int
}

type TicketRepository interface {
	Create(ctx context.Context, t *Ticket) error
	FindByID(ctx context.Context, id TicketID) (*Ticket, error)
	// FindByExternalOrderID returns (nil, nil) when no ticket exists for the order.
	FindByExternalOrderID(ctx context.Context, externalOrderID string) (*Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]Ticket, error)

	// UpdateIf persists t only if the stored row still carries the given
	// status and model version. Returns ConflictError when the guard fails
	// and NotFoundError when the ticket is gone.
	UpdateIf(ctx context.Context, t *Ticket, expectedStatus string, expectedVersion int) error

	// CountActive counts promoted, non-terminal tickets at a location.
	// An empty source counts all sources.
	CountActive(ctx context.Context, locationID, source string) (int, error)
	// OldestQueued returns the placed, unpromoted ticket with the lowest
	// priority order, or (nil, nil) when the queue is empty.
	OldestQueued(ctx context.Context, locationID string) (*Ticket, error)
	// ListQueued returns all placed, unpromoted tickets at a location in
	// FIFO order.
	ListQueued(ctx context.Context, locationID string) ([]Ticket, error)
	// ActiveShortcodes returns shortcodes currently held by non-terminal
	// tickets at a location.
	ActiveShortcodes(ctx context.Context, locationID string) ([]string, error)
	// ClaimPromotion sets promoted_at and the shortcode, guarded on the
	// ticket still being unpromoted. Returns ConflictError if a racing
	// promoter claimed it first.
	ClaimPromotion(ctx context.Context, id TicketID, shortcode string, at time.Time) (*Ticket, error)
	// NextPriority returns the next priority order value for a location.
	NextPriority(ctx context.Context, locationID string) (int, error)
}

// OrderMirrorPatch carries the fields an upsert intends to write. Nil fields
// are left untouched so a partial feed payload never erases mirrored data.
type OrderMirrorPatch struct {
	ExternalOrderID string
	LocationID      *string
	State           *string
	Source          *string
	ReferenceID     *string
	LineItems       []LineItem
	Metadata        map[string]string
	CreatedAt       *time.Time
	UpdatedAt       time.Time
}

type OrderMirrorRepository interface {
	Upsert(ctx context.Context, patch OrderMirrorPatch) error
	FindByID(ctx context.Context, externalOrderID string) (*OrderMirror, error)
}
