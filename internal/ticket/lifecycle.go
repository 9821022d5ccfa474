package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	aqm "github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/expeditehq/expedite/pkg/enums/ordersource"
	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"github.com/expeditehq/expedite/pkg/event"
	"github.com/google/uuid"
)

// validTransitions is the primary-status table. Recall (completed -> ready)
// and hold/unhold are administrative operations with their own entry points.
var validTransitions = map[string][]string{
	ticketstatus.Statuses.Placed.Code():    {ticketstatus.Statuses.Preparing.Code(), ticketstatus.Statuses.Ready.Code()},
	ticketstatus.Statuses.Preparing.Code(): {ticketstatus.Statuses.Ready.Code()},
	ticketstatus.Statuses.Ready.Code():     {ticketstatus.Statuses.Completed.Code()},
}

func transitionAllowed(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle validates and applies ticket status transitions and owns their
// timestamp side effects. All writes go through conditional updates so two
// staff members tapping the same ticket cannot silently overwrite each other.
type Lifecycle struct {
	tickets   TicketRepository
	mirrors   OrderMirrorRepository
	cache     *TicketStateCache
	publisher events.Publisher
	promoter  *Promoter
	logger    aqm.Logger
	now       func() time.Time
}

func NewLifecycle(tickets TicketRepository, mirrors OrderMirrorRepository, cache *TicketStateCache, publisher events.Publisher, logger aqm.Logger) *Lifecycle {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Lifecycle{
		tickets:   tickets,
		mirrors:   mirrors,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetPromoter wires the admission component (called after both exist).
func (l *Lifecycle) SetPromoter(p *Promoter) {
	l.promoter = p
}

// UpdateStatus applies a primary-status transition. Calling it with the
// ticket's current status is a no-op so timestamps are never double-set.
func (l *Lifecycle) UpdateStatus(ctx context.Context, id TicketID, newStatus, actorID string) (*Ticket, error) {
	if ticketstatus.ByName(newStatus) == nil {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unrecognized value %q", newStatus)}
	}

	t, changed, prev, err := l.applyStatus(ctx, id, newStatus, actorID)
	if IsConflict(err) {
		// One retry after a concurrent update; the re-read revalidates the
		// transition against the winner's state.
		t, changed, prev, err = l.applyStatus(ctx, id, newStatus, actorID)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return t, nil
	}

	l.afterChange(ctx, t, prev)

	if newStatus == ticketstatus.Statuses.Completed.Code() {
		l.runFollowUps(ctx, []followUp{l.promoteFollowUp(t.LocationID)})
	}
	return t, nil
}

func (l *Lifecycle) applyStatus(ctx context.Context, id TicketID, newStatus, actorID string) (*Ticket, bool, string, error) {
	t, err := l.tickets.FindByID(ctx, id)
	if err != nil {
		return nil, false, "", err
	}
	if t.Status == newStatus {
		return t, false, t.Status, nil
	}
	if !transitionAllowed(t.Status, newStatus) {
		return nil, false, "", &InvalidTransitionError{From: t.Status, To: newStatus}
	}

	prev := t.Status
	now := l.now()
	updated := *t
	updated.Status = newStatus
	if actorID != "" {
		updated.ActorID = actorID
	}
	switch newStatus {
	case ticketstatus.Statuses.Ready.Code():
		if updated.ReadyAt == nil {
			updated.ReadyAt = &now
		}
	case ticketstatus.Statuses.Completed.Code():
		if updated.CompletedAt == nil {
			updated.CompletedAt = &now
		}
	}

	if err := l.tickets.UpdateIf(ctx, &updated, prev, t.ModelVersion); err != nil {
		return nil, false, "", err
	}
	return &updated, true, prev, nil
}

// Recall is the only permitted backward transition: completed -> ready.
// CompletedAt is cleared and ReadyAt reset to the recall time. Completion
// frees the shortcode for reuse, so a recall re-checks it against the active
// set and takes a fresh code when the old one was handed out meanwhile.
func (l *Lifecycle) Recall(ctx context.Context, id TicketID, actorID string) (*Ticket, error) {
	var result *Ticket
	err := l.withConflictRetry(ctx, id, func(t *Ticket) (*Ticket, error) {
		if t.Status != ticketstatus.Statuses.Completed.Code() {
			return nil, &InvalidTransitionError{From: t.Status, To: ticketstatus.Statuses.Ready.Code()}
		}
		now := l.now()
		updated := *t
		updated.Status = ticketstatus.Statuses.Ready.Code()
		updated.CompletedAt = nil
		updated.ReadyAt = &now
		if actorID != "" {
			updated.ActorID = actorID
		}

		if updated.Shortcode != "" {
			inUse, err := l.tickets.ActiveShortcodes(ctx, updated.LocationID)
			if err != nil {
				return nil, err
			}
			used := make(map[string]struct{}, len(inUse))
			for _, code := range inUse {
				used[code] = struct{}{}
			}
			if _, taken := used[updated.Shortcode]; taken {
				code := AssignShortcode(updated.LocationID, updated.Source, used)
				if code == "" {
					return nil, &ConflictError{ID: id, Reason: "no shortcode free for recall"}
				}
				updated.Shortcode = code
			}
		}

		result = &updated
		return &updated, nil
	})
	if err != nil {
		return nil, err
	}
	l.afterChange(ctx, result, ticketstatus.Statuses.Completed.Code())
	return result, nil
}

// Hold marks a non-terminal ticket as held without touching its primary status.
func (l *Lifecycle) Hold(ctx context.Context, id TicketID, reason, actorID string) (*Ticket, error) {
	var result *Ticket
	var changed bool
	err := l.withConflictRetry(ctx, id, func(t *Ticket) (*Ticket, error) {
		if t.Terminal() {
			return nil, &InvalidTransitionError{From: t.Status, To: "held"}
		}
		if t.Held {
			result = t
			return nil, nil
		}
		changed = true
		now := l.now()
		updated := *t
		updated.Held = true
		updated.HeldAt = &now
		updated.HeldReason = reason
		if actorID != "" {
			updated.ActorID = actorID
		}
		result = &updated
		return &updated, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		l.afterChange(ctx, result, result.Status)
	}
	return result, nil
}

// Unhold clears the hold flag; the primary status is unchanged.
func (l *Lifecycle) Unhold(ctx context.Context, id TicketID, actorID string) (*Ticket, error) {
	var result *Ticket
	var changed bool
	err := l.withConflictRetry(ctx, id, func(t *Ticket) (*Ticket, error) {
		if !t.Held {
			result = t
			return nil, nil
		}
		changed = true
		updated := *t
		updated.Held = false
		updated.HeldAt = nil
		updated.HeldReason = ""
		if actorID != "" {
			updated.ActorID = actorID
		}
		result = &updated
		return &updated, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		l.afterChange(ctx, result, result.Status)
	}
	return result, nil
}

// UpdateDetails sets staff notes and/or the custom label. Nil leaves a field
// untouched.
func (l *Lifecycle) UpdateDetails(ctx context.Context, id TicketID, staffNotes, customLabel *string) (*Ticket, error) {
	var result *Ticket
	err := l.withConflictRetry(ctx, id, func(t *Ticket) (*Ticket, error) {
		updated := *t
		if staffNotes != nil {
			updated.StaffNotes = *staffNotes
		}
		if customLabel != nil {
			updated.CustomLabel = *customLabel
		}
		result = &updated
		return &updated, nil
	})
	if err != nil {
		return nil, err
	}
	if l.cache != nil && result.Active() {
		l.cache.Set(result)
	}
	return result, nil
}

// EnsureCreated creates the ticket for an open order mirror if none exists.
// It never downgrades an existing ticket. The bool reports whether a ticket
// was created by this call.
func (l *Lifecycle) EnsureCreated(ctx context.Context, m *OrderMirror) (*Ticket, bool, error) {
	existing, err := l.tickets.FindByExternalOrderID(ctx, m.ExternalOrderID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if ordersource.ByName(m.Source) == nil {
		return nil, false, &ValidationError{Field: "source", Reason: fmt.Sprintf("unrecognized value %q", m.Source)}
	}

	priority, err := l.tickets.NextPriority(ctx, m.LocationID)
	if err != nil {
		return nil, false, err
	}

	placedAt := m.CreatedAt
	if placedAt.IsZero() {
		placedAt = l.now()
	}

	t := &Ticket{
		ID:              uuid.New(),
		ExternalOrderID: m.ExternalOrderID,
		LocationID:      m.LocationID,
		Source:          m.Source,
		Status:          ticketstatus.Statuses.Placed.Code(),
		PriorityOrder:   priority,
		PlacedAt:        placedAt,
	}

	if err := l.tickets.Create(ctx, t); err != nil {
		if IsConflict(err) {
			// Lost a creation race for the same order; the winner's ticket
			// is the one we want.
			winner, ferr := l.tickets.FindByExternalOrderID(ctx, m.ExternalOrderID)
			if ferr == nil && winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, err
	}

	l.publishCreated(ctx, t)
	l.logger.Infof("Created ticket %s for order %s", t.ID, m.ExternalOrderID)
	return t, true, nil
}

// MarkTerminal moves the ticket for a terminal order mirror to completed or
// canceled. Monotonic and idempotent: an already-terminal ticket is left
// alone. The bool reports whether a transition happened.
func (l *Lifecycle) MarkTerminal(ctx context.Context, m *OrderMirror) (bool, error) {
	target := ticketstatus.Statuses.Completed.Code()
	if m.State == MirrorStateCanceled {
		target = ticketstatus.Statuses.Canceled.Code()
	}

	t, err := l.tickets.FindByExternalOrderID(ctx, m.ExternalOrderID)
	if err != nil {
		return false, err
	}
	if t == nil || t.Terminal() {
		return false, nil
	}

	var result *Ticket
	prev := t.Status
	err = l.withConflictRetry(ctx, t.ID, func(cur *Ticket) (*Ticket, error) {
		if cur.Terminal() {
			result = cur
			return nil, nil
		}
		prev = cur.Status
		now := l.now()
		updated := *cur
		updated.Status = target
		switch target {
		case ticketstatus.Statuses.Completed.Code():
			if updated.CompletedAt == nil {
				updated.CompletedAt = &now
			}
		case ticketstatus.Statuses.Canceled.Code():
			if updated.CanceledAt == nil {
				updated.CanceledAt = &now
			}
		}
		result = &updated
		return &updated, nil
	})
	if err != nil {
		return false, err
	}
	if result.Status != target {
		return false, nil
	}

	l.afterChange(ctx, result, prev)
	l.runFollowUps(ctx, []followUp{l.promoteFollowUp(result.LocationID)})
	return true, nil
}

// withConflictRetry runs a read-validate-write cycle through the conditional
// update, retrying exactly once when a concurrent writer wins the race.
// mutate returns (nil, nil) to signal a no-op.
func (l *Lifecycle) withConflictRetry(ctx context.Context, id TicketID, mutate func(t *Ticket) (*Ticket, error)) error {
	for attempt := 0; attempt < 2; attempt++ {
		t, err := l.tickets.FindByID(ctx, id)
		if err != nil {
			return err
		}
		updated, err := mutate(t)
		if err != nil {
			return err
		}
		if updated == nil {
			return nil
		}
		err = l.tickets.UpdateIf(ctx, updated, t.Status, t.ModelVersion)
		if err == nil {
			return nil
		}
		if !IsConflict(err) || attempt == 1 {
			return err
		}
	}
	return &ConflictError{ID: id}
}

// afterChange refreshes the board cache and publishes the status-change
// event. Both are best effort and never fail the transition.
func (l *Lifecycle) afterChange(ctx context.Context, t *Ticket, previousStatus string) {
	if l.cache != nil {
		if t.Terminal() {
			// Broadcast the terminal state before dropping it off the board
			// so realtime subscribers see the ticket leave.
			l.cache.Set(t)
			l.cache.Remove(t.ID)
		} else if t.Active() {
			l.cache.Set(t)
		}
	}
	l.publishStatusChanged(ctx, t, previousStatus)
}

type followUp struct {
	name string
	run  func(ctx context.Context) error
}

// promoteFollowUp is the deferred admission attempt that runs after a ticket
// leaves the active set. Failures are logged, never escalated.
func (l *Lifecycle) promoteFollowUp(locationID string) followUp {
	return followUp{
		name: "promote:" + locationID,
		run: func(ctx context.Context) error {
			if l.promoter == nil {
				return nil
			}
			_, err := l.promoter.TryPromote(ctx, locationID)
			return err
		},
	}
}

func (l *Lifecycle) runFollowUps(ctx context.Context, fus []followUp) {
	for _, fu := range fus {
		if err := fu.run(ctx); err != nil {
			l.logger.Errorf("follow-up %s failed: %v", fu.name, err)
		}
	}
}

func (l *Lifecycle) publishCreated(ctx context.Context, t *Ticket) {
	if l.publisher == nil {
		return
	}
	payload := event.TicketCreatedEvent{
		TicketEventMetadata: ticketEventMetadata(event.EventTicketCreated, t, l.now()),
		Status:              t.Status,
		PriorityOrder:       t.PriorityOrder,
	}
	data, _ := json.Marshal(payload)
	if err := l.publisher.Publish(ctx, event.TicketsTopic, data); err != nil {
		l.logger.Errorf("Failed to publish ticket.created event: %v", err)
	}
}

func (l *Lifecycle) publishStatusChanged(ctx context.Context, t *Ticket, previousStatus string) {
	if l.publisher == nil {
		return
	}
	payload := event.TicketStatusChangedEvent{
		TicketEventMetadata: ticketEventMetadata(event.EventTicketStatusChanged, t, l.now()),
		NewStatus:           t.Status,
		PreviousStatus:      previousStatus,
		Held:                t.Held,
		HeldReason:          t.HeldReason,
		StaffNotes:          t.StaffNotes,
		ReadyAt:             t.ReadyAt,
		CompletedAt:         t.CompletedAt,
		CanceledAt:          t.CanceledAt,
		PromotedAt:          t.PromotedAt,
	}
	data, _ := json.Marshal(payload)
	if err := l.publisher.Publish(ctx, event.TicketsTopic, data); err != nil {
		l.logger.Errorf("Failed to publish ticket.status_changed event: %v", err)
	}
}

func ticketEventMetadata(eventType string, t *Ticket, at time.Time) event.TicketEventMetadata {
	return event.TicketEventMetadata{
		EventType:       eventType,
		OccurredAt:      at,
		TicketID:        t.ID.String(),
		ExternalOrderID: t.ExternalOrderID,
		LocationID:      t.LocationID,
		Source:          t.Source,
		Shortcode:       t.Shortcode,
		CustomLabel:     t.CustomLabel,
	}
}
