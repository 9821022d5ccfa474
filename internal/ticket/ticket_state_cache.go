package ticket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	aqm "github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"github.com/expeditehq/expedite/pkg/event"
	"github.com/google/uuid"
)

// TicketNotifier receives every board change for realtime fan-out (SSE hub).
type TicketNotifier interface {
	BroadcastTicketEvent(evt *event.TicketStatusChangedEvent)
}

// TicketStateCache is the injectable in-memory view of the kitchen board:
// promoted, non-terminal tickets indexed by location and status. It is an
// explicitly constructed component, never a package-level singleton, so
// tests and collaborators receive their own instance.
type TicketStateCache struct {
	mu sync.RWMutex
	// tickets indexed by ticket id
	tickets map[uuid.UUID]*Ticket
	// index by location id -> ticket ids
	byLocation map[string][]uuid.UUID
	// index by status code -> ticket ids
	byStatus map[string][]uuid.UUID

	stream events.StreamConsumer // For event replay on startup
	repo   TicketRepository     // Fallback to MongoDB if stream unavailable
	logger aqm.Logger

	notifier TicketNotifier
}

// NewTicketStateCache creates a new board cache.
func NewTicketStateCache(stream events.StreamConsumer, repo TicketRepository, logger aqm.Logger) *TicketStateCache {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &TicketStateCache{
		tickets:    make(map[uuid.UUID]*Ticket),
		byLocation: make(map[string][]uuid.UUID),
		byStatus:   make(map[string][]uuid.UUID),
		stream:     stream,
		repo:       repo,
		logger:     logger,
	}
}

// SetNotifier wires the realtime fan-out (called after both components exist).
func (c *TicketStateCache) SetNotifier(n TicketNotifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// Warm loads board state using event replay from the stream, falling back to
// the repository when the stream is unavailable.
func (c *TicketStateCache) Warm(ctx context.Context) error {
	if c.stream != nil {
		if err := c.warmFromStream(ctx); err != nil {
			c.logger.Info("stream replay failed, falling back to repository", "error", err)
		} else {
			c.dropOffBoard()
			return nil
		}
	}

	if c.repo == nil {
		c.logger.Info("neither stream nor repo configured, cache remains empty")
		return nil
	}
	return c.warmFromRepo(ctx)
}

// WarmFromRepo loads tickets directly from the repository, bypassing event
// replay. Used after seeding data without publishing events.
func (c *TicketStateCache) WarmFromRepo(ctx context.Context) error {
	return c.warmFromRepo(ctx)
}

func (c *TicketStateCache) warmFromStream(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Info("stream panic recovered, falling back to repository", "panic", r)
		}
	}()

	c.logger.Info("warming board cache from event stream")

	messages, err := c.stream.Fetch(ctx, 10000)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, msg := range messages {
		c.applyEventLocked(msg.Data)
	}

	c.logger.Info("board cache warmed from stream", "tickets", len(c.tickets))
	return nil
}

func (c *TicketStateCache) warmFromRepo(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Info("repository panic recovered, cache will remain empty", "panic", r)
			err = nil
		}
	}()

	if c.repo == nil {
		return nil
	}

	c.logger.Info("warming board cache from repository")

	tickets, dbErr := c.repo.List(ctx, TicketFilter{})
	if dbErr != nil {
		c.logger.Info("failed to warm board cache, cache will remain empty", "error", dbErr)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var loaded int
	for i := range tickets {
		t := &tickets[i]
		if !t.Active() {
			continue
		}
		c.setLocked(t, false)
		loaded++
	}

	c.logger.Info("board cache warmed from repository", "count", loaded)
	return nil
}

// applyEventLocked replays a single persisted event into the cache.
// Must be called with c.mu locked.
func (c *TicketStateCache) applyEventLocked(data []byte) {
	var baseEvent struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &baseEvent); err != nil {
		c.logger.Error("failed to unmarshal event type", "error", err)
		return
	}

	switch baseEvent.EventType {
	case event.EventTicketStatusChanged:
		c.replayStatusChangedLocked(data)
	case event.EventTicketPromoted:
		c.replayPromotedLocked(data)
	default:
		// ticket.created and unknown types carry no board state
		return
	}
}

func (c *TicketStateCache) replayStatusChangedLocked(data []byte) {
	var evt event.TicketStatusChangedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		c.logger.Error("failed to unmarshal ticket.status_changed event", "error", err)
		return
	}

	ticketID, err := uuid.Parse(evt.TicketID)
	if err != nil {
		return
	}

	t := c.tickets[ticketID]
	if t == nil {
		t = &Ticket{
			ID:              ticketID,
			ExternalOrderID: evt.ExternalOrderID,
			LocationID:      evt.LocationID,
			Source:          evt.Source,
		}
	}

	t.Status = evt.NewStatus
	t.Held = evt.Held
	t.HeldReason = evt.HeldReason
	t.StaffNotes = evt.StaffNotes
	t.Shortcode = evt.Shortcode
	t.CustomLabel = evt.CustomLabel
	t.ReadyAt = evt.ReadyAt
	t.CompletedAt = evt.CompletedAt
	t.CanceledAt = evt.CanceledAt
	t.PromotedAt = evt.PromotedAt
	t.UpdatedAt = evt.OccurredAt

	c.setLocked(t, false)
}

func (c *TicketStateCache) replayPromotedLocked(data []byte) {
	var evt event.TicketPromotedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		c.logger.Error("failed to unmarshal ticket.promoted event", "error", err)
		return
	}

	ticketID, err := uuid.Parse(evt.TicketID)
	if err != nil {
		return
	}

	t := c.tickets[ticketID]
	if t == nil {
		t = &Ticket{
			ID:              ticketID,
			ExternalOrderID: evt.ExternalOrderID,
			LocationID:      evt.LocationID,
			Source:          evt.Source,
			Status:          ticketstatus.Statuses.Placed.Code(),
		}
	}

	promotedAt := evt.PromotedAt
	t.PromotedAt = &promotedAt
	t.Shortcode = evt.Shortcode
	t.UpdatedAt = evt.OccurredAt

	c.setLocked(t, false)
}

// dropOffBoard removes terminal and unpromoted tickets after stream replay so
// the cache holds only the visible board.
func (c *TicketStateCache) dropOffBoard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for id, t := range c.tickets {
		if t.Active() {
			continue
		}
		c.removeFromIndex(c.byLocation, t.LocationID, id)
		c.removeFromIndex(c.byStatus, t.Status, id)
		delete(c.tickets, id)
		removed++
	}

	c.logger.Info("removed off-board tickets from cache", "count", removed)
}

// Set updates or adds a ticket to the cache and notifies stream subscribers.
func (c *TicketStateCache) Set(t *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t, true)
}

func (c *TicketStateCache) setLocked(t *Ticket, broadcast bool) {
	if t == nil {
		return
	}

	var previousStatus string
	if old, exists := c.tickets[t.ID]; exists {
		previousStatus = old.Status
		c.removeFromIndex(c.byLocation, old.LocationID, t.ID)
		c.removeFromIndex(c.byStatus, old.Status, t.ID)
	}

	c.tickets[t.ID] = t
	c.addToIndex(c.byLocation, t.LocationID, t.ID)
	c.addToIndex(c.byStatus, t.Status, t.ID)

	if broadcast && c.notifier != nil {
		evt := &event.TicketStatusChangedEvent{
			TicketEventMetadata: ticketEventMetadata(event.EventTicketStatusChanged, t, t.UpdatedAt),
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
		c.notifier.BroadcastTicketEvent(evt)
	}
}

// Get retrieves a ticket by ID, or nil when it is not on the board.
func (c *TicketStateCache) Get(ticketID uuid.UUID) *Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickets[ticketID]
}

// Board returns the visible kitchen board for a location: active tickets in
// priority order.
func (c *TicketStateCache) Board(locationID string) []*Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.byLocation[locationID]
	result := make([]*Ticket, 0, len(ids))
	for _, id := range ids {
		if t := c.tickets[id]; t != nil && t.Active() {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PriorityOrder < result[j].PriorityOrder
	})
	return result
}

// GetByStatusCode returns all cached tickets with a given status code.
func (c *TicketStateCache) GetByStatusCode(status string) []*Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.byStatus[status]
	result := make([]*Ticket, 0, len(ids))
	for _, id := range ids {
		if t := c.tickets[id]; t != nil {
			result = append(result, t)
		}
	}
	return result
}

// GetAll returns all cached tickets.
func (c *TicketStateCache) GetAll() []*Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Ticket, 0, len(c.tickets))
	for _, t := range c.tickets {
		result = append(result, t)
	}
	return result
}

// Remove deletes a ticket from the cache (terminal transitions).
func (c *TicketStateCache) Remove(ticketID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.tickets[ticketID]
	if t == nil {
		return
	}

	c.removeFromIndex(c.byLocation, t.LocationID, ticketID)
	c.removeFromIndex(c.byStatus, t.Status, ticketID)
	delete(c.tickets, ticketID)
}

func (c *TicketStateCache) addToIndex(index map[string][]uuid.UUID, key string, ticketID uuid.UUID) {
	index[key] = append(index[key], ticketID)
}

func (c *TicketStateCache) removeFromIndex(index map[string][]uuid.UUID, key string, ticketID uuid.UUID) {
	ids := index[key]
	for i, id := range ids {
		if id == ticketID {
			index[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// Count returns the number of tickets in the cache
func (c *TicketStateCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tickets)
}
