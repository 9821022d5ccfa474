package ticket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt/events"
	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"github.com/google/uuid"
)

// MockTicketRepository is an in-memory TicketRepository honoring the same
// conditional-write guards as the Mongo implementation.
type MockTicketRepository struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*Ticket

	CreateFunc         func(ctx context.Context, t *Ticket) error
	UpdateIfFunc       func(ctx context.Context, t *Ticket, expectedStatus string, expectedVersion int) error
	FindByIDFunc       func(ctx context.Context, id TicketID) (*Ticket, error)
	ClaimPromotionFunc func(ctx context.Context, id TicketID, shortcode string, at time.Time) (*Ticket, error)
}

func NewMockTicketRepository() *MockTicketRepository {
	return &MockTicketRepository{
		tickets: make(map[uuid.UUID]*Ticket),
	}
}

func (m *MockTicketRepository) Create(ctx context.Context, t *Ticket) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tickets {
		if existing.ExternalOrderID == t.ExternalOrderID {
			return &ConflictError{ID: t.ID}
		}
	}
	if t.PlacedAt.IsZero() {
		t.PlacedAt = time.Now()
	}
	t.ModelVersion = 1
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MockTicketRepository) UpdateIf(ctx context.Context, t *Ticket, expectedStatus string, expectedVersion int) error {
	if m.UpdateIfFunc != nil {
		return m.UpdateIfFunc(ctx, t, expectedStatus, expectedVersion)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.tickets[t.ID]
	if !exists {
		return &NotFoundError{Kind: "ticket", ID: t.ID.String()}
	}
	if stored.Status != expectedStatus || stored.ModelVersion != expectedVersion {
		return &ConflictError{ID: t.ID}
	}
	t.ModelVersion = expectedVersion + 1
	t.UpdatedAt = time.Now()
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MockTicketRepository) FindByID(ctx context.Context, id TicketID) (*Ticket, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tickets[id]
	if !exists {
		return nil, &NotFoundError{Kind: "ticket", ID: id.String()}
	}
	cp := *t
	return &cp, nil
}

func (m *MockTicketRepository) FindByExternalOrderID(ctx context.Context, externalOrderID string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.ExternalOrderID == externalOrderID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockTicketRepository) List(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if filter.LocationID != nil && t.LocationID != *filter.LocationID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Source != nil && t.Source != *filter.Source {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PriorityOrder < result[j].PriorityOrder })
	return result, nil
}

func (m *MockTicketRepository) CountActive(ctx context.Context, locationID, source string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.tickets {
		if t.LocationID != locationID || !t.Active() {
			continue
		}
		if source != "" && t.Source != source {
			continue
		}
		count++
	}
	return count, nil
}

func (m *MockTicketRepository) OldestQueued(ctx context.Context, locationID string) (*Ticket, error) {
	queued, err := m.ListQueued(ctx, locationID)
	if err != nil || len(queued) == 0 {
		return nil, err
	}
	cp := queued[0]
	return &cp, nil
}

func (m *MockTicketRepository) ListQueued(ctx context.Context, locationID string) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var queued []Ticket
	for _, t := range m.tickets {
		if t.LocationID == locationID && t.Status == ticketstatus.Statuses.Placed.Code() && t.PromotedAt == nil {
			queued = append(queued, *t)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].PlacedAt.Equal(queued[j].PlacedAt) {
			return queued[i].PriorityOrder < queued[j].PriorityOrder
		}
		return queued[i].PlacedAt.Before(queued[j].PlacedAt)
	})
	return queued, nil
}

func (m *MockTicketRepository) ActiveShortcodes(ctx context.Context, locationID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var codes []string
	for _, t := range m.tickets {
		if t.LocationID == locationID && !t.Terminal() && t.Shortcode != "" {
			codes = append(codes, t.Shortcode)
		}
	}
	return codes, nil
}

func (m *MockTicketRepository) ClaimPromotion(ctx context.Context, id TicketID, shortcode string, at time.Time) (*Ticket, error) {
	if m.ClaimPromotionFunc != nil {
		return m.ClaimPromotionFunc(ctx, id, shortcode, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tickets[id]
	if !exists || t.PromotedAt != nil {
		return nil, &ConflictError{ID: id}
	}
	t.PromotedAt = &at
	t.Shortcode = shortcode
	t.UpdatedAt = at
	t.ModelVersion++
	cp := *t
	return &cp, nil
}

func (m *MockTicketRepository) NextPriority(ctx context.Context, locationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, t := range m.tickets {
		if t.LocationID == locationID && t.PriorityOrder > max {
			max = t.PriorityOrder
		}
	}
	return max + 1, nil
}

// AddTicket seeds the mock repository.
func (m *MockTicketRepository) AddTicket(t *Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ModelVersion == 0 {
		t.ModelVersion = 1
	}
	cp := *t
	m.tickets[t.ID] = &cp
}

// Get returns the stored ticket, bypassing the repository contract.
func (m *MockTicketRepository) Get(id TicketID) *Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// MockMirrorRepository is an in-memory OrderMirrorRepository.
type MockMirrorRepository struct {
	mu      sync.Mutex
	mirrors map[string]*OrderMirror

	UpsertFunc func(ctx context.Context, patch OrderMirrorPatch) error
}

func NewMockMirrorRepository() *MockMirrorRepository {
	return &MockMirrorRepository{
		mirrors: make(map[string]*OrderMirror),
	}
}

func (m *MockMirrorRepository) Upsert(ctx context.Context, patch OrderMirrorPatch) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, patch)
	}
	if patch.ExternalOrderID == "" {
		return &ValidationError{Field: "external_order_id", Reason: "must not be empty"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mirror, exists := m.mirrors[patch.ExternalOrderID]
	if !exists {
		mirror = &OrderMirror{ExternalOrderID: patch.ExternalOrderID}
		if patch.CreatedAt != nil {
			mirror.CreatedAt = *patch.CreatedAt
		} else {
			mirror.CreatedAt = time.Now()
		}
		m.mirrors[patch.ExternalOrderID] = mirror
	}
	if patch.LocationID != nil {
		mirror.LocationID = *patch.LocationID
	}
	if patch.State != nil {
		mirror.State = *patch.State
	}
	if patch.Source != nil {
		mirror.Source = *patch.Source
	}
	if patch.ReferenceID != nil {
		mirror.ReferenceID = *patch.ReferenceID
	}
	if patch.LineItems != nil {
		mirror.LineItems = patch.LineItems
	}
	if patch.Metadata != nil {
		mirror.Metadata = patch.Metadata
	}
	if !patch.UpdatedAt.IsZero() {
		mirror.UpdatedAt = patch.UpdatedAt
	} else {
		mirror.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MockMirrorRepository) FindByID(ctx context.Context, externalOrderID string) (*OrderMirror, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mirror, exists := m.mirrors[externalOrderID]
	if !exists {
		return nil, &NotFoundError{Kind: "order mirror", ID: externalOrderID}
	}
	cp := *mirror
	return &cp, nil
}

// MockPublisher is a test mock for events.Publisher.
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
	PublishFunc     func(ctx context.Context, topic string, data []byte) error
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedEvents: make([]PublishedEvent, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Topic: topic, Data: data})
	return nil
}

func (m *MockPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.PublishedEvents...)
}

// MockStreamConsumer is a test mock for events.StreamConsumer.
type MockStreamConsumer struct {
	messages            []events.StreamMessage
	FetchFunc           func(ctx context.Context, maxMessages int) ([]events.StreamMessage, error)
	SubscribeStreamFunc func(ctx context.Context, handler events.HandlerFunc) error
}

func NewMockStreamConsumer() *MockStreamConsumer {
	return &MockStreamConsumer{
		messages: make([]events.StreamMessage, 0),
	}
}

func (m *MockStreamConsumer) Fetch(ctx context.Context, maxMessages int) ([]events.StreamMessage, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, maxMessages)
	}
	return m.messages, nil
}

func (m *MockStreamConsumer) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	if m.SubscribeStreamFunc != nil {
		return m.SubscribeStreamFunc(ctx, handler)
	}
	return nil
}

func (m *MockStreamConsumer) AddMessage(data []byte) {
	m.messages = append(m.messages, events.StreamMessage{Data: data})
}
