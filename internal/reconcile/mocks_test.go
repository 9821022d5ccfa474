package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/expeditehq/expedite/internal/pos"
	"github.com/expeditehq/expedite/internal/ticket"
	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"github.com/google/uuid"
)

// fakeFeed is an in-memory pos.Client. Orders keyed by id; FailFetch forces
// transient errors for specific orders.
type fakeFeed struct {
	mu        sync.Mutex
	orders    map[string]*pos.Order
	FailFetch map[string]error
	listErr   error
	fetches   int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		orders:    make(map[string]*pos.Order),
		FailFetch: make(map[string]error),
	}
}

func (f *fakeFeed) add(o *pos.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

func (f *fakeFeed) ListOrderIDsUpdatedSince(ctx context.Context, locationID string, since time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	for id, o := range f.orders {
		if o.LocationID == locationID && !o.UpdatedAt.Before(since) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeFeed) FetchOrder(ctx context.Context, orderID string) (*pos.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := f.FailFetch[orderID]; err != nil {
		return nil, err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, &ticket.NotFoundError{Kind: "order", ID: orderID}
	}
	cp := *o
	return &cp, nil
}

// memTicketRepo is a minimal in-memory ticket.TicketRepository with the same
// conditional-write behavior as the Mongo implementation.
type memTicketRepo struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]*ticket.Ticket
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[uuid.UUID]*ticket.Ticket)}
}

func (m *memTicketRepo) Create(ctx context.Context, t *ticket.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tickets {
		if existing.ExternalOrderID == t.ExternalOrderID {
			return &ticket.ConflictError{ID: t.ID}
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

func (m *memTicketRepo) FindByID(ctx context.Context, id ticket.TicketID) (*ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, &ticket.NotFoundError{Kind: "ticket", ID: id.String()}
	}
	cp := *t
	return &cp, nil
}

func (m *memTicketRepo) FindByExternalOrderID(ctx context.Context, externalOrderID string) (*ticket.Ticket, error) {
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

func (m *memTicketRepo) List(ctx context.Context, filter ticket.TicketFilter) ([]ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []ticket.Ticket
	for _, t := range m.tickets {
		result = append(result, *t)
	}
	return result, nil
}

func (m *memTicketRepo) UpdateIf(ctx context.Context, t *ticket.Ticket, expectedStatus string, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tickets[t.ID]
	if !ok {
		return &ticket.NotFoundError{Kind: "ticket", ID: t.ID.String()}
	}
	if stored.Status != expectedStatus || stored.ModelVersion != expectedVersion {
		return &ticket.ConflictError{ID: t.ID}
	}
	t.ModelVersion = expectedVersion + 1
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *memTicketRepo) CountActive(ctx context.Context, locationID, source string) (int, error) {
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

func (m *memTicketRepo) OldestQueued(ctx context.Context, locationID string) (*ticket.Ticket, error) {
	queued, _ := m.ListQueued(ctx, locationID)
	if len(queued) == 0 {
		return nil, nil
	}
	cp := queued[0]
	return &cp, nil
}

func (m *memTicketRepo) ListQueued(ctx context.Context, locationID string) ([]ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var queued []ticket.Ticket
	for _, t := range m.tickets {
		if t.LocationID == locationID && t.Status == ticketstatus.Statuses.Placed.Code() && t.PromotedAt == nil {
			queued = append(queued, *t)
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].PlacedAt.Before(queued[j].PlacedAt) })
	return queued, nil
}

func (m *memTicketRepo) ActiveShortcodes(ctx context.Context, locationID string) ([]string, error) {
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

func (m *memTicketRepo) ClaimPromotion(ctx context.Context, id ticket.TicketID, shortcode string, at time.Time) (*ticket.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok || t.PromotedAt != nil {
		return nil, &ticket.ConflictError{ID: id}
	}
	t.PromotedAt = &at
	t.Shortcode = shortcode
	t.ModelVersion++
	cp := *t
	return &cp, nil
}

func (m *memTicketRepo) NextPriority(ctx context.Context, locationID string) (int, error) {
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

func (m *memTicketRepo) byExternal(externalOrderID string) *ticket.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickets {
		if t.ExternalOrderID == externalOrderID {
			cp := *t
			return &cp
		}
	}
	return nil
}

func (m *memTicketRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickets)
}

// memMirrorRepo is a minimal in-memory ticket.OrderMirrorRepository.
type memMirrorRepo struct {
	mu      sync.Mutex
	mirrors map[string]*ticket.OrderMirror
	upserts int
}

func newMemMirrorRepo() *memMirrorRepo {
	return &memMirrorRepo{mirrors: make(map[string]*ticket.OrderMirror)}
}

func (m *memMirrorRepo) Upsert(ctx context.Context, patch ticket.OrderMirrorPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	mirror, ok := m.mirrors[patch.ExternalOrderID]
	if !ok {
		mirror = &ticket.OrderMirror{ExternalOrderID: patch.ExternalOrderID}
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
	if patch.CreatedAt != nil && mirror.CreatedAt.IsZero() {
		mirror.CreatedAt = *patch.CreatedAt
	}
	mirror.UpdatedAt = patch.UpdatedAt
	return nil
}

func (m *memMirrorRepo) FindByID(ctx context.Context, externalOrderID string) (*ticket.OrderMirror, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mirror, ok := m.mirrors[externalOrderID]
	if !ok {
		return nil, &ticket.NotFoundError{Kind: "order mirror", ID: externalOrderID}
	}
	cp := *mirror
	return &cp, nil
}
