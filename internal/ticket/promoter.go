package ticket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	aqm "github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/expeditehq/expedite/pkg/enums/ordersource"
	"github.com/expeditehq/expedite/pkg/event"
)

// CapacityConfig bounds how many tickets may be actively worked at a location.
type CapacityConfig struct {
	TotalLimit     int
	OnlineSubLimit int
}

func DefaultCapacity() CapacityConfig {
	return CapacityConfig{TotalLimit: 8, OnlineSubLimit: 5}
}

// Promoter decides whether the oldest queued ticket may become active. All
// promotion triggers in the service funnel through TryPromote, which is
// single-flight per location: the per-location mutex serializes in-process
// callers and the repository's conditional claim backstops racing processes.
type Promoter struct {
	repo      TicketRepository
	cache     *TicketStateCache
	publisher events.Publisher
	logger    aqm.Logger
	capacity  func(locationID string) CapacityConfig
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPromoter(repo TicketRepository, cache *TicketStateCache, publisher events.Publisher, capacity func(locationID string) CapacityConfig, logger aqm.Logger) *Promoter {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if capacity == nil {
		capacity = func(string) CapacityConfig { return DefaultCapacity() }
	}
	return &Promoter{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
		capacity:  capacity,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (p *Promoter) locationLock(locationID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[locationID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[locationID] = lock
	}
	return lock
}

// TryPromote admits the oldest queued ticket at the location if capacity
// allows. A nil ticket with nil error is the normal backpressure outcome:
// at capacity, empty queue, source quota exhausted, or no shortcode left.
func (p *Promoter) TryPromote(ctx context.Context, locationID string) (*Ticket, error) {
	lock := p.locationLock(locationID)
	lock.Lock()
	defer lock.Unlock()

	cfg := p.capacity(locationID)

	active, err := p.repo.CountActive(ctx, locationID, "")
	if err != nil {
		return nil, err
	}
	if active >= cfg.TotalLimit {
		return nil, nil
	}

	candidate, err := p.repo.OldestQueued(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}

	if candidate.Source == ordersource.Sources.Online.Code() {
		online, err := p.repo.CountActive(ctx, locationID, candidate.Source)
		if err != nil {
			return nil, err
		}
		if online >= cfg.OnlineSubLimit {
			// Leave the online ticket queued even though total capacity
			// remains, so the POS channel is never starved.
			return nil, nil
		}
	}

	inUse, err := p.repo.ActiveShortcodes(ctx, locationID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(inUse))
	for _, code := range inUse {
		existing[code] = struct{}{}
	}

	code := AssignShortcode(locationID, candidate.Source, existing)
	if code == "" {
		p.logger.Infof("Shortcode namespace exhausted for %s/%s, promotion deferred", locationID, candidate.Source)
		return nil, nil
	}

	promoted, err := p.repo.ClaimPromotion(ctx, candidate.ID, code, p.now())
	if err != nil {
		if IsConflict(err) {
			// Another promoter claimed the candidate first.
			return nil, nil
		}
		return nil, err
	}

	if p.cache != nil {
		p.cache.Set(promoted)
	}
	p.publishPromoted(ctx, promoted)
	p.logger.Infof("Promoted ticket %s at %s with shortcode %s", promoted.ID, locationID, code)
	return promoted, nil
}

func (p *Promoter) publishPromoted(ctx context.Context, t *Ticket) {
	if p.publisher == nil {
		return
	}
	promotedAt := p.now()
	if t.PromotedAt != nil {
		promotedAt = *t.PromotedAt
	}
	payload := event.TicketPromotedEvent{
		TicketEventMetadata: ticketEventMetadata(event.EventTicketPromoted, t, p.now()),
		PromotedAt:          promotedAt,
	}
	data, _ := json.Marshal(payload)
	if err := p.publisher.Publish(ctx, event.TicketsTopic, data); err != nil {
		p.logger.Errorf("Failed to publish ticket.promoted event: %v", err)
	}
}
