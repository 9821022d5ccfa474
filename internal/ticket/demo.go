package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	aqm "github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"github.com/expeditehq/expedite/pkg/enums/ordersource"
	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

const demoSeedApplication = "expedite_demo"
const demoLocationID = "loc-demo-001"

type demoOrder struct {
	externalOrderID string
	source          string
	state           string
	status          string
	shortcode       string
	promoted        bool
	label           string
	items           []LineItem
	placedOffset    time.Duration
}

// demoOrders covers the board states worth demoing: promoted work in
// progress, a queued online order waiting for capacity, and a finished
// ticket retained as history.
func demoOrders() []demoOrder {
	return []demoOrder{
		{
			externalOrderID: "demo-ord-1001",
			source:          ordersource.Sources.POSTerminal.Code(),
			state:           MirrorStateOpen,
			status:          ticketstatus.Statuses.Preparing.Code(),
			shortcode:       "P01",
			promoted:        true,
			items:           []LineItem{{Name: "Smash Burger", Quantity: 2}, {Name: "Fries", Quantity: 2}},
			placedOffset:    -25 * time.Minute,
		},
		{
			externalOrderID: "demo-ord-1002",
			source:          ordersource.Sources.Online.Code(),
			state:           MirrorStateOpen,
			status:          ticketstatus.Statuses.Ready.Code(),
			shortcode:       "W01",
			promoted:        true,
			label:           "pickup counter",
			items:           []LineItem{{Name: "Caesar Salad", Quantity: 1, Note: "no croutons"}},
			placedOffset:    -18 * time.Minute,
		},
		{
			externalOrderID: "demo-ord-1003",
			source:          ordersource.Sources.Online.Code(),
			state:           MirrorStateOpen,
			status:          ticketstatus.Statuses.Placed.Code(),
			items:           []LineItem{{Name: "Margherita Pizza", Quantity: 1}},
			placedOffset:    -6 * time.Minute,
		},
		{
			externalOrderID: "demo-ord-1004",
			source:          ordersource.Sources.POSTerminal.Code(),
			state:           MirrorStateCompleted,
			status:          ticketstatus.Statuses.Completed.Code(),
			shortcode:       "P02",
			promoted:        true,
			items:           []LineItem{{Name: "Flat White", Quantity: 2}},
			placedOffset:    -50 * time.Minute,
		},
	}
}

// ApplyDemoSeeds creates demo mirrors and tickets, then reloads the cache so
// the board reflects them immediately.
func ApplyDemoSeeds(ctx context.Context, repo TicketRepository, mirrors OrderMirrorRepository, cache *TicketStateCache, db *mongo.Database, logger aqm.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}

	tracker := seed.NewMongoTracker(db)
	seeds := []seed.Seed{
		{
			ID:          "2026-08-01_demo_tickets_v1",
			Description: "Create demo order mirrors and kitchen tickets",
			Run: func(ctx context.Context) error {
				return seedDemoTickets(ctx, repo, mirrors, logger)
			},
		},
	}

	logger.Info("Applying demo seeds")
	if err := seed.Apply(ctx, tracker, seeds, demoSeedApplication); err != nil {
		return err
	}

	if err := cache.WarmFromRepo(ctx); err != nil {
		return fmt.Errorf("reload cache after seeding: %w", err)
	}
	logger.Infof("Demo seeds applied, cache holds %d tickets", cache.Count())

	return nil
}

func seedDemoTickets(ctx context.Context, repo TicketRepository, mirrors OrderMirrorRepository, logger aqm.Logger) error {
	now := time.Now()

	for i, d := range demoOrders() {
		placedAt := now.Add(d.placedOffset)
		updatedAt := placedAt.Add(2 * time.Minute)

		locationID := demoLocationID
		state := d.state
		source := d.source
		createdAt := placedAt
		patch := OrderMirrorPatch{
			ExternalOrderID: d.externalOrderID,
			LocationID:      &locationID,
			State:           &state,
			Source:          &source,
			LineItems:       d.items,
			CreatedAt:       &createdAt,
			UpdatedAt:       updatedAt,
		}
		if err := mirrors.Upsert(ctx, patch); err != nil {
			return fmt.Errorf("create demo mirror %s: %w", d.externalOrderID, err)
		}

		t := &Ticket{
			ID:              uuid.New(),
			ExternalOrderID: d.externalOrderID,
			LocationID:      demoLocationID,
			Source:          d.source,
			Status:          d.status,
			Shortcode:       d.shortcode,
			CustomLabel:     d.label,
			PriorityOrder:   i + 1,
			PlacedAt:        placedAt,
		}
		if d.promoted {
			promotedAt := placedAt.Add(time.Minute)
			t.PromotedAt = &promotedAt
		}
		switch d.status {
		case ticketstatus.Statuses.Ready.Code():
			readyAt := placedAt.Add(10 * time.Minute)
			t.ReadyAt = &readyAt
		case ticketstatus.Statuses.Completed.Code():
			readyAt := placedAt.Add(10 * time.Minute)
			completedAt := placedAt.Add(20 * time.Minute)
			t.ReadyAt = &readyAt
			t.CompletedAt = &completedAt
		}

		if err := repo.Create(ctx, t); err != nil {
			if IsConflict(err) {
				continue
			}
			return fmt.Errorf("create demo ticket %s: %w", d.externalOrderID, err)
		}

		logger.Infof("Created demo ticket %s (%s, %s)", t.ID, d.externalOrderID, d.status)
	}

	return nil
}

// DemoSeedingFunc wraps ApplyDemoSeeds as a lifecycle OnStart hook. Seeding
// runs in the background so a slow seed never delays service start.
func DemoSeedingFunc(seedCtx context.Context, repo TicketRepository, mirrors OrderMirrorRepository, cache *TicketStateCache, db func() *mongo.Database, logger aqm.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		go func() {
			if err := ApplyDemoSeeds(seedCtx, repo, mirrors, cache, db(), logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Demo seeds failed: %v", err)
			}
		}()
		return nil
	}
}
