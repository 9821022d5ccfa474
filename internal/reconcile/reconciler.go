package reconcile

import (
	"context"
	"sync"
	"time"

	aqm "github.com/appetiteclub/apt"
	"github.com/expeditehq/expedite/internal/pos"
	"github.com/expeditehq/expedite/internal/ticket"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMinutesBack = 15
	DefaultConcurrency = 5
)

// Reconciler polls the external order feed and converges local tickets and
// mirrors toward it. Each order is processed independently; one bad order
// never aborts the run.
type Reconciler struct {
	client    pos.Client
	mirrors   ticket.OrderMirrorRepository
	lifecycle *ticket.Lifecycle
	promoter  *ticket.Promoter
	logger    aqm.Logger
	now       func() time.Time
}

func NewReconciler(client pos.Client, mirrors ticket.OrderMirrorRepository, lifecycle *ticket.Lifecycle, promoter *ticket.Promoter, logger aqm.Logger) *Reconciler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Reconciler{
		client:    client,
		mirrors:   mirrors,
		lifecycle: lifecycle,
		promoter:  promoter,
		logger:    logger,
		now:       time.Now,
	}
}

// Run fetches every order updated since the watermark and applies it. Listing
// failures abort the run; per-order failures only increment the error count.
func (r *Reconciler) Run(ctx context.Context, locationID string, minutesBack, concurrency int) (ticket.ReconciliationSummary, error) {
	if minutesBack <= 0 {
		minutesBack = DefaultMinutesBack
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	since := r.now().Add(-time.Duration(minutesBack) * time.Minute)

	orderIDs, err := r.client.ListOrderIDsUpdatedSince(ctx, locationID, since)
	if err != nil {
		return ticket.ReconciliationSummary{}, err
	}

	var mu sync.Mutex
	summary := ticket.ReconciliationSummary{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, orderID := range orderIDs {
		orderID := orderID
		g.Go(func() error {
			created, updated, err := r.processOrder(gctx, orderID)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				summary.Errors++
				r.logger.Errorf("Reconcile: order %s failed: %v", orderID, err)
				return nil
			}
			if created {
				summary.CreatedTickets++
			}
			if updated {
				summary.UpdatedTickets++
			}
			return nil
		})
	}

	// Workers swallow their errors, so this only reflects ctx cancellation.
	if err := g.Wait(); err != nil {
		return summary, err
	}

	r.logger.Infof("Reconcile: location=%s processed=%d created=%d updated=%d errors=%d",
		locationID, summary.Processed, summary.CreatedTickets, summary.UpdatedTickets, summary.Errors)

	// A run may have opened capacity or queued new work; give admission a
	// chance regardless of individual outcomes.
	if _, err := r.promoter.TryPromote(ctx, locationID); err != nil {
		r.logger.Errorf("Reconcile: promotion sweep failed for %s: %v", locationID, err)
	}

	return summary, nil
}

func (r *Reconciler) processOrder(ctx context.Context, orderID string) (created, updated bool, err error) {
	order, err := r.client.FetchOrder(ctx, orderID)
	if err != nil {
		return false, false, err
	}

	// Mirror first: the mirror is the durable record of what the feed said,
	// even if the ticket write below fails.
	if err := r.mirrors.Upsert(ctx, order.MirrorPatch()); err != nil {
		return false, false, err
	}

	mirror := order.Mirror()
	switch {
	case order.State == ticket.MirrorStateOpen:
		_, created, err = r.lifecycle.EnsureCreated(ctx, mirror)
		if err != nil {
			return false, false, err
		}
		// One admission attempt per open order, so a batch of new orders
		// fills free capacity within a single run. TryPromote admits at most
		// one ticket per call.
		if _, perr := r.promoter.TryPromote(ctx, order.LocationID); perr != nil {
			r.logger.Errorf("Reconcile: promotion attempt failed for %s: %v", order.LocationID, perr)
		}
	case ticket.MirrorStateTerminal(order.State):
		updated, err = r.lifecycle.MarkTerminal(ctx, mirror)
		if err != nil {
			return false, false, err
		}
	}
	return created, updated, nil
}
