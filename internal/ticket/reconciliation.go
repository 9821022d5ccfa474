package ticket

import "context"

// ReconciliationSummary reports the outcome of one reconciliation run.
type ReconciliationSummary struct {
	Processed      int `json:"processed"`
	CreatedTickets int `json:"created_tickets"`
	UpdatedTickets int `json:"updated_tickets"`
	Errors         int `json:"errors"`
}

// Reconciliation synchronizes local state against the external order feed.
// Implemented by the reconcile package; declared here so the handler does not
// depend on it directly.
type Reconciliation interface {
	Run(ctx context.Context, locationID string, minutesBack, concurrency int) (ReconciliationSummary, error)
}
