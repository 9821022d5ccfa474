package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxAttempts = 5

// ApplyFunc pushes one action to the server. Returning true removes the
// action; false or an error counts as a failed attempt.
type ApplyFunc func(ctx context.Context, action Action) (bool, error)

// Queue buffers status-change intents while the server is unreachable and
// replays them strictly in order once connectivity returns.
type Queue struct {
	store  Store
	online func(ctx context.Context) bool

	// OnApply runs synchronously at enqueue time so the local view reflects
	// the intended state before any network traffic happens. Optional.
	OnApply func(action Action)
	// OnDrop surfaces an action abandoned after the retry ceiling. Optional.
	OnDrop func(action Action)

	mu      sync.Mutex
	syncing bool
}

// NewQueue builds a queue over the given store. The online probe gates Sync;
// a nil probe means always online.
func NewQueue(store Store, online func(ctx context.Context) bool) *Queue {
	if online == nil {
		online = func(context.Context) bool { return true }
	}
	return &Queue{
		store:  store,
		online: online,
	}
}

// Enqueue appends a status intent and applies the optimistic local mutation.
// It never touches the network.
func (q *Queue) Enqueue(ticketID, newStatus string) (Action, error) {
	if ticketID == "" {
		return Action{}, fmt.Errorf("ticket id must not be empty")
	}
	if !deferrableStatus(newStatus) {
		return Action{}, fmt.Errorf("status %q cannot be deferred", newStatus)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.store.Load()
	if err != nil {
		return Action{}, err
	}

	action := Action{
		ID:        uuid.New().String(),
		TicketID:  ticketID,
		NewStatus: newStatus,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.Save(append(actions, action)); err != nil {
		return Action{}, err
	}

	if q.OnApply != nil {
		q.OnApply(action)
	}
	return action, nil
}

// Pending returns the queued actions in FIFO order.
func (q *Queue) Pending() ([]Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.Load()
}

// Sync replays the queue through apply, strictly sequentially so two intents
// for the same ticket never race each other. It is single-flight: a call
// while another sync runs returns immediately, as does a call while offline.
// It returns the ids of actions confirmed by the server.
func (q *Queue) Sync(ctx context.Context, apply ApplyFunc) ([]string, error) {
	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return nil, nil
	}
	q.syncing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	if !q.online(ctx) {
		return nil, nil
	}

	actions, err := q.store.Load()
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}

	var synced []string
	remaining := make([]Action, 0, len(actions))

	for i, action := range actions {
		if ctx.Err() != nil {
			remaining = append(remaining, actions[i:]...)
			break
		}

		ok, err := apply(ctx, action)
		if ok && err == nil {
			synced = append(synced, action.ID)
			continue
		}

		action.Attempts++
		if action.Attempts >= maxAttempts {
			// Lossy after the ceiling, deliberately: a permanently failing
			// action must not wedge the queue forever.
			if q.OnDrop != nil {
				q.OnDrop(action)
			}
			continue
		}
		remaining = append(remaining, action)
	}

	// Merge before saving: Enqueue may have appended actions while the loop
	// ran without the lock. Anything not in the snapshot survives the save.
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make(map[string]struct{}, len(actions))
	for _, action := range actions {
		snapshot[action.ID] = struct{}{}
	}
	current, err := q.store.Load()
	if err != nil {
		return synced, err
	}
	for _, action := range current {
		if _, seen := snapshot[action.ID]; !seen {
			remaining = append(remaining, action)
		}
	}

	if err := q.store.Save(remaining); err != nil {
		return synced, err
	}
	return synced, nil
}
