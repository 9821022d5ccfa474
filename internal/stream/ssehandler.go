package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	aqm "github.com/appetiteclub/apt"
	"github.com/expeditehq/expedite/pkg/event"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	subscriberBuffer  = 32
	heartbeatInterval = 15 * time.Second
)

// Hub fans ticket events out to connected SSE clients. Slow clients lose
// events rather than blocking the broadcaster; boards recover by re-reading
// the ticket list on reconnect.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan *event.TicketStatusChangedEvent
	logger      aqm.Logger
}

func NewHub(logger aqm.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]chan *event.TicketStatusChangedEvent),
		logger:      logger,
	}
}

// BroadcastTicketEvent delivers evt to every subscriber without blocking.
func (h *Hub) BroadcastTicketEvent(evt *event.TicketStatusChangedEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- evt:
		default:
			h.logger.Infof("Dropping event for slow SSE subscriber %s", id)
		}
	}
}

func (h *Hub) subscribe(subscriberID string) <-chan *event.TicketStatusChangedEvent {
	ch := make(chan *event.TicketStatusChangedEvent, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[subscriberID] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(subscriberID string) {
	h.mu.Lock()
	if ch, ok := h.subscribers[subscriberID]; ok {
		delete(h.subscribers, subscriberID)
		close(ch)
	}
	h.mu.Unlock()
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Hub) RegisterRoutes(r chi.Router) {
	r.Get("/stream/tickets", h.ServeHTTP)
}

// SubscriberCount reports connected clients, used by health reporting.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeHTTP implements the SSE endpoint. Events are named "ticket-update"
// with a JSON body; comment lines keep the connection alive.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	subscriberID := uuid.New().String()
	h.logger.Infof("New SSE connection: %s", subscriberID)

	events := h.subscribe(subscriberID)
	defer h.unsubscribe(subscriberID)

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Infof("SSE client disconnected: %s", subscriberID)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()

		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				h.logger.Errorf("Failed to marshal SSE event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: ticket-update\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
