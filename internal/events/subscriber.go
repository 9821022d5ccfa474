package events

import (
	"context"
	"encoding/json"
	"fmt"

	aqm "github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/expeditehq/expedite/internal/pos"
	"github.com/expeditehq/expedite/internal/ticket"
	"github.com/expeditehq/expedite/pkg/event"
)

const ingestQueueGroup = "expedite-pos-ingest"

// QueueSubscriber is the subset of the NATS wrapper the ingest path needs.
// Queue-group delivery keeps each order event on a single service instance.
type QueueSubscriber interface {
	SubscribeQueue(ctx context.Context, topic, group string, handler events.HandlerFunc) error
}

// POSOrderSubscriber applies push-fed order events through the same mirror and
// lifecycle pipeline the reconciler uses, so push and poll converge on
// identical state.
type POSOrderSubscriber struct {
	subscriber QueueSubscriber
	mirrors    ticket.OrderMirrorRepository
	lifecycle  *ticket.Lifecycle
	promoter   *ticket.Promoter
	logger     aqm.Logger
}

func NewPOSOrderSubscriber(
	subscriber QueueSubscriber,
	mirrors ticket.OrderMirrorRepository,
	lifecycle *ticket.Lifecycle,
	promoter *ticket.Promoter,
	logger aqm.Logger,
) *POSOrderSubscriber {
	return &POSOrderSubscriber{
		subscriber: subscriber,
		mirrors:    mirrors,
		lifecycle:  lifecycle,
		promoter:   promoter,
		logger:     logger,
	}
}

func (s *POSOrderSubscriber) Start(ctx context.Context) error {
	s.logger.Infof("Starting POSOrderSubscriber for topic: %s", event.POSOrdersTopic)

	if err := s.subscriber.SubscribeQueue(ctx, event.POSOrdersTopic, ingestQueueGroup, s.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", event.POSOrdersTopic, err)
	}

	s.logger.Info("POSOrderSubscriber started successfully")
	return nil
}

func (s *POSOrderSubscriber) Stop(ctx context.Context) error {
	return nil
}

func (s *POSOrderSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.POSOrderEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Errorf("Failed to unmarshal POS order event: %v", err)
		return nil
	}

	switch evt.EventType {
	case event.EventPOSOrderCreated, event.EventPOSOrderUpdated:
		return s.handleOrder(ctx, &evt)
	default:
		s.logger.Infof("Unknown event type: %s", evt.EventType)
	}

	return nil
}

func (s *POSOrderSubscriber) handleOrder(ctx context.Context, evt *event.POSOrderEvent) error {
	order, err := pos.ParseOrder(evt.Order)
	if err != nil {
		// Malformed payloads are not retryable; log and drop.
		s.logger.Errorf("Rejected POS order payload %s: %v", evt.OrderID, err)
		return nil
	}

	if err := s.mirrors.Upsert(ctx, order.MirrorPatch()); err != nil {
		s.logger.Errorf("Failed to upsert mirror for order %s: %v", order.ID, err)
		return err
	}

	mirror := order.Mirror()
	switch {
	case order.State == ticket.MirrorStateOpen:
		t, created, err := s.lifecycle.EnsureCreated(ctx, mirror)
		if err != nil {
			s.logger.Errorf("Failed to ensure ticket for order %s: %v", order.ID, err)
			return err
		}
		if created {
			s.logger.Infof("Created ticket %s for order %s", t.ID, order.ID)
		}
	case ticket.MirrorStateTerminal(order.State):
		changed, err := s.lifecycle.MarkTerminal(ctx, mirror)
		if err != nil {
			s.logger.Errorf("Failed to close ticket for order %s: %v", order.ID, err)
			return err
		}
		if changed {
			s.logger.Infof("Closed ticket for order %s (%s)", order.ID, order.State)
		}
	}

	if _, err := s.promoter.TryPromote(ctx, order.LocationID); err != nil {
		s.logger.Errorf("Promotion attempt failed for %s: %v", order.LocationID, err)
	}

	return nil
}
