// Package dispatch turns domain events into deliveries. It is the only
// entry point business code calls, and it never fails the caller for
// delivery-layer problems.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/hookrelay/hookrelay/internal/delivery"
	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/storage"
)

type TriggerResult struct {
	MatchedCount int      `json:"matched_count"`
	DeliveryIDs  []string `json:"delivery_ids,omitempty"`
}

type Dispatcher struct {
	store storage.Store
	exec  *delivery.Executor
	log   zerolog.Logger
}

func NewDispatcher(store storage.Store, exec *delivery.Executor, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: store, exec: exec, log: log}
}

// TriggerEvent fans an event out to every active subscription listening
// for it: one delivery per match, each submitted asynchronously for its
// first attempt. A failure for one subscription never blocks the
// others, and nothing is returned as an error to the producer.
func (d *Dispatcher) TriggerEvent(ctx context.Context, eventType string, data json.RawMessage) TriggerResult {
	subs, err := d.store.ActiveSubscriptionsForEvent(ctx, eventType)
	if err != nil {
		d.log.Error().Err(err).Str("event_type", eventType).Msg("failed to look up subscriptions")
		return TriggerResult{}
	}
	if len(subs) == 0 {
		return TriggerResult{}
	}

	result := TriggerResult{MatchedCount: len(subs)}
	for _, sub := range subs {
		dlv, err := d.createDelivery(ctx, &sub, eventType, data)
		if err != nil {
			d.log.Error().Err(err).
				Str("subscription_id", sub.ID).
				Str("event_type", eventType).
				Msg("failed to create delivery")
			continue
		}
		result.DeliveryIDs = append(result.DeliveryIDs, dlv.ID)
		d.exec.Submit(dlv.ID)
	}

	d.log.Info().
		Str("event_type", eventType).
		Int("matched", result.MatchedCount).
		Int("created", len(result.DeliveryIDs)).
		Msg("event dispatched")
	return result
}

// TestDelivery builds a synthetic payload, creates a delivery for it,
// and executes it synchronously so the caller gets an immediate result.
// The delivery is recorded like any other.
func (d *Dispatcher) TestDelivery(ctx context.Context, subscriptionID string) (*models.Delivery, error) {
	sub, err := d.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(map[string]string{
		"message":         "test delivery",
		"subscription_id": sub.ID,
	})

	dlv, err := d.createDelivery(ctx, sub, models.TestEventType, data)
	if err != nil {
		return nil, err
	}

	return d.exec.Process(ctx, dlv.ID)
}

func (d *Dispatcher) createDelivery(ctx context.Context, sub *models.Subscription, eventType string, data json.RawMessage) (*models.Delivery, error) {
	payload, err := json.Marshal(models.NewEventPayload(eventType, data))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	dlv := &models.Delivery{
		ID:             models.NewID("dlv"),
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Payload:        payload,
		Status:         models.DeliveryCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.store.CreateDelivery(ctx, dlv); err != nil {
		return nil, err
	}
	return dlv, nil
}
