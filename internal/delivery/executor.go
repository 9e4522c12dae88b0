package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hookrelay/hookrelay/internal/metrics"
	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/storage"
)

// Executor runs the per-delivery state machine:
//
//	created ──> attempting ──> succeeded
//	                      └──> awaiting_retry ──> attempting ...
//	                      └──> failed
//
// Every execution path goes through the store's claim CAS, so a
// timer-fired retry and a sweep-fired retry can never both attempt the
// same delivery.
type Executor struct {
	store  storage.Store
	sender *Sender
	log    zerolog.Logger

	sem      chan struct{}
	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
}

func NewExecutor(store storage.Store, sender *Sender, workers int, log zerolog.Logger) *Executor {
	if workers <= 0 {
		workers = 50
	}
	return &Executor{
		store:  store,
		sender: sender,
		log:    log,
		sem:    make(chan struct{}, workers),
		quit:   make(chan struct{}),
	}
}

// Submit schedules an asynchronous execution attempt. It never blocks
// the caller beyond worker-pool admission and never returns an error:
// failures stay on the delivery record.
func (e *Executor) Submit(deliveryID string) {
	select {
	case <-e.quit:
		return
	default:
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sem <- struct{}{}
		defer func() { <-e.sem }()

		if _, err := e.Process(context.Background(), deliveryID); err != nil {
			e.log.Error().Err(err).Str("delivery_id", deliveryID).Msg("delivery processing failed")
		}
	}()
}

// Stop prevents new submissions and waits for in-flight attempts.
func (e *Executor) Stop() {
	e.quitOnce.Do(func() { close(e.quit) })
	e.wg.Wait()
}

// Process performs at most one attempt for the delivery and records the
// outcome. Terminal deliveries are a no-op; a delivery claimed by a
// concurrent executor is returned as-is. Errors are storage-level only;
// HTTP failures never surface as errors.
func (e *Executor) Process(ctx context.Context, deliveryID string) (*models.Delivery, error) {
	d, err := e.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return d, nil
	}

	d, err = e.store.ClaimDelivery(ctx, deliveryID)
	if errors.Is(err, storage.ErrNotClaimable) {
		return e.store.GetDelivery(ctx, deliveryID)
	}
	if err != nil {
		return nil, err
	}

	sub, err := e.store.GetSubscription(ctx, d.SubscriptionID)
	if errors.Is(err, storage.ErrNotFound) {
		// Endpoint is gone; nothing left to post to.
		d.Status = models.DeliveryFailed
		d.ErrorMessage = "subscription no longer exists"
		d.NextRetryAt = nil
		if ferr := e.store.FinishDelivery(ctx, d); ferr != nil {
			return nil, ferr
		}
		return d, nil
	}
	if err != nil {
		// The delivery is claimed but the subscription could not be
		// loaded. Put it back on the retry track so the sweep picks it
		// up once storage recovers.
		e.recordFailure(ctx, d, models.DefaultMaxRetryAttempts+1, err.Error())
		return nil, err
	}

	result := e.sender.Send(ctx, sub, d.Payload)

	d.HTTPStatus = result.StatusCode
	d.ResponseBody = result.Body
	d.ResponseTimeMs = result.LatencyMs
	d.ErrorMessage = result.Err

	now := time.Now().UTC()
	if result.Succeeded() {
		d.Status = models.DeliverySucceeded
		d.NextRetryAt = nil
		d.DeliveredAt = &now
		e.log.Info().
			Str("delivery_id", d.ID).
			Str("event_type", d.EventType).
			Int("http_status", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Int("attempt", d.AttemptCount).
			Msg("delivery succeeded")
	} else if d.AttemptCount < sub.MaxAttempts() {
		next := now.Add(Backoff(d.AttemptCount))
		d.Status = models.DeliveryAwaitingRetry
		d.NextRetryAt = &next
		e.log.Info().
			Str("delivery_id", d.ID).
			Int("attempt", d.AttemptCount).
			Int("http_status", result.StatusCode).
			Str("error", result.Err).
			Time("next_retry_at", next).
			Msg("delivery scheduled for retry")
	} else {
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
		e.log.Warn().
			Str("delivery_id", d.ID).
			Int("attempts", d.AttemptCount).
			Int("http_status", result.StatusCode).
			Str("error", result.Err).
			Msg("delivery permanently failed")
	}

	metrics.DeliveryAttempts.WithLabelValues(d.EventType, string(d.Status)).Inc()
	if result.Err == "" {
		metrics.DeliveryLatency.WithLabelValues(d.EventType).Observe(float64(result.LatencyMs))
	}

	if err := e.store.FinishDelivery(ctx, d); err != nil {
		return nil, err
	}

	if d.Status == models.DeliveryAwaitingRetry && d.NextRetryAt != nil {
		e.armRetryTimer(d.ID, *d.NextRetryAt)
	}

	return d, nil
}

// armRetryTimer re-submits the delivery at its retry time. Timers are
// an optimization only: they do not survive a restart, the scheduler
// sweep does.
func (e *Executor) armRetryTimer(deliveryID string, at time.Time) {
	time.AfterFunc(time.Until(at), func() {
		e.Submit(deliveryID)
	})
}

// recordFailure moves a claimed delivery back to awaiting_retry (or
// failed when the budget given by maxAttempts is spent) without an HTTP
// attempt having happened.
func (e *Executor) recordFailure(ctx context.Context, d *models.Delivery, maxAttempts int, msg string) {
	d.ErrorMessage = msg
	if d.AttemptCount < maxAttempts {
		next := time.Now().UTC().Add(Backoff(d.AttemptCount))
		d.Status = models.DeliveryAwaitingRetry
		d.NextRetryAt = &next
	} else {
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
	}
	if err := e.store.FinishDelivery(ctx, d); err != nil {
		e.log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record delivery failure")
	}
}
