package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hookrelay/hookrelay/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// the "memory" storage driver.
type MemoryStore struct {
	mu            sync.Mutex
	subscriptions map[string]models.Subscription
	deliveries    map[string]models.Delivery
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]models.Subscription),
		deliveries:    make(map[string]models.Delivery),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

// --- Subscriptions ---

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = cloneSubscription(*sub)
	return nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneSubscription(sub)
	return &out, nil
}

func (s *MemoryStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return ErrNotFound
	}
	up := cloneSubscription(*sub)
	up.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID] = up
	return nil
}

func (s *MemoryStore) DeleteSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[id]; !ok {
		return ErrNotFound
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subs []models.Subscription
	for _, sub := range s.subscriptions {
		if f.Active != nil && sub.Active != *f.Active {
			continue
		}
		if f.Owner != "" && sub.Owner != f.Owner {
			continue
		}
		if f.EventType != "" && !sub.Listens(f.EventType) {
			continue
		}
		subs = append(subs, cloneSubscription(sub))
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	return subs, nil
}

func (s *MemoryStore) ActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]models.Subscription, error) {
	active := true
	return s.ListSubscriptions(ctx, SubscriptionFilter{Active: &active, EventType: eventType})
}

// --- Deliveries ---

func (s *MemoryStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = cloneDelivery(*d)
	return nil
}

func (s *MemoryStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneDelivery(d)
	return &out, nil
}

func (s *MemoryStore) ClaimDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != models.DeliveryCreated && d.Status != models.DeliveryAwaitingRetry {
		return nil, ErrNotClaimable
	}
	d.Status = models.DeliveryAttempting
	d.AttemptCount++
	d.NextRetryAt = nil
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[id] = d
	out := cloneDelivery(d)
	return &out, nil
}

func (s *MemoryStore) FinishDelivery(ctx context.Context, d *models.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status = d.Status
	cur.HTTPStatus = d.HTTPStatus
	cur.ResponseBody = d.ResponseBody
	cur.ResponseTimeMs = d.ResponseTimeMs
	cur.ErrorMessage = d.ErrorMessage
	cur.NextRetryAt = copyTime(d.NextRetryAt)
	cur.DeliveredAt = copyTime(d.DeliveredAt)
	cur.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID] = cur
	return nil
}

func (s *MemoryStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]models.Delivery, int64, error) {
	f.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.Delivery
	for _, d := range s.deliveries {
		if f.SubscriptionID != "" && d.SubscriptionID != f.SubscriptionID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.EventType != "" && d.EventType != f.EventType {
			continue
		}
		all = append(all, cloneDelivery(d))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	start := f.Offset()
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type due struct {
		id string
		at time.Time
	}
	var dues []due
	for _, d := range s.deliveries {
		if d.Status == models.DeliveryAwaitingRetry && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			dues = append(dues, due{id: d.ID, at: *d.NextRetryAt})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].at.Before(dues[j].at) })

	var ids []string
	for _, d := range dues {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, d.id)
	}
	return ids, nil
}

// --- Stats ---

func (s *MemoryStore) Stats(ctx context.Context, subscriptionID string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{}
	for _, d := range s.deliveries {
		if subscriptionID != "" && d.SubscriptionID != subscriptionID {
			continue
		}
		stats.Total++
		switch d.Status {
		case models.DeliverySucceeded:
			stats.Succeeded++
		case models.DeliveryFailed:
			stats.Failed++
		case models.DeliveryAwaitingRetry:
			stats.AwaitingRetry++
		case models.DeliveryCreated, models.DeliveryAttempting:
			stats.Pending++
		}
	}
	stats.ComputeRate()
	return stats, nil
}

func cloneSubscription(sub models.Subscription) models.Subscription {
	sub.EventTypes = append([]string(nil), sub.EventTypes...)
	if sub.Headers != nil {
		h := make(map[string]string, len(sub.Headers))
		for k, v := range sub.Headers {
			h[k] = v
		}
		sub.Headers = h
	}
	return sub
}

func cloneDelivery(d models.Delivery) models.Delivery {
	d.Payload = append([]byte(nil), d.Payload...)
	d.NextRetryAt = copyTime(d.NextRetryAt)
	d.DeliveredAt = copyTime(d.DeliveredAt)
	return d
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
