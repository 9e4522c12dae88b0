package storage

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/hookrelay/hookrelay/internal/models"
)

var (
	// ErrNotFound is returned when a subscription or delivery id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrNotClaimable is returned by ClaimDelivery when the delivery is
	// terminal or already being attempted by someone else.
	ErrNotClaimable = errors.New("delivery not claimable")
)

type SubscriptionFilter struct {
	Active    *bool
	EventType string
	Owner     string
}

type DeliveryFilter struct {
	SubscriptionID string
	Status         models.DeliveryStatus
	EventType      string
	Page           int
	Limit          int
}

// Normalize clamps paging to sane values. Page is 1-based.
func (f *DeliveryFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
}

func (f *DeliveryFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Stats struct {
	Total         int64   `json:"total"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	Pending       int64   `json:"pending"`
	AwaitingRetry int64   `json:"awaiting_retry"`
	SuccessRate   float64 `json:"success_rate"`
}

// ComputeRate fills SuccessRate from the counts, rounded to two
// decimals. Zero when there are no deliveries.
func (s *Stats) ComputeRate() {
	if s.Total == 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = math.Round(float64(s.Succeeded)/float64(s.Total)*100*100) / 100
}

type Store interface {
	// Subscriptions
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error)
	// ActiveSubscriptionsForEvent returns active subscriptions whose
	// event set contains eventType.
	ActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]models.Subscription, error)

	// Deliveries
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	// ClaimDelivery atomically transitions created/awaiting_retry to
	// attempting and increments the attempt count, returning the claimed
	// row. ErrNotClaimable means another executor holds it or the
	// delivery is terminal; ErrNotFound means the id is unknown.
	ClaimDelivery(ctx context.Context, id string) (*models.Delivery, error)
	// FinishDelivery records the outcome of an attempt (status, response
	// details, retry schedule) for a delivery in attempting state.
	FinishDelivery(ctx context.Context, d *models.Delivery) error
	ListDeliveries(ctx context.Context, f DeliveryFilter) ([]models.Delivery, int64, error)
	// DueDeliveries returns ids of awaiting_retry deliveries whose
	// next_retry_at is at or before now, oldest first.
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Stats aggregates delivery counts, optionally scoped to one
	// subscription (empty id means all).
	Stats(ctx context.Context, subscriptionID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
