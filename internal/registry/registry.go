// Package registry owns subscription writes: validation, defaulting,
// and persistence. The dispatcher only ever reads subscriptions.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/storage"
)

// ValidationError reports why a subscription write was rejected.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid subscription: " + strings.Join(e.Problems, "; ")
}

// SubscriptionInput carries a create or update request. Nil pointer
// fields fall back to defaults on create and keep the current value on
// update.
type SubscriptionInput struct {
	Name             string            `json:"name" validate:"required,max=200"`
	Description      string            `json:"description" validate:"max=1000"`
	URL              string            `json:"url" validate:"required"`
	Secret           string            `json:"secret"`
	EventTypes       []string          `json:"event_types" validate:"required,min=1,dive,required"`
	Headers          map[string]string `json:"headers"`
	MaxRetryAttempts *int              `json:"max_retry_attempts" validate:"omitempty,gte=0,lte=10"`
	TimeoutSeconds   *int              `json:"timeout_seconds" validate:"omitempty,gte=1,lte=120"`
	Active           *bool             `json:"active"`
	Owner            string            `json:"owner"`
}

type Registry struct {
	store    storage.Store
	validate *validator.Validate
	log      zerolog.Logger
}

func New(store storage.Store, log zerolog.Logger) *Registry {
	return &Registry{
		store:    store,
		validate: validator.New(),
		log:      log,
	}
}

func (r *Registry) check(in *SubscriptionInput) error {
	var problems []string

	if err := r.validate.Struct(in); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range errs {
				problems = append(problems, fmt.Sprintf("field %s failed %s", fe.Field(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if in.URL != "" {
		u, err := url.Parse(in.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, "url must be a valid HTTP or HTTPS URL")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (r *Registry) Create(ctx context.Context, in *SubscriptionInput) (*models.Subscription, error) {
	if err := r.check(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:               models.NewID("sub"),
		Name:             in.Name,
		Description:      in.Description,
		URL:              in.URL,
		Secret:           in.Secret,
		EventTypes:       in.EventTypes,
		Headers:          in.Headers,
		MaxRetryAttempts: models.DefaultMaxRetryAttempts,
		TimeoutSeconds:   models.DefaultTimeoutSeconds,
		Active:           true,
		Owner:            in.Owner,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.MaxRetryAttempts != nil {
		sub.MaxRetryAttempts = *in.MaxRetryAttempts
	}
	if in.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	if sub.Headers == nil {
		sub.Headers = map[string]string{}
	}

	if err := r.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("subscription_id", sub.ID).
		Str("url", sub.URL).
		Strs("event_types", sub.EventTypes).
		Msg("subscription created")
	return sub, nil
}

func (r *Registry) Update(ctx context.Context, id string, in *SubscriptionInput) (*models.Subscription, error) {
	sub, err := r.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.check(in); err != nil {
		return nil, err
	}

	sub.Name = in.Name
	sub.Description = in.Description
	sub.URL = in.URL
	sub.Secret = in.Secret
	sub.EventTypes = in.EventTypes
	if in.Headers != nil {
		sub.Headers = in.Headers
	}
	if in.MaxRetryAttempts != nil {
		sub.MaxRetryAttempts = *in.MaxRetryAttempts
	}
	if in.TimeoutSeconds != nil {
		sub.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	if in.Owner != "" {
		sub.Owner = in.Owner
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	r.log.Info().Str("subscription_id", sub.ID).Bool("active", sub.Active).Msg("subscription updated")
	return sub, nil
}

// Delete removes the subscription only. Deliveries keep their payload
// snapshot and state, so history survives.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	r.log.Info().Str("subscription_id", id).Msg("subscription deleted")
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Subscription, error) {
	return r.store.GetSubscription(ctx, id)
}

func (r *Registry) List(ctx context.Context, f storage.SubscriptionFilter) ([]models.Subscription, error) {
	return r.store.ListSubscriptions(ctx, f)
}
