package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/storage"
)

func newRegistry() *Registry {
	return New(storage.NewMemory(), zerolog.Nop())
}

func validInput() *SubscriptionInput {
	return &SubscriptionInput{
		Name:       "order hooks",
		URL:        "https://example.com/hooks",
		EventTypes: []string{"ORDER_PAID"},
	}
}

func TestCreateDefaults(t *testing.T) {
	reg := newRegistry()
	sub, err := reg.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, models.DefaultMaxRetryAttempts, sub.MaxRetryAttempts)
	assert.Equal(t, models.DefaultTimeoutSeconds, sub.TimeoutSeconds)
	assert.True(t, sub.Active)
	assert.NotNil(t, sub.Headers)
	assert.False(t, sub.CreatedAt.IsZero())
}

func TestCreateExplicitValues(t *testing.T) {
	reg := newRegistry()
	retries, timeout, active := 5, 10, false
	in := validInput()
	in.MaxRetryAttempts = &retries
	in.TimeoutSeconds = &timeout
	in.Active = &active
	in.Secret = "whsec_test"
	in.Headers = map[string]string{"X-Team": "billing"}

	sub, err := reg.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 5, sub.MaxRetryAttempts)
	assert.Equal(t, 10, sub.TimeoutSeconds)
	assert.False(t, sub.Active)
	assert.Equal(t, "whsec_test", sub.Secret)
	assert.Equal(t, map[string]string{"X-Team": "billing"}, sub.Headers)
}

func TestCreateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SubscriptionInput)
	}{
		{"missing name", func(in *SubscriptionInput) { in.Name = "" }},
		{"missing url", func(in *SubscriptionInput) { in.URL = "" }},
		{"relative url", func(in *SubscriptionInput) { in.URL = "/hooks" }},
		{"ftp url", func(in *SubscriptionInput) { in.URL = "ftp://example.com/hooks" }},
		{"hostless url", func(in *SubscriptionInput) { in.URL = "https://" }},
		{"no event types", func(in *SubscriptionInput) { in.EventTypes = nil }},
		{"empty event type", func(in *SubscriptionInput) { in.EventTypes = []string{""} }},
		{"negative retries", func(in *SubscriptionInput) { r := -1; in.MaxRetryAttempts = &r }},
		{"retries over cap", func(in *SubscriptionInput) { r := 11; in.MaxRetryAttempts = &r }},
		{"zero timeout", func(in *SubscriptionInput) { s := 0; in.TimeoutSeconds = &s }},
		{"timeout over cap", func(in *SubscriptionInput) { s := 121; in.TimeoutSeconds = &s }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := newRegistry()
			in := validInput()
			tc.mutate(in)

			_, err := reg.Create(context.Background(), in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Problems)
		})
	}
}

func TestUpdate(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()
	sub, err := reg.Create(ctx, validInput())
	require.NoError(t, err)

	active := false
	in := validInput()
	in.Name = "renamed"
	in.EventTypes = []string{"ORDER_PAID", "ORDER_REFUNDED"}
	in.Active = &active

	updated, err := reg.Update(ctx, sub.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, []string{"ORDER_PAID", "ORDER_REFUNDED"}, updated.EventTypes)
	assert.False(t, updated.Active)

	got, err := reg.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestUpdateValidatesInput(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()
	sub, err := reg.Create(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.URL = "not-a-url"
	_, err = reg.Update(ctx, sub.ID, in)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	// nothing changed
	got, err := reg.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hooks", got.URL)
}

func TestUpdateUnknownSubscription(t *testing.T) {
	reg := newRegistry()
	_, err := reg.Update(context.Background(), "sub_missing", validInput())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete(t *testing.T) {
	reg := newRegistry()
	ctx := context.Background()
	sub, err := reg.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, sub.ID))
	_, err = reg.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, reg.Delete(ctx, sub.ID), storage.ErrNotFound)
}
