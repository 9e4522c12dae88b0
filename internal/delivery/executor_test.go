package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/signing"
	"github.com/hookrelay/hookrelay/internal/storage"
)

func seedSubscription(t *testing.T, store storage.Store, url string, maxRetry, timeoutSecs int, secret string) *models.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:               models.NewID("sub"),
		Name:             "test subscriber",
		URL:              url,
		Secret:           secret,
		EventTypes:       []string{"PRODUCT_CREATED"},
		Headers:          map[string]string{"X-Custom": "yes"},
		MaxRetryAttempts: maxRetry,
		TimeoutSeconds:   timeoutSecs,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, store.CreateSubscription(context.Background(), sub))
	return sub
}

func seedDelivery(t *testing.T, store storage.Store, sub *models.Subscription) *models.Delivery {
	t.Helper()
	payload, _ := json.Marshal(models.NewEventPayload("PRODUCT_CREATED", json.RawMessage(`{"id":"p1"}`)))
	now := time.Now().UTC()
	d := &models.Delivery{
		ID:             models.NewID("dlv"),
		SubscriptionID: sub.ID,
		EventType:      "PRODUCT_CREATED",
		Payload:        payload,
		Status:         models.DeliveryCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateDelivery(context.Background(), d))
	return d
}

func newTestExecutor(store storage.Store) *Executor {
	return NewExecutor(store, NewSender(), 4, zerolog.Nop())
}

func TestProcessSuccess(t *testing.T) {
	var gotSig, gotUA, gotCustom, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Custom")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 2, 5, "s3cr3t")
	d := seedDelivery(t, store, sub)

	exec := newTestExecutor(store)
	got, err := exec.Process(context.Background(), d.ID)
	require.NoError(t, err)

	assert.Equal(t, models.DeliverySucceeded, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, http.StatusOK, got.HTTPStatus)
	assert.Equal(t, "ok", got.ResponseBody)
	assert.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.NextRetryAt)
	assert.Empty(t, got.ErrorMessage)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "hookrelay/1.0", gotUA)
	assert.Equal(t, "yes", gotCustom)
	require.NotEmpty(t, gotSig)
	assert.True(t, signing.Verify("s3cr3t", gotBody, gotSig), "signature must verify against the exact body bytes")
}

func TestProcessNoSecretSendsUnsigned(t *testing.T) {
	var sawSig bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawSig = r.Header["X-Webhook-Signature"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 0, 5, "")
	d := seedDelivery(t, store, sub)

	got, err := newTestExecutor(store).Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySucceeded, got.Status)
	assert.False(t, sawSig)
}

func TestProcessNon2xxSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 2, 5, "")
	d := seedDelivery(t, store, sub)

	before := time.Now().UTC()
	got, err := newTestExecutor(store).Process(context.Background(), d.ID)
	require.NoError(t, err)

	assert.Equal(t, models.DeliveryAwaitingRetry, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
	require.NotNil(t, got.NextRetryAt)
	// backoff after attempt 1 is 2 minutes
	assert.WithinDuration(t, before.Add(2*time.Minute), *got.NextRetryAt, 5*time.Second)
}

func TestProcessTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 2, 1, "")
	d := seedDelivery(t, store, sub)

	got, err := newTestExecutor(store).Process(context.Background(), d.ID)
	require.NoError(t, err)

	assert.Equal(t, models.DeliveryAwaitingRetry, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Zero(t, got.HTTPStatus)
	require.NotNil(t, got.NextRetryAt)
}

func TestProcessExhaustionAndIdempotence(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 1, 5, "") // 2 attempts total
	d := seedDelivery(t, store, sub)
	exec := newTestExecutor(store)

	got, err := exec.Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryAwaitingRetry, got.Status)

	got, err = exec.Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Nil(t, got.NextRetryAt)
	assert.Equal(t, int32(2), hits.Load())

	// terminal deliveries are a no-op
	got, err = exec.Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, int32(2), hits.Load(), "no further HTTP attempt after terminal failure")
}

func TestProcessClaimRace(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 2, 5, "")
	d := seedDelivery(t, store, sub)

	// another executor claims first
	_, err := store.ClaimDelivery(context.Background(), d.ID)
	require.NoError(t, err)

	got, err := newTestExecutor(store).Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryAttempting, got.Status)
	assert.Equal(t, int32(0), hits.Load(), "losing the claim must not fire a request")
}

func TestProcessDeletedSubscriptionFails(t *testing.T) {
	store := storage.NewMemory()
	sub := seedSubscription(t, store, "http://example.invalid/hook", 2, 5, "")
	d := seedDelivery(t, store, sub)
	require.NoError(t, store.DeleteSubscription(context.Background(), sub.ID))

	got, err := newTestExecutor(store).Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "subscription no longer exists")
}

func TestProcessInactiveSubscriptionStillDelivers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 2, 5, "")
	d := seedDelivery(t, store, sub)

	// deactivate after the delivery exists; in-flight work must finish
	sub.Active = false
	require.NoError(t, store.UpdateSubscription(context.Background(), sub))

	got, err := newTestExecutor(store).Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySucceeded, got.Status)
}

func TestProcessTruncatesResponseBody(t *testing.T) {
	long := strings.Repeat("a", 5000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(long))
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 0, 5, "")
	d := seedDelivery(t, store, sub)

	got, err := newTestExecutor(store).Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, got.ResponseBody, models.MaxResponseBodyLen)
}

func TestEndToEndRetryScenario(t *testing.T) {
	// Attempt 1 times out, attempt 2 returns 500, attempt 3 succeeds.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			time.Sleep(3 * time.Second)
		case 2:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	store := storage.NewMemory()
	sub := seedSubscription(t, store, srv.URL, 2, 1, "s3cr3t")
	d := seedDelivery(t, store, sub)
	exec := newTestExecutor(store)

	start := time.Now().UTC()
	got, err := exec.Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryAwaitingRetry, got.Status)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, start.Add(2*time.Minute), *got.NextRetryAt, 10*time.Second)

	got, err = exec.Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryAwaitingRetry, got.Status)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, time.Now().UTC().Add(4*time.Minute), *got.NextRetryAt, 10*time.Second)

	got, err = exec.Process(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySucceeded, got.Status)
	assert.Equal(t, http.StatusOK, got.HTTPStatus)
	assert.Equal(t, 3, got.AttemptCount)
	assert.NotNil(t, got.DeliveredAt)
}
