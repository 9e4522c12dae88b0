package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hookrelay/hookrelay/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore backs the engine with Postgres. The claim UPDATE is a
// conditional single statement, so multiple service instances can share
// one database without double-executing a delivery.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			event_types JSONB NOT NULL DEFAULT '[]',
			headers JSONB NOT NULL DEFAULT '{}',
			max_retry_attempts INT NOT NULL DEFAULT 3,
			timeout_seconds INT NOT NULL DEFAULT 30,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			owner TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'created',
			attempt_count INT NOT NULL DEFAULT 0,
			http_status INT NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			next_retry_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_events ON subscriptions USING GIN (event_types)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_subscription ON deliveries(subscription_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_event_type ON deliveries(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(next_retry_at) WHERE status = 'awaiting_retry'`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// --- Subscriptions ---

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	headers, _ := json.Marshal(sub.Headers)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, name, description, url, secret, event_types, headers, max_retry_attempts, timeout_seconds, active, owner, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.Name, sub.Description, sub.URL, sub.Secret, eventTypes, headers,
		sub.MaxRetryAttempts, sub.TimeoutSeconds, sub.Active, sub.Owner, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var eventTypes, headers []byte
	err := row.Scan(&sub.ID, &sub.Name, &sub.Description, &sub.URL, &sub.Secret, &eventTypes, &headers,
		&sub.MaxRetryAttempts, &sub.TimeoutSeconds, &sub.Active, &sub.Owner, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(eventTypes, &sub.EventTypes)
	json.Unmarshal(headers, &sub.Headers)
	return &sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, url, secret, event_types, headers, max_retry_attempts, timeout_seconds, active, owner, created_at, updated_at
		 FROM subscriptions WHERE id = $1`, id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sub, err
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	headers, _ := json.Marshal(sub.Headers)
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET name = $1, description = $2, url = $3, secret = $4, event_types = $5, headers = $6,
		 max_retry_attempts = $7, timeout_seconds = $8, active = $9, owner = $10, updated_at = now() WHERE id = $11`,
		sub.Name, sub.Description, sub.URL, sub.Secret, eventTypes, headers,
		sub.MaxRetryAttempts, sub.TimeoutSeconds, sub.Active, sub.Owner, sub.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error) {
	q := `SELECT id, name, description, url, secret, event_types, headers, max_retry_attempts, timeout_seconds, active, owner, created_at, updated_at
		 FROM subscriptions WHERE 1=1`
	var args []interface{}
	if f.Active != nil {
		args = append(args, *f.Active)
		q += fmt.Sprintf(` AND active = $%d`, len(args))
	}
	if f.Owner != "" {
		args = append(args, f.Owner)
		q += fmt.Sprintf(` AND owner = $%d`, len(args))
	}
	if f.EventType != "" {
		args = append(args, fmt.Sprintf(`%q`, f.EventType))
		q += fmt.Sprintf(` AND event_types @> $%d::jsonb`, len(args))
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) ActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]models.Subscription, error) {
	active := true
	return s.ListSubscriptions(ctx, SubscriptionFilter{Active: &active, EventType: eventType})
}

// --- Deliveries ---

const pgDeliveryCols = `id, subscription_id, event_type, payload, status, attempt_count, http_status, response_body, response_time_ms, error_message, next_retry_at, delivered_at, created_at, updated_at`

func (s *PostgresStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (`+pgDeliveryCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.SubscriptionID, d.EventType, []byte(d.Payload), d.Status, d.AttemptCount,
		d.HTTPStatus, d.ResponseBody, d.ResponseTimeMs, d.ErrorMessage, d.NextRetryAt, d.DeliveredAt,
		d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	var payload []byte
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &payload, &d.Status, &d.AttemptCount,
		&d.HTTPStatus, &d.ResponseBody, &d.ResponseTimeMs, &d.ErrorMessage, &d.NextRetryAt, &d.DeliveredAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgDeliveryCols+` FROM deliveries WHERE id = $1`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *PostgresStore) ClaimDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE deliveries SET status = $1, attempt_count = attempt_count + 1, next_retry_at = NULL, updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4)
		 RETURNING `+pgDeliveryCols,
		models.DeliveryAttempting, id, models.DeliveryCreated, models.DeliveryAwaitingRetry,
	)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		if _, err := s.GetDelivery(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotClaimable
	}
	return d, err
}

func (s *PostgresStore) FinishDelivery(ctx context.Context, d *models.Delivery) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = $1, http_status = $2, response_body = $3, response_time_ms = $4,
		 error_message = $5, next_retry_at = $6, delivered_at = $7, updated_at = now() WHERE id = $8`,
		d.Status, d.HTTPStatus, d.ResponseBody, d.ResponseTimeMs,
		d.ErrorMessage, d.NextRetryAt, d.DeliveredAt, d.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]models.Delivery, int64, error) {
	f.Normalize()

	where := ` WHERE 1=1`
	var args []interface{}
	if f.SubscriptionID != "" {
		args = append(args, f.SubscriptionID)
		where += fmt.Sprintf(` AND subscription_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		where += fmt.Sprintf(` AND event_type = $%d`, len(args))
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset())
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT `+pgDeliveryCols+` FROM deliveries`+where+` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var deliveries []models.Delivery
	for rows.Next() {
		d, err := s.scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, total, rows.Err()
}

func (s *PostgresStore) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM deliveries WHERE status = $1 AND next_retry_at <= $2 ORDER BY next_retry_at ASC LIMIT $3`,
		models.DeliveryAwaitingRetry, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Stats ---

func (s *PostgresStore) Stats(ctx context.Context, subscriptionID string) (*Stats, error) {
	q := `SELECT status, COUNT(*) FROM deliveries`
	var args []interface{}
	if subscriptionID != "" {
		q += ` WHERE subscription_id = $1`
		args = append(args, subscriptionID)
	}
	q += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status models.DeliveryStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case models.DeliverySucceeded:
			stats.Succeeded = count
		case models.DeliveryFailed:
			stats.Failed = count
		case models.DeliveryAwaitingRetry:
			stats.AwaitingRetry = count
		case models.DeliveryCreated, models.DeliveryAttempting:
			stats.Pending += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.ComputeRate()
	return stats, nil
}
