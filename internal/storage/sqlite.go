package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hookrelay/hookrelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			event_types TEXT NOT NULL DEFAULT '[]',
			headers TEXT NOT NULL DEFAULT '{}',
			max_retry_attempts INTEGER NOT NULL DEFAULT 3,
			timeout_seconds INTEGER NOT NULL DEFAULT 30,
			active INTEGER NOT NULL DEFAULT 1,
			owner TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'created',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			http_status INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			next_retry_at DATETIME,
			delivered_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON subscriptions(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_subscription ON deliveries(subscription_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_event_type ON deliveries(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(status, next_retry_at) WHERE status = 'awaiting_retry'`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Subscriptions ---

const subscriptionCols = `id, name, description, url, secret, event_types, headers, max_retry_attempts, timeout_seconds, active, owner, created_at, updated_at`

func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	headers, _ := json.Marshal(sub.Headers)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.Description, sub.URL, sub.Secret, string(eventTypes), string(headers),
		sub.MaxRetryAttempts, sub.TimeoutSeconds, boolToInt(sub.Active), sub.Owner, sub.CreatedAt, sub.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	var eventTypes, headers string
	var active int
	err := row.Scan(&sub.ID, &sub.Name, &sub.Description, &sub.URL, &sub.Secret, &eventTypes, &headers,
		&sub.MaxRetryAttempts, &sub.TimeoutSeconds, &active, &sub.Owner, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(eventTypes), &sub.EventTypes)
	json.Unmarshal([]byte(headers), &sub.Headers)
	sub.Active = active == 1
	return &sub, nil
}

func (s *SQLiteStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sub, err
}

func (s *SQLiteStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	eventTypes, _ := json.Marshal(sub.EventTypes)
	headers, _ := json.Marshal(sub.Headers)
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET name = ?, description = ?, url = ?, secret = ?, event_types = ?, headers = ?,
		 max_retry_attempts = ?, timeout_seconds = ?, active = ?, owner = ?, updated_at = ? WHERE id = ?`,
		sub.Name, sub.Description, sub.URL, sub.Secret, string(eventTypes), string(headers),
		sub.MaxRetryAttempts, sub.TimeoutSeconds, boolToInt(sub.Active), sub.Owner, time.Now().UTC(), sub.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]models.Subscription, error) {
	q := `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE 1=1`
	var args []interface{}
	if f.Active != nil {
		q += ` AND active = ?`
		args = append(args, boolToInt(*f.Active))
	}
	if f.Owner != "" {
		q += ` AND owner = ?`
		args = append(args, f.Owner)
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
		// Event type membership is checked in Go: the set is stored as a
		// JSON array.
		if f.EventType != "" && !sub.Listens(f.EventType) {
			continue
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) ActiveSubscriptionsForEvent(ctx context.Context, eventType string) ([]models.Subscription, error) {
	active := true
	return s.ListSubscriptions(ctx, SubscriptionFilter{Active: &active, EventType: eventType})
}

// --- Deliveries ---

const deliveryCols = `id, subscription_id, event_type, payload, status, attempt_count, http_status, response_body, response_time_ms, error_message, next_retry_at, delivered_at, created_at, updated_at`

func (s *SQLiteStore) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (`+deliveryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.SubscriptionID, d.EventType, string(d.Payload), d.Status, d.AttemptCount,
		d.HTTPStatus, d.ResponseBody, d.ResponseTimeMs, d.ErrorMessage, d.NextRetryAt, d.DeliveredAt,
		d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.Delivery, error) {
	var d models.Delivery
	var payload string
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &payload, &d.Status, &d.AttemptCount,
		&d.HTTPStatus, &d.ResponseBody, &d.ResponseTimeMs, &d.ErrorMessage, &d.NextRetryAt, &d.DeliveredAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

func (s *SQLiteStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE id = ?`, id)
	d, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *SQLiteStore) ClaimDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, attempt_count = attempt_count + 1, next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		models.DeliveryAttempting, time.Now().UTC(), id, models.DeliveryCreated, models.DeliveryAwaitingRetry,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetDelivery(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotClaimable
	}
	return s.GetDelivery(ctx, id)
}

func (s *SQLiteStore) FinishDelivery(ctx context.Context, d *models.Delivery) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, http_status = ?, response_body = ?, response_time_ms = ?,
		 error_message = ?, next_retry_at = ?, delivered_at = ?, updated_at = ? WHERE id = ?`,
		d.Status, d.HTTPStatus, d.ResponseBody, d.ResponseTimeMs,
		d.ErrorMessage, d.NextRetryAt, d.DeliveredAt, time.Now().UTC(), d.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]models.Delivery, int64, error) {
	f.Normalize()

	where := ` WHERE 1=1`
	var args []interface{}
	if f.SubscriptionID != "" {
		where += ` AND subscription_id = ?`
		args = append(args, f.SubscriptionID)
	}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.EventType != "" {
		where += ` AND event_type = ?`
		args = append(args, f.EventType)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryCols+` FROM deliveries`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset())...)
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

func (s *SQLiteStore) DueDeliveries(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM deliveries WHERE status = ? AND next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`,
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

func (s *SQLiteStore) Stats(ctx context.Context, subscriptionID string) (*Stats, error) {
	q := `SELECT status, COUNT(*) FROM deliveries`
	var args []interface{}
	if subscriptionID != "" {
		q += ` WHERE subscription_id = ?`
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
