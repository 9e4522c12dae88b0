package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryCreated       DeliveryStatus = "created"
	DeliveryAttempting    DeliveryStatus = "attempting"
	DeliverySucceeded     DeliveryStatus = "succeeded"
	DeliveryAwaitingRetry DeliveryStatus = "awaiting_retry"
	DeliveryFailed        DeliveryStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySucceeded || s == DeliveryFailed
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryCreated, DeliveryAttempting, DeliverySucceeded, DeliveryAwaitingRetry, DeliveryFailed:
		return true
	}
	return false
}

// MaxResponseBodyLen bounds the stored subscriber response body.
const MaxResponseBodyLen = 1000

type Delivery struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	HTTPStatus     int             `json:"http_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ResponseTimeMs int64           `json:"response_time_ms,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
