package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TestEventType is the event type used for synthetic test deliveries.
const TestEventType = "WEBHOOK_TEST"

// EventPayload is the wire body posted to subscribers. It is built once
// per delivery and embedded verbatim into every attempt.
type EventPayload struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// NewEventPayload stamps the payload with the current time and a fresh
// idempotency id so receivers can deduplicate repeated deliveries.
func NewEventPayload(eventType string, data json.RawMessage) EventPayload {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return EventPayload{
		Event:     eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
		ID:        uuid.NewString(),
	}
}
