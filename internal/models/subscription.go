package models

import "time"

const (
	DefaultMaxRetryAttempts = 3
	DefaultTimeoutSeconds   = 30
)

type Subscription struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	URL              string            `json:"url"`
	Secret           string            `json:"secret,omitempty"`
	EventTypes       []string          `json:"event_types"`
	Headers          map[string]string `json:"headers,omitempty"`
	MaxRetryAttempts int               `json:"max_retry_attempts"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	Active           bool              `json:"active"`
	Owner            string            `json:"owner,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Timeout is the per-attempt deadline for this subscription.
func (s *Subscription) Timeout() time.Duration {
	secs := s.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// MaxAttempts is the first attempt plus the retry budget.
func (s *Subscription) MaxAttempts() int {
	return s.MaxRetryAttempts + 1
}

func (s *Subscription) Listens(eventType string) bool {
	for _, et := range s.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}
