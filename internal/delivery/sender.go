package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hookrelay/hookrelay/internal/models"
	"github.com/hookrelay/hookrelay/internal/signing"
)

const userAgent = "hookrelay/1.0"

type SendResult struct {
	StatusCode int
	Body       string
	LatencyMs  int64
	Err        string
}

// Succeeded reports a clean 2xx response.
func (r *SendResult) Succeeded() bool {
	return r.Err == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs one signed, timeout-bounded POST to a subscriber.
// The deadline comes from the subscription, not the client, so each
// subscription gets its own budget.
type Sender struct {
	client *http.Client
}

func NewSender() *Sender {
	return &Sender{client: &http.Client{}}
}

func (s *Sender) Send(ctx context.Context, sub *models.Subscription, payload []byte) *SendResult {
	ctx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Err:       fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Signature", signing.Signature(sub.Secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Err:       fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, models.MaxResponseBodyLen))

	return &SendResult{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
}
