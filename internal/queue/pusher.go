package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

// SignatureHeader carries the message signature on push deliveries.
const SignatureHeader = "X-Queue-Signature"

// Pusher hands a signed message to the worker. Push delivery is a latency
// optimization over the polling fallback, never the source of truth.
type Pusher interface {
	Push(ctx context.Context, msg *domain.Message) error
}

// HTTPPusher POSTs messages to the worker's push endpoint.
type HTTPPusher struct {
	url    string
	client *http.Client
}

// NewHTTPPusher creates a pusher for the given push URL.
func NewHTTPPusher(url string) *HTTPPusher {
	return &HTTPPusher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPPusher) Push(ctx context.Context, msg *domain.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message %s: %w", msg.JobID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, msg.Signature)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push job %s to %s: %w", msg.JobID, p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push job %s to %s: status %d", msg.JobID, p.url, resp.StatusCode)
	}
	return nil
}
