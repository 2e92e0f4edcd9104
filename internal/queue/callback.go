package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/retry"
)

// CallbackNotifier POSTs terminal job results to the callback URL a job was
// enqueued with. Delivery is best-effort with a short bounded retry; a target
// that stays down only costs a log line, never the job's terminal state.
type CallbackNotifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewCallbackNotifier creates a notifier with a sane default timeout.
func NewCallbackNotifier(logger *slog.Logger) *CallbackNotifier {
	return &CallbackNotifier{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type callbackBody struct {
	JobID  string          `json:"job_id"`
	Status domain.Status   `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// Deliver sends the job's outcome to its callback URL, if any.
func (n *CallbackNotifier) Deliver(ctx context.Context, job *domain.Job) {
	if job.CallbackURL == nil || *job.CallbackURL == "" {
		return
	}

	body, err := json.Marshal(callbackBody{
		JobID:  job.ID,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	})
	if err != nil {
		n.logger.Error("marshal callback body", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}

	url := *job.CallbackURL
	err = retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		OnRetry: func(attempt int, retryErr error) {
			n.logger.Warn("result callback failed, retrying",
				slog.String("job_id", job.ID),
				slog.Int("attempt", attempt),
				slog.String("error", retryErr.Error()),
			)
		},
	}, func() error {
		return n.post(ctx, url, body)
	})
	if err != nil {
		n.logger.Error("result callback exhausted retries",
			slog.String("job_id", job.ID),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	}
}

func (n *CallbackNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback to %s: status %d", url, resp.StatusCode)
	}
	return nil
}
