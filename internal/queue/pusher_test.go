package queue_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/queue"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/signature"
)

func sampleMessage() *domain.Message {
	scheduledFor := time.Now().UTC()
	return &domain.Message{
		JobID:        "job-push-1",
		TenantID:     "tenant-1",
		Type:         "video.render",
		Attempt:      0,
		MaxAttempts:  5,
		Priority:     domain.DefaultPriority,
		ScheduledFor: scheduledFor,
		EnqueuedAt:   scheduledFor,
		Payload:      json.RawMessage(`{"video_id":"v1"}`),
		Signature:    signature.Sign("job-push-1", "tenant-1", "video.render", scheduledFor, testQueueSecret),
	}
}

func TestHTTPPusher_DeliversSignedMessage(t *testing.T) {
	msg := sampleMessage()

	var gotHeader string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(queue.SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	pusher := queue.NewHTTPPusher(srv.URL)
	require.NoError(t, pusher.Push(context.Background(), msg))

	assert.Equal(t, msg.Signature, gotHeader, "signature travels in the header too")

	var delivered domain.Message
	require.NoError(t, json.Unmarshal(gotBody, &delivered))
	assert.Equal(t, msg.JobID, delivered.JobID)
	assert.Equal(t, msg.Signature, delivered.Signature)
	assert.True(t, signature.Verify(delivered.JobID, delivered.TenantID, delivered.Type,
		delivered.ScheduledFor, delivered.Signature, testQueueSecret),
		"receiver can verify from the body alone")
}

func TestHTTPPusher_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pusher := queue.NewHTTPPusher(srv.URL)
	err := pusher.Push(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPPusher_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	pusher := queue.NewHTTPPusher(srv.URL)
	assert.Error(t, pusher.Push(context.Background(), sampleMessage()))
}
