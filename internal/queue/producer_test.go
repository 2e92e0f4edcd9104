package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/queue"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/signature"
)

const testQueueSecret = "queue-test-secret"

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

func newTestProducer(repo *fakeJobRepo, pusher *fakePusher, events *fakeEvents) *queue.Producer {
	var p queue.Pusher
	if pusher != nil {
		p = pusher
	}
	resolver := queue.NewResolver(queue.DefaultPolicies, queue.DefaultPolicy)
	if events != nil {
		return queue.NewProducer(repo, resolver, testQueueSecret, p, events, testLogger())
	}
	return queue.NewProducer(repo, resolver, testQueueSecret, p, nil, testLogger())
}

func TestEnqueueNow_PersistsAndPushes(t *testing.T) {
	repo := newFakeJobRepo()
	pusher := &fakePusher{}
	prod := newTestProducer(repo, pusher, nil)

	payload := json.RawMessage(`{"video_id":"v1"}`)
	job, msg, err := prod.EnqueueNow(context.Background(), "tenant-1", "video.render", payload, queue.Options{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, domain.DefaultPriority, job.Priority)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, 5, job.MaxAttempts, "video.render policy applies")

	stored := repo.snapshot(job.ID)
	require.NotNil(t, stored, "the row must exist before any push")
	assert.NotNil(t, stored.PushedAt, "successful push is recorded")

	require.Equal(t, 1, pusher.count())
	assert.Equal(t, job.ID, msg.JobID)
	assert.True(t, signature.Verify(msg.JobID, msg.TenantID, msg.Type, msg.ScheduledFor,
		msg.Signature, testQueueSecret))
}

func TestEnqueueNow_PushFailureIsNotFatal(t *testing.T) {
	repo := newFakeJobRepo()
	pusher := &fakePusher{err: errors.New("worker unreachable")}
	prod := newTestProducer(repo, pusher, nil)

	job, _, err := prod.EnqueueNow(context.Background(), "tenant-1", "social.post", nil, queue.Options{})
	require.NoError(t, err, "the durable row is the contract, push is best-effort")

	stored := repo.snapshot(job.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Nil(t, stored.PushedAt)
}

func TestEnqueueNow_PersistFailureIsFatal(t *testing.T) {
	repo := newFakeJobRepo()
	repo.createErr = errors.New("connection refused")
	pusher := &fakePusher{}
	prod := newTestProducer(repo, pusher, nil)

	_, _, err := prod.EnqueueNow(context.Background(), "tenant-1", "video.render", nil, queue.Options{})
	require.Error(t, err)
	assert.Zero(t, pusher.count(), "nothing durable means nothing pushed")
}

func TestEnqueueNow_DistinctIDsPerCall(t *testing.T) {
	repo := newFakeJobRepo()
	prod := newTestProducer(repo, nil, nil)

	a, _, err := prod.EnqueueNow(context.Background(), "tenant-1", "notify", nil, queue.Options{})
	require.NoError(t, err)
	b, _, err := prod.EnqueueNow(context.Background(), "tenant-1", "notify", nil, queue.Options{})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestEnqueueNow_Validation(t *testing.T) {
	prod := newTestProducer(newFakeJobRepo(), nil, nil)

	tests := []struct {
		name     string
		tenantID string
		jobType  string
	}{
		{"empty tenant", "", "video.render"},
		{"blank tenant", "   ", "video.render"},
		{"empty type", "tenant-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := prod.EnqueueNow(context.Background(), tt.tenantID, tt.jobType, nil, queue.Options{})
			var invalid *domain.InvalidEnqueueError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestEnqueueNow_OptionsOverrideDefaults(t *testing.T) {
	repo := newFakeJobRepo()
	prod := newTestProducer(repo, nil, nil)

	cb := "https://app.example.com/hooks/render-done"
	job, _, err := prod.EnqueueNow(context.Background(), "tenant-1", "video.render", nil, queue.Options{
		Priority:    5,
		MaxAttempts: 1,
		CallbackURL: cb,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, 1, job.MaxAttempts)
	require.NotNil(t, job.CallbackURL)
	assert.Equal(t, cb, *job.CallbackURL)
}

func TestEnqueueDelayed_RequiresExactlyOneTimeSource(t *testing.T) {
	prod := newTestProducer(newFakeJobRepo(), nil, nil)
	delay := 5 * time.Minute
	at := time.Now().Add(time.Hour)

	_, _, err := prod.EnqueueDelayed(context.Background(), "tenant-1", "notify", nil, queue.Options{})
	var invalid *domain.InvalidEnqueueError
	assert.ErrorAs(t, err, &invalid, "neither set")

	_, _, err = prod.EnqueueDelayed(context.Background(), "tenant-1", "notify", nil, queue.Options{
		Delay:        &delay,
		ScheduledFor: &at,
	})
	assert.ErrorAs(t, err, &invalid, "both set")
}

func TestEnqueueDelayed_DelaySchedules(t *testing.T) {
	repo := newFakeJobRepo()
	pusher := &fakePusher{}
	prod := newTestProducer(repo, pusher, nil)

	delay := 10 * time.Minute
	job, _, err := prod.EnqueueDelayed(context.Background(), "tenant-1", "social.post", nil, queue.Options{Delay: &delay})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusScheduled, job.Status)
	assert.WithinDuration(t, time.Now().Add(delay), job.ScheduledFor, 5*time.Second)
	assert.Zero(t, pusher.count(), "future jobs are not pushed at enqueue time")
}

func TestEnqueueDelayed_ZeroDelayIsImmediate(t *testing.T) {
	repo := newFakeJobRepo()
	prod := newTestProducer(repo, nil, nil)

	delay := time.Duration(0)
	job, _, err := prod.EnqueueDelayed(context.Background(), "tenant-1", "notify", nil, queue.Options{Delay: &delay})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
}

func TestEnqueueDelayed_RejectsNegativeDelayAndPastTimestamp(t *testing.T) {
	prod := newTestProducer(newFakeJobRepo(), nil, nil)
	var invalid *domain.InvalidEnqueueError

	neg := -time.Second
	_, _, err := prod.EnqueueDelayed(context.Background(), "tenant-1", "notify", nil, queue.Options{Delay: &neg})
	assert.ErrorAs(t, err, &invalid)

	past := time.Now().Add(-time.Hour)
	_, _, err = prod.EnqueueDelayed(context.Background(), "tenant-1", "notify", nil, queue.Options{ScheduledFor: &past})
	assert.ErrorAs(t, err, &invalid)
}

func TestEnqueue_EmptyPayloadDefaultsToEmptyObject(t *testing.T) {
	repo := newFakeJobRepo()
	prod := newTestProducer(repo, nil, nil)

	job, msg, err := prod.EnqueueNow(context.Background(), "tenant-1", "notify", nil, queue.Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(job.Payload))
	assert.JSONEq(t, `{}`, string(msg.Payload))
}

func TestEnqueue_PublishesLifecycleEvent(t *testing.T) {
	repo := newFakeJobRepo()
	events := &fakeEvents{}
	prod := newTestProducer(repo, nil, events)

	job, _, err := prod.EnqueueNow(context.Background(), "tenant-1", "ai.analyze", nil, queue.Options{})
	require.NoError(t, err)

	require.Len(t, events.topics, 1)
	assert.Equal(t, "jobs.lifecycle", events.topics[0])
	assert.Equal(t, job.ID, events.keys[0])
}

func TestPushScheduled_RecordsPushWithoutStatusChange(t *testing.T) {
	repo := newFakeJobRepo()
	pusher := &fakePusher{}
	prod := newTestProducer(repo, pusher, nil)

	delay := time.Millisecond
	job, _, err := prod.EnqueueDelayed(context.Background(), "tenant-1", "social.post", nil, queue.Options{Delay: &delay})
	require.NoError(t, err)

	require.NoError(t, prod.PushScheduled(context.Background(), job))

	stored := repo.snapshot(job.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusScheduled, stored.Status, "push never transitions status")
	assert.NotNil(t, stored.PushedAt)
	assert.Equal(t, 1, pusher.count())
}
