package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/kafka"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
)

const lifecycleTopic = "jobs.lifecycle"

// Options tunes a single enqueue call. Zero values fall back to the resolved
// policy (MaxAttempts) and platform defaults (Priority).
type Options struct {
	Priority    int
	CallbackURL string
	MaxAttempts int

	// Delay and ScheduledFor select the enqueue time for EnqueueDelayed.
	// Exactly one must be set; EnqueueNow ignores both.
	Delay        *time.Duration
	ScheduledFor *time.Time
}

// Producer durably records intent to do work and hands a signed message to
// the worker. The job row is the source of truth: persistence failure is
// fatal to the caller, push failure is not.
type Producer struct {
	repo     postgres.JobRepository
	resolver *Resolver
	secret   string
	pusher   Pusher         // nil = polling only
	events   kafka.Producer // nil = lifecycle stream disabled
	logger   *slog.Logger
}

// NewProducer constructs a Producer. pusher and events may be nil.
func NewProducer(
	repo postgres.JobRepository,
	resolver *Resolver,
	secret string,
	pusher Pusher,
	events kafka.Producer,
	logger *slog.Logger,
) *Producer {
	return &Producer{
		repo:     repo,
		resolver: resolver,
		secret:   secret,
		pusher:   pusher,
		events:   events,
		logger:   logger,
	}
}

// EnqueueNow persists a pending job scheduled for immediately and attempts a
// push delivery.
func (p *Producer) EnqueueNow(ctx context.Context, tenantID, jobType string, payload json.RawMessage, opts Options) (*domain.Job, *domain.Message, error) {
	return p.enqueue(ctx, tenantID, jobType, payload, opts, time.Now().UTC())
}

// EnqueueDelayed persists a job for a future time, given either a delay or an
// explicit timestamp (exactly one). A zero delay degenerates to EnqueueNow
// semantics: the job lands as pending, not scheduled.
func (p *Producer) EnqueueDelayed(ctx context.Context, tenantID, jobType string, payload json.RawMessage, opts Options) (*domain.Job, *domain.Message, error) {
	if (opts.Delay == nil) == (opts.ScheduledFor == nil) {
		return nil, nil, &domain.InvalidEnqueueError{Reason: "exactly one of delay or scheduled_for must be set"}
	}

	now := time.Now().UTC()
	at := now
	if opts.Delay != nil {
		if *opts.Delay < 0 {
			return nil, nil, &domain.InvalidEnqueueError{Reason: "delay must not be negative"}
		}
		at = now.Add(*opts.Delay)
	} else {
		at = opts.ScheduledFor.UTC()
		if at.Before(now) {
			return nil, nil, &domain.InvalidEnqueueError{Reason: "scheduled_for must not be in the past"}
		}
	}
	return p.enqueue(ctx, tenantID, jobType, payload, opts, at)
}

func (p *Producer) enqueue(ctx context.Context, tenantID, jobType string, payload json.RawMessage, opts Options, scheduledFor time.Time) (*domain.Job, *domain.Message, error) {
	ctx, span := otel.Tracer("queue").Start(ctx, "queue.enqueue")
	defer span.End()

	if strings.TrimSpace(tenantID) == "" {
		return nil, nil, &domain.InvalidEnqueueError{Reason: "tenant_id is required"}
	}
	if strings.TrimSpace(jobType) == "" {
		return nil, nil, &domain.InvalidEnqueueError{Reason: "type is required"}
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	policy := p.resolver.Resolve(jobType)
	maxAttempts := policy.MaxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}
	priority := opts.Priority
	if priority == 0 {
		priority = domain.DefaultPriority
	}

	now := time.Now().UTC()
	status := domain.StatusPending
	if scheduledFor.After(now) {
		status = domain.StatusScheduled
	}

	job := &domain.Job{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Type:         jobType,
		Payload:      payload,
		Status:       status,
		Priority:     priority,
		Attempt:      0,
		MaxAttempts:  maxAttempts,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.CallbackURL != "" {
		job.CallbackURL = &opts.CallbackURL
	}

	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", jobType),
		attribute.String("job.tenant_id", tenantID),
	)

	// A job must never be reported as enqueued unless it was durably written.
	if err := p.repo.Create(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, nil, err
	}

	msg := NewMessage(job, now, p.secret)
	telemetry.QueueJobsEnqueued.WithLabelValues(jobType, string(status)).Inc()

	log := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", jobType),
		slog.String("tenant_id", tenantID),
	)

	// Push is best-effort: the polling worker picks the row up regardless.
	if p.pusher != nil && status == domain.StatusPending {
		if err := p.pusher.Push(ctx, msg); err != nil {
			span.RecordError(err)
			telemetry.QueuePushFailures.Inc()
			log.Warn("push delivery failed, relying on polling fallback", slog.String("error", err.Error()))
		} else {
			if err := p.repo.MarkPushed(ctx, job.ID, time.Now().UTC()); err != nil {
				log.Error("failed to record push", slog.String("error", err.Error()))
			}
		}
	}

	p.publishLifecycle(ctx, "job.enqueued", job)

	log.Info("job enqueued",
		slog.String("status", string(status)),
		slog.Time("scheduled_for", scheduledFor),
	)
	return job, msg, nil
}

// Message derives the signed wire message for an already persisted job.
// Used by the claim API, where the worker pulls instead of being pushed.
func (p *Producer) Message(job *domain.Job, enqueuedAt time.Time) *domain.Message {
	return NewMessage(job, enqueuedAt, p.secret)
}

// PushScheduled re-derives and pushes the message for a due scheduled job.
// Called by the scheduler; the job's status is untouched.
func (p *Producer) PushScheduled(ctx context.Context, job *domain.Job) error {
	if p.pusher == nil {
		return nil
	}
	msg := NewMessage(job, time.Now().UTC(), p.secret)
	if err := p.pusher.Push(ctx, msg); err != nil {
		telemetry.QueuePushFailures.Inc()
		return err
	}
	return p.repo.MarkPushed(ctx, job.ID, time.Now().UTC())
}

// publishLifecycle emits a best-effort event to the analytics stream.
func (p *Producer) publishLifecycle(ctx context.Context, action string, job *domain.Job) {
	if p.events == nil {
		return
	}
	value, err := json.Marshal(map[string]any{
		"action":    action,
		"job_id":    job.ID,
		"tenant_id": job.TenantID,
		"type":      job.Type,
		"status":    job.Status,
		"at":        time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.events.Publish(ctx, lifecycleTopic, job.ID, value); err != nil {
		p.logger.Warn("lifecycle event publish failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
