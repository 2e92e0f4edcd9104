package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
)

// Results applies a worker's outcome report to the job row. Success records
// the result; failure either reschedules with the policy's backoff or marks
// the job failed once attempts are exhausted. Terminal states are sticky:
// a report against a completed/failed/cancelled job is rejected.
type Results struct {
	repo     postgres.JobRepository
	resolver *Resolver
	notifier *CallbackNotifier
	logger   *slog.Logger
}

// NewResults constructs the result applier. notifier may be nil to disable
// callbacks.
func NewResults(repo postgres.JobRepository, resolver *Resolver, notifier *CallbackNotifier, logger *slog.Logger) *Results {
	return &Results{repo: repo, resolver: resolver, notifier: notifier, logger: logger}
}

// Complete marks the job completed with the worker-supplied result and fires
// the result callback.
func (r *Results) Complete(ctx context.Context, jobID string, result json.RawMessage) (*domain.Job, error) {
	job, err := r.repo.Complete(ctx, jobID, result)
	if err != nil {
		return nil, err
	}
	telemetry.QueueJobsFinished.WithLabelValues(job.Type, "completed").Inc()
	r.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.Attempt),
	)
	if r.notifier != nil {
		r.notifier.Deliver(ctx, job)
	}
	return job, nil
}

// Fail records a failed attempt. While attempts remain the job goes back to
// pending with the resolver's backoff applied to scheduled_for; the final
// failure is terminal and triggers the callback.
func (r *Results) Fail(ctx context.Context, jobID, jobErr string) (*domain.Job, error) {
	current, err := r.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, &domain.TerminalStateError{JobID: jobID, Status: current.Status}
	}

	if current.Attempt < current.MaxAttempts {
		policy := r.resolver.Resolve(current.Type)
		delay := Backoff(current.Attempt, policy)
		job, err := r.repo.Reschedule(ctx, jobID, time.Now().UTC().Add(delay), jobErr)
		if err != nil {
			return nil, err
		}
		telemetry.QueueJobsRetried.WithLabelValues(job.Type).Inc()
		r.logger.Warn("job attempt failed, rescheduled",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.Int("attempt", job.Attempt),
			slog.Duration("backoff", delay),
			slog.String("error", jobErr),
		)
		return job, nil
	}

	job, err := r.repo.Fail(ctx, jobID, jobErr)
	if err != nil {
		return nil, err
	}
	telemetry.QueueJobsFinished.WithLabelValues(job.Type, "failed").Inc()
	r.logger.Error("job failed after all attempts",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", job.Attempt),
		slog.String("error", jobErr),
	)
	if r.notifier != nil {
		r.notifier.Deliver(ctx, job)
	}
	return job, nil
}
