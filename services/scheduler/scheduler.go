package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/queue"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
)

const (
	leaderKey     = "scheduler:leader"
	leaderTTL     = 30 * time.Second
	checkInterval = 15 * time.Second
	pushBatchSize = 100
)

// Scheduler dispatches due work with Redis leader election: it pushes due
// scheduled jobs to the worker and fires recurring schedules. Multiple
// instances may run; only the leader acts each tick.
type Scheduler struct {
	jobs       postgres.JobRepository
	schedules  postgres.ScheduleRepository
	producer   *queue.Producer
	redis      *redis.Client
	instanceID string
	logger     *slog.Logger
}

func NewScheduler(
	jobs postgres.JobRepository,
	schedules postgres.ScheduleRepository,
	producer *queue.Producer,
	redisClient *redis.Client,
	instanceID string,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		jobs:       jobs,
		schedules:  schedules,
		producer:   producer,
		redis:      redisClient,
		instanceID: instanceID,
		logger:     logger,
	}
}

// Run is the main polling loop: tries to become leader, then processes due
// work. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	// Run once immediately before waiting for the first tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.acquireOrRenewLeadership(ctx) {
		return
	}
	if err := s.pushDueJobs(ctx); err != nil {
		s.logger.Error("pushDueJobs", slog.String("error", err.Error()))
	}
	if err := s.fireDueSchedules(ctx); err != nil {
		s.logger.Error("fireDueSchedules", slog.String("error", err.Error()))
	}
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance is the leader.
func (s *Scheduler) acquireOrRenewLeadership(ctx context.Context) bool {
	// Attempt to become leader.
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		s.logger.Info("acquired scheduler leadership", slog.String("instance_id", s.instanceID))
		return true
	}

	// Already set, renew only if we own it (atomic Lua script avoids races).
	renewScript := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	result, err := renewScript.Run(
		ctx, s.redis,
		[]string{leaderKey},
		s.instanceID,
		leaderTTL.Milliseconds(),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

// pushDueJobs hands scheduled jobs whose time has arrived to the worker.
// Pushing never changes job status; the polling claim is the safety net for
// any push that does not land.
func (s *Scheduler) pushDueJobs(ctx context.Context) error {
	jobs, err := s.jobs.ListDueUnpushed(ctx, pushBatchSize)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.producer.PushScheduled(ctx, job); err != nil {
			s.logger.Warn("push of due job failed, polling will pick it up",
				slog.String("job_id", job.ID),
				slog.String("job_type", job.Type),
				slog.String("error", err.Error()),
			)
			continue
		}
		telemetry.SchedulerJobsPushed.Inc()
	}
	return nil
}

// fireDueSchedules enqueues a fresh job for every recurring schedule whose
// next run time has passed, then advances the schedule's bookkeeping.
func (s *Scheduler) fireDueSchedules(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		return err
	}

	for _, sched := range due {
		expr, err := cron.ParseStandard(sched.CronExpr)
		if err != nil {
			s.logger.Error("invalid cron expression, schedule skipped",
				slog.String("schedule", sched.Name),
				slog.String("cron_expr", sched.CronExpr),
				slog.String("error", err.Error()),
			)
			continue
		}

		job, _, err := s.producer.EnqueueNow(ctx, sched.TenantID, sched.JobType, sched.Payload, queue.Options{})
		if err != nil {
			s.logger.Error("schedule fire failed",
				slog.String("schedule", sched.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		nextRun := expr.Next(now)
		if err := s.schedules.MarkFired(ctx, sched.ID, now, nextRun); err != nil {
			// The job is already enqueued; next tick may fire a duplicate.
			s.logger.Error("failed to advance schedule",
				slog.String("schedule", sched.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		telemetry.SchedulerSchedulesFired.WithLabelValues(sched.JobType).Inc()
		s.logger.Info("schedule fired",
			slog.String("schedule", sched.Name),
			slog.String("job_id", job.ID),
			slog.String("job_type", sched.JobType),
			slog.Time("next_run", nextRun),
		)
	}
	return nil
}
