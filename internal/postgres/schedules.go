package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

// ScheduleRepository persists recurring enqueue rules. Only the scheduler
// mutates run bookkeeping; rows themselves are managed out of band.
type ScheduleRepository interface {
	ListDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error)
	MarkFired(ctx context.Context, id string, ranAt, nextRun time.Time) error
}

type scheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository wraps a pgxpool with the ScheduleRepository interface.
func NewScheduleRepository(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepository{pool: pool}
}

func (r *scheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, cron_expr, job_type, payload, enabled,
		       last_run_at, next_run_at, created_at
		FROM schedules
		WHERE enabled = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at ASC NULLS FIRST
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.Name, &s.CronExpr, &s.JobType,
			&s.Payload, &s.Enabled, &s.LastRunAt, &s.NextRunAt, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, &s)
	}
	return schedules, rows.Err()
}

func (r *scheduleRepository) MarkFired(ctx context.Context, id string, ranAt, nextRun time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE schedules SET last_run_at = $1, next_run_at = $2 WHERE id = $3
	`, ranAt, nextRun, id)
	if err != nil {
		return fmt.Errorf("mark schedule %s fired: %w", id, err)
	}
	return nil
}
