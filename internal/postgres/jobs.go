package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
)

// JobRepository abstracts all database access for jobs. The queue layer only
// creates and reads rows; the state-changing methods exist for the worker
// result API, which acts on the worker's behalf.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	ClaimDue(ctx context.Context, limit int) ([]*domain.Job, error)
	ListDueUnpushed(ctx context.Context, limit int) ([]*domain.Job, error)
	MarkPushed(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, id string, result json.RawMessage) (*domain.Job, error)
	Fail(ctx context.Context, id string, jobErr string) (*domain.Job, error)
	Reschedule(ctx context.Context, id string, at time.Time, jobErr string) (*domain.Job, error)
}

type jobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository wraps a pgxpool with the JobRepository interface.
func NewJobRepository(pool *pgxpool.Pool) JobRepository {
	return &jobRepository{pool: pool}
}

const jobColumns = `id, tenant_id, type, payload, status, priority, attempt, max_attempts,
       scheduled_for, callback_url, result, error, created_at, updated_at, pushed_at`

func (r *jobRepository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, tenant_id, type, payload, status, priority, attempt, max_attempts,
			 scheduled_for, callback_url, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		job.ID, job.TenantID, job.Type, job.Payload, string(job.Status),
		job.Priority, job.Attempt, job.MaxAttempts,
		job.ScheduledFor, job.CallbackURL, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *jobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.JobNotFoundError{JobID: id}
		}
		return nil, err
	}
	return job, nil
}

// ClaimDue atomically claims up to limit due jobs for a polling worker.
// The claim is a single statement: concurrent pollers skip each other's rows
// instead of double-claiming them.
func (r *jobRepository) ClaimDue(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE jobs
		SET status = 'running', attempt = attempt + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('pending', 'scheduled')
			  AND scheduled_for <= NOW()
			  AND attempt < max_attempts
			ORDER BY priority ASC, scheduled_for ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns+`
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *jobRepository) ListDueUnpushed(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = 'scheduled'
		  AND scheduled_for <= NOW()
		  AND pushed_at IS NULL
		ORDER BY priority ASC, scheduled_for ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list due unpushed jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (r *jobRepository) MarkPushed(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET pushed_at = $1, updated_at = NOW() WHERE id = $2 AND pushed_at IS NULL
	`, at, id)
	if err != nil {
		return fmt.Errorf("mark job %s pushed: %w", id, err)
	}
	return nil
}

func (r *jobRepository) Complete(ctx context.Context, id string, result json.RawMessage) (*domain.Job, error) {
	return r.transition(ctx, id, `
		UPDATE jobs
		SET status = 'completed', result = $2, error = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		RETURNING `+jobColumns, id, result)
}

func (r *jobRepository) Fail(ctx context.Context, id string, jobErr string) (*domain.Job, error) {
	return r.transition(ctx, id, `
		UPDATE jobs
		SET status = 'failed', error = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		RETURNING `+jobColumns, id, jobErr)
}

func (r *jobRepository) Reschedule(ctx context.Context, id string, at time.Time, jobErr string) (*domain.Job, error) {
	return r.transition(ctx, id, `
		UPDATE jobs
		SET status = 'pending', scheduled_for = $2, error = $3, pushed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
		RETURNING `+jobColumns, id, at, jobErr)
}

// transition runs a guarded single-row update. When the guard matches no row
// the job is either gone or already terminal; the distinction matters to the
// result API's response code.
func (r *jobRepository) transition(ctx context.Context, id, sql string, args ...any) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, sql, args...)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, &domain.TerminalStateError{JobID: id, Status: existing.Status}
}

func collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanJob reads a job row from any pgx row type.
func scanJob(row interface {
	Scan(...any) error
}) (*domain.Job, error) {
	var job domain.Job
	var statusStr string
	err := row.Scan(
		&job.ID, &job.TenantID, &job.Type, &job.Payload, &statusStr,
		&job.Priority, &job.Attempt, &job.MaxAttempts,
		&job.ScheduledFor, &job.CallbackURL, &job.Result, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &job.PushedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.Status(statusStr)
	return &job, nil
}
