package queue

import (
	"time"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/signature"
)

// NewMessage derives the signed wire message for a job. Messages are never
// persisted — given the job row and the shared secret this is reproducible at
// any time, so the job table stays the single source of truth.
func NewMessage(job *domain.Job, enqueuedAt time.Time, secret string) *domain.Message {
	return &domain.Message{
		JobID:        job.ID,
		TenantID:     job.TenantID,
		Type:         job.Type,
		Attempt:      job.Attempt,
		ScheduledFor: job.ScheduledFor,
		EnqueuedAt:   enqueuedAt,
		Payload:      job.Payload,
		MaxAttempts:  job.MaxAttempts,
		Priority:     job.Priority,
		CallbackURL:  job.CallbackURL,
		Signature:    signature.Sign(job.ID, job.TenantID, job.Type, job.ScheduledFor, secret),
	}
}
