package domain

import "fmt"

// JobNotFoundError is returned when a job ID does not exist.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s", e.JobID)
}

// InvalidEnqueueError is returned for malformed enqueue requests, e.g. when
// both a delay and an explicit timestamp are supplied.
type InvalidEnqueueError struct {
	Reason string
}

func (e *InvalidEnqueueError) Error() string {
	return fmt.Sprintf("invalid enqueue request: %s", e.Reason)
}

// DuplicateEventError is returned when a webhook event with the same identity
// has already been recorded. Duplicates are expected under at-least-once
// delivery and are treated as success at the HTTP boundary.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("webhook event already recorded: %s", e.EventID)
}

// QuotaExceededError is returned when a tenant has exhausted its quota for a
// metered resource. Quota checks fail closed.
type QuotaExceededError struct {
	TenantID string
	Metric   string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for tenant %s on metric %q", e.TenantID, e.Metric)
}

// TerminalStateError is returned when a result report arrives for a job that
// is already completed, failed, or cancelled.
type TerminalStateError struct {
	JobID  string
	Status Status
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("job %s already terminal with status %s", e.JobID, e.Status)
}
