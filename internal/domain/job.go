package domain

import (
	"encoding/json"
	"time"
)

// Status represents the states a job can be in.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DefaultPriority is assigned when a caller does not specify one.
// Lower values are more urgent.
const DefaultPriority = 100

// Job is the core domain entity representing a unit of deferred work.
// The queue layer creates and reads jobs; status transitions after creation
// belong to the worker reporting back through the result API.
type Job struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	Priority     int             `json:"priority"`
	Attempt      int             `json:"attempt"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	CallbackURL  *string         `json:"callback_url,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	// PushedAt records the first successful push to the worker. The scheduler
	// uses it to avoid re-pushing; it never affects Status.
	PushedAt *time.Time `json:"pushed_at,omitempty"`
}

// Message is the signed wire representation of a Job handed to a worker.
// It is rebuilt from the job row on every enqueue or push; only the job row
// is the source of truth.
type Message struct {
	JobID        string          `json:"job_id"`
	TenantID     string          `json:"tenant_id"`
	Type         string          `json:"type"`
	Attempt      int             `json:"attempt"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	Payload      json.RawMessage `json:"payload"`
	MaxAttempts  int             `json:"max_attempts"`
	Priority     int             `json:"priority"`
	CallbackURL  *string         `json:"callback_url"`
	Signature    string          `json:"signature"`
}
