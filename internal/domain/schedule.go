package domain

import (
	"encoding/json"
	"time"
)

// Schedule is a recurring enqueue rule: every time the cron expression fires,
// a fresh job of the given type is enqueued for the tenant.
type Schedule struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Name      string          `json:"name"`
	CronExpr  string          `json:"cron_expr"`
	JobType   string          `json:"job_type"`
	Payload   json.RawMessage `json:"payload"`
	Enabled   bool            `json:"enabled"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt *time.Time      `json:"next_run_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
