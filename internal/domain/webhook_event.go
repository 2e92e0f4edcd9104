package domain

import "time"

// WebhookEvent is the durable record of one inbound provider event, written
// before any business processing so a concurrent duplicate delivery hits the
// uniqueness constraint on EventID instead of racing the processor.
type WebhookEvent struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	PayloadHash string     `json:"payload_hash"`
	RawPayload  []byte     `json:"-"`
	TenantID    string     `json:"tenant_id,omitempty"`
	Processed   bool       `json:"processed"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
