package domain

import "encoding/json"

// AuditEntry is one before/after capture of a subscription mutation.
// Diff holds only the keys whose serialized value changed; it is a forensic
// aid, not change-data-capture.
type AuditEntry struct {
	ID       string          `json:"id"`
	Action   string          `json:"action"`
	TenantID string          `json:"tenant_id"`
	RowID    string          `json:"row_id"`
	Before   json.RawMessage `json:"before"`
	After    json.RawMessage `json:"after"`
	Diff     json.RawMessage `json:"diff"`
}
