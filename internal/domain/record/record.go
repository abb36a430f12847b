// Package record defines the rows the core persists: audit entries, learned
// approvals, execution records and scheduled timers.
package record

import (
	"encoding/json"
	"time"
)

// AuditEntry is one line of the append-only audit trail.
type AuditEntry struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	Event     string          `json:"event"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Audit event names emitted by the core.
const (
	EventActionExecuted    = "ACTION_EXECUTED"
	EventActionDenied      = "ACTION_DENIED"
	EventActionConfirmed   = "ACTION_CONFIRMED"
	EventActionCancelled   = "ACTION_CANCELLED"
	EventConfirmationMade  = "CONFIRMATION_CREATED"
	EventConfirmationSwept = "CONFIRMATION_EXPIRED"
	EventSandboxKilled     = "SANDBOX_KILLED"
)

// Approval is one learned-approval history entry. Rows are append-only and
// written only on explicit user confirmation, never on auto-approved or
// denied actions.
type Approval struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Action        string    `json:"action"`
	ContextBucket string    `json:"context_bucket"` // time-of-day x mode x active app
	ParamsDigest  string    `json:"params_digest"`
	CreatedAt     time.Time `json:"created_at"`
}

// Execution is the persisted trace of one registry execute call.
type Execution struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Action     string          `json:"action"`
	Params     json.RawMessage `json:"params,omitempty"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Timer is a scheduled countdown or reminder owned by an executor.
type Timer struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Label     string    `json:"label"`
	FiresAt   time.Time `json:"fires_at"`
	CreatedAt time.Time `json:"created_at"`
}
