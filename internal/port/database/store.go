// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/conciergeos/concierge/internal/domain/record"
)

// Store is the port interface for durable storage. The core assumes simple
// row operations only; no multi-row transactional guarantees.
type Store interface {
	// Audit trail (append-only)
	AppendAudit(ctx context.Context, entry *record.AuditEntry) error
	ListAudit(ctx context.Context, userID string, limit int) ([]record.AuditEntry, error)

	// Learned-approval history (append-only). An empty paramsDigest counts
	// approvals for the action in the bucket regardless of parameter shape.
	RecordApproval(ctx context.Context, a *record.Approval) error
	CountApprovals(ctx context.Context, userID, action, contextBucket, paramsDigest string) (int, error)

	// Execution records
	CreateExecution(ctx context.Context, e *record.Execution) error
	ListExecutions(ctx context.Context, userID string, limit int) ([]record.Execution, error)

	// Timers (executor-local state). An empty userID lists every user's
	// timers, which restart recovery relies on.
	CreateTimer(ctx context.Context, t *record.Timer) error
	// DeleteTimer removes a timer owned by userID, ErrNotFound otherwise.
	DeleteTimer(ctx context.Context, id, userID string) error
	ListTimers(ctx context.Context, userID string) ([]record.Timer, error)
}
