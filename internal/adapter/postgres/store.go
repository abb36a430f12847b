package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conciergeos/concierge/internal/domain"
	"github.com/conciergeos/concierge/internal/domain/record"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Audit trail ---

func (s *Store) AppendAudit(ctx context.Context, entry *record.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, user_id, event, details, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.UserID, entry.Event, entry.Details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, userID string, limit int) ([]record.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, event, details, created_at
		 FROM audit_entries WHERE ($1 = '' OR user_id = $1)
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []record.AuditEntry
	for rows.Next() {
		var e record.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Event, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Learned-approval history ---

func (s *Store) RecordApproval(ctx context.Context, a *record.Approval) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approvals (id, user_id, action, context_bucket, params_digest, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.Action, a.ContextBucket, a.ParamsDigest, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

func (s *Store) CountApprovals(ctx context.Context, userID, action, contextBucket, paramsDigest string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM approvals
		 WHERE user_id = $1 AND action = $2 AND context_bucket = $3
		   AND ($4 = '' OR params_digest = $4)`,
		userID, action, contextBucket, paramsDigest).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count approvals: %w", err)
	}
	return n, nil
}

// --- Execution records ---

func (s *Store) CreateExecution(ctx context.Context, e *record.Execution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, user_id, action, params, success, result, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Action, e.Params, e.Success, e.Result, e.DurationMS, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, userID string, limit int) ([]record.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, action, params, success, result, duration_ms, created_at
		 FROM executions WHERE ($1 = '' OR user_id = $1)
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []record.Execution
	for rows.Next() {
		var e record.Execution
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Params, &e.Success, &e.Result, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// --- Timers ---

func (s *Store) CreateTimer(ctx context.Context, t *record.Timer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO timers (id, user_id, label, fires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.UserID, t.Label, t.FiresAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create timer: %w", err)
	}
	return nil
}

func (s *Store) DeleteTimer(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM timers WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete timer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListTimers(ctx context.Context, userID string) ([]record.Timer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, label, fires_at, created_at
		 FROM timers WHERE ($1 = '' OR user_id = $1) ORDER BY fires_at ASC`, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	var timers []record.Timer
	for rows.Next() {
		var t record.Timer
		if err := rows.Scan(&t.ID, &t.UserID, &t.Label, &t.FiresAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}
