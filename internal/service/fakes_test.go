package service

import (
	"context"
	"errors"
	"sync"

	"github.com/conciergeos/concierge/internal/domain"
	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/port/executor"
	"github.com/conciergeos/concierge/internal/port/llm"
	"github.com/conciergeos/concierge/internal/port/messagequeue"
)

// memStore is an in-memory database.Store for tests.
type memStore struct {
	mu         sync.Mutex
	audits     []record.AuditEntry
	approvals  []record.Approval
	executions []record.Execution
	timers     map[string]record.Timer
	failAll    bool
}

func newMemStore() *memStore {
	return &memStore{timers: make(map[string]record.Timer)}
}

var errStoreDown = errors.New("store unavailable")

func (s *memStore) AppendAudit(_ context.Context, entry *record.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	s.audits = append(s.audits, *entry)
	return nil
}

func (s *memStore) ListAudit(_ context.Context, userID string, limit int) ([]record.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []record.AuditEntry
	for _, e := range s.audits {
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) RecordApproval(_ context.Context, a *record.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errStoreDown
	}
	s.approvals = append(s.approvals, *a)
	return nil
}

func (s *memStore) CountApprovals(_ context.Context, userID, action, bucket, digest string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return 0, errStoreDown
	}
	n := 0
	for _, a := range s.approvals {
		if a.UserID != userID || a.Action != action || a.ContextBucket != bucket {
			continue
		}
		if digest != "" && a.ParamsDigest != digest {
			continue
		}
		n++
	}
	return n, nil
}

func (s *memStore) CreateExecution(_ context.Context, e *record.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, *e)
	return nil
}

func (s *memStore) ListExecutions(_ context.Context, userID string, limit int) ([]record.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []record.Execution
	for _, e := range s.executions {
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CreateTimer(_ context.Context, t *record.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[t.ID] = *t
	return nil
}

func (s *memStore) DeleteTimer(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok || t.UserID != userID {
		return domain.ErrNotFound
	}
	delete(s.timers, id)
	return nil
}

func (s *memStore) ListTimers(_ context.Context, userID string) ([]record.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []record.Timer
	for _, t := range s.timers {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// stubExecutor serves one capability with scripted behavior.
type stubExecutor struct {
	id       string
	cap      capability.ToolCapability
	execErr  error
	execFn   func(ctx context.Context, action string, params map[string]any) (*effect.ExecutionResult, error)
	panics   bool
	executed int
	mu       sync.Mutex
}

func (e *stubExecutor) ID() string { return e.id }

func (e *stubExecutor) Capabilities() []capability.ToolCapability {
	return []capability.ToolCapability{e.cap}
}

func (e *stubExecutor) CanExecute(action string) bool { return action == e.cap.Name }

func (e *stubExecutor) Validate(_ string, params map[string]any) capability.ValidationResult {
	return e.cap.Schema.Validate(params)
}

func (e *stubExecutor) Simulate(context.Context, string, map[string]any) (*executor.Simulation, error) {
	return &executor.Simulation{WouldSucceed: true, PredictedOutput: "simulated"}, nil
}

func (e *stubExecutor) Execute(ctx context.Context, action string, params map[string]any) (*effect.ExecutionResult, error) {
	e.mu.Lock()
	e.executed++
	e.mu.Unlock()

	if e.panics {
		panic("stub executor blew up")
	}
	if e.execErr != nil {
		return nil, e.execErr
	}
	if e.execFn != nil {
		return e.execFn(ctx, action, params)
	}
	return &effect.ExecutionResult{Success: true, Message: "done", Output: params}, nil
}

func (e *stubExecutor) executions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed
}

// scriptProvider returns canned model output.
type scriptProvider struct {
	reply string
	err   error
}

func (p *scriptProvider) Chat(context.Context, []llm.Message, llm.ChatOptions) (string, error) {
	return p.reply, p.err
}

func (p *scriptProvider) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (p *scriptProvider) HealthCheck(context.Context) bool { return p.err == nil }

// recordingSink captures audit events synchronously.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Log(_ context.Context, event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

// recordingQueue captures published subjects.
type recordingQueue struct {
	mu       sync.Mutex
	subjects []string
}

func (q *recordingQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) published(subject string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.subjects {
		if s == subject {
			return true
		}
	}
	return false
}
