package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	obs "github.com/conciergeos/concierge/internal/adapter/otel"
	"github.com/conciergeos/concierge/internal/domain/autonomy"
	"github.com/conciergeos/concierge/internal/domain/confirmation"
	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/domain/situation"
	auditport "github.com/conciergeos/concierge/internal/port/audit"
)

// ConfirmationManager owns the table of pending confirmations. Every entry
// is consumed at most once, only by its creating user, and becomes
// unreachable the moment its expiry passes. Expiry is enforced on read, the
// background sweep only reclaims memory.
type ConfirmationManager struct {
	mu      sync.Mutex
	pending map[string]*confirmation.Pending

	defaultExpiry time.Duration
	sweepInterval time.Duration
	audit         auditport.Sink
	metrics       *obs.Metrics
	now           func() time.Time
	stop          chan struct{}
	stopOnce      sync.Once
}

// SetMetrics attaches telemetry instruments.
func (m *ConfirmationManager) SetMetrics(metrics *obs.Metrics) {
	m.metrics = metrics
}

// NewConfirmationManager creates a manager. Call Start to run the expiry
// sweep and Stop during shutdown.
func NewConfirmationManager(defaultExpiry, sweepInterval time.Duration, sink auditport.Sink) *ConfirmationManager {
	if defaultExpiry <= 0 {
		defaultExpiry = autonomy.DefaultExpirySeconds * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	if sink == nil {
		sink = auditport.Nop{}
	}
	return &ConfirmationManager{
		pending:       make(map[string]*confirmation.Pending),
		defaultExpiry: defaultExpiry,
		sweepInterval: sweepInterval,
		audit:         sink,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Create stores a new pending confirmation and returns it. The expiry
// window comes from the decision, falling back to the manager default.
func (m *ConfirmationManager) Create(userID, action string, params map[string]any, dec autonomy.Decision, sctx situation.Context) *confirmation.Pending {
	expiry := m.defaultExpiry
	if dec.ExpiresInSeconds > 0 {
		expiry = time.Duration(dec.ExpiresInSeconds) * time.Second
	}

	now := m.now()
	p := &confirmation.Pending{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Params:    params,
		Decision:  dec,
		Context:   sctx,
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
	}

	m.mu.Lock()
	m.pending[p.ID] = p
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ConfirmationsCreated.Add(context.Background(), 1)
	}

	slog.Info("confirmation created",
		"confirmation_id", p.ID,
		"user_id", userID,
		"action", action,
		"expires_at", p.ExpiresAt,
	)
	return p
}

// Get returns the pending confirmation, or nil if it is absent, owned by a
// different user, or expired. Expired entries are evicted as a side effect
// of the read.
func (m *ConfirmationManager) Get(id, userID string) *confirmation.Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok || p.UserID != userID {
		return nil
	}
	if p.Expired(m.now()) {
		delete(m.pending, id)
		return nil
	}
	return p
}

// Consume atomically fetches and deletes the confirmation. A second call
// with the same id returns nil even under concurrent access: the
// check-and-delete happens under one lock acquisition. This is the
// invariant that prevents double-execution of a consequential action.
func (m *ConfirmationManager) Consume(id, userID string) *confirmation.Pending {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok || p.UserID != userID {
		return nil
	}
	delete(m.pending, id)
	if p.Expired(m.now()) {
		return nil
	}
	return p
}

// Len returns the number of pending confirmations, expired or not.
func (m *ConfirmationManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Start runs the background expiry sweep until Stop is called or ctx ends.
func (m *ConfirmationManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.sweep(ctx); n > 0 {
					slog.Debug("confirmation sweep", "expired", n)
				}
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine. Safe to call more than once.
func (m *ConfirmationManager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// sweep removes every expired entry and returns how many were evicted.
func (m *ConfirmationManager) sweep(ctx context.Context) int {
	now := m.now()
	var swept []*confirmation.Pending

	m.mu.Lock()
	for id, p := range m.pending {
		if p.Expired(now) {
			delete(m.pending, id)
			swept = append(swept, p)
		}
	}
	m.mu.Unlock()

	if m.metrics != nil && len(swept) > 0 {
		m.metrics.ConfirmationsExpired.Add(ctx, int64(len(swept)))
	}

	for _, p := range swept {
		m.audit.Log(ctx, record.EventConfirmationSwept, map[string]any{
			"confirmation_id": p.ID,
			"user_id":         p.UserID,
			"action":          p.Action,
		})
	}
	return len(swept)
}
