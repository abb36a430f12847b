package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/port/database"
	"github.com/conciergeos/concierge/internal/port/messagequeue"
)

const auditWriteTimeout = 5 * time.Second

// AuditService persists audit events and mirrors them onto the message queue
// so other home nodes can follow along. Writes happen on a detached
// goroutine with their own deadline: a slow database never stalls the
// operation being audited, and a failed write is logged and dropped.
type AuditService struct {
	store database.Store
	queue messagequeue.Queue
	now   func() time.Time
}

// NewAuditService creates the sink. The queue may be nil, in which case
// events are persisted only.
func NewAuditService(store database.Store, queue messagequeue.Queue) *AuditService {
	return &AuditService{store: store, queue: queue, now: time.Now}
}

// Log implements the audit sink port. The user id is read from the
// "user_id" detail key when present.
func (s *AuditService) Log(_ context.Context, event string, details map[string]any) {
	userID, _ := details["user_id"].(string)

	raw, err := json.Marshal(details)
	if err != nil {
		slog.Error("audit details not serializable", "event", event, "error", err)
		raw = nil
	}

	entry := &record.AuditEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Event:     event,
		Details:   raw,
		CreatedAt: s.now(),
	}

	go s.write(entry)
}

func (s *AuditService) write(entry *record.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := s.store.AppendAudit(ctx, entry); err != nil {
		slog.Error("audit write failed", "event", entry.Event, "error", err)
	}

	if s.queue == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectAuditEntry, payload); err != nil {
		slog.Warn("audit publish failed", "event", entry.Event, "error", err)
	}
}
