package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conciergeos/concierge/internal/port/messagequeue"
)

// Forwarder relays queue events to connected sockets so every device sees
// what the agent did, asked, or was told. Confirmation prompts are routed
// to the owning user only; everything else fans out per its user_id field.
type Forwarder struct {
	hub     *Hub
	queue   messagequeue.Queue
	cancels []func()
}

// NewForwarder creates a forwarder. Call Start to begin relaying.
func NewForwarder(hub *Hub, queue messagequeue.Queue) *Forwarder {
	return &Forwarder{hub: hub, queue: queue}
}

// Start subscribes to every subject the sockets care about.
func (f *Forwarder) Start(ctx context.Context) error {
	subs := map[string]messagequeue.Handler{
		messagequeue.SubjectActionAnnounced:     f.onAnnounced,
		messagequeue.SubjectActionExecuted:      f.onExecuted,
		messagequeue.SubjectConfirmationCreated: f.onConfirmationCreated,
		messagequeue.SubjectConfirmationClosed:  f.onConfirmationClosed,
		messagequeue.SubjectTimerFired:          f.onTimerFired,
	}
	for subject, handler := range subs {
		cancel, err := f.queue.Subscribe(ctx, subject, handler)
		if err != nil {
			f.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		f.cancels = append(f.cancels, cancel)
	}
	return nil
}

// Stop cancels all subscriptions.
func (f *Forwarder) Stop() {
	for _, cancel := range f.cancels {
		cancel()
	}
	f.cancels = nil
}

func (f *Forwarder) onAnnounced(ctx context.Context, _ string, data []byte) error {
	var msg struct {
		UserID  string `json:"user_id"`
		Action  string `json:"action"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.hub.SendEvent(ctx, msg.UserID, EventAnnouncement, AnnouncementEvent{
		UserID:  msg.UserID,
		Action:  msg.Action,
		Message: msg.Message,
	})
	return nil
}

func (f *Forwarder) onExecuted(ctx context.Context, _ string, data []byte) error {
	var msg struct {
		UserID  string `json:"user_id"`
		Action  string `json:"action"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.hub.SendEvent(ctx, msg.UserID, EventExecutionResult, ExecutionResultEvent{
		UserID:  msg.UserID,
		Action:  msg.Action,
		Success: msg.Success,
		Message: msg.Message,
	})
	return nil
}

func (f *Forwarder) onConfirmationCreated(ctx context.Context, _ string, data []byte) error {
	var msg struct {
		ConfirmationID string         `json:"confirmation_id"`
		UserID         string         `json:"user_id"`
		Action         string         `json:"action"`
		Message        string         `json:"message"`
		Params         map[string]any `json:"params"`
		ExpiresAt      time.Time      `json:"expires_at"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.hub.SendEvent(ctx, msg.UserID, EventConfirmationAsked, ConfirmationRequestEvent{
		ConfirmationID: msg.ConfirmationID,
		UserID:         msg.UserID,
		Action:         msg.Action,
		Message:        msg.Message,
		Params:         msg.Params,
		ExpiresAt:      msg.ExpiresAt,
	})
	return nil
}

func (f *Forwarder) onConfirmationClosed(ctx context.Context, _ string, data []byte) error {
	var msg struct {
		ConfirmationID string `json:"confirmation_id"`
		UserID         string `json:"user_id"`
		Status         string `json:"status"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.hub.SendEvent(ctx, msg.UserID, EventConfirmationDone, ConfirmationResolvedEvent{
		ConfirmationID: msg.ConfirmationID,
		UserID:         msg.UserID,
		Status:         msg.Status,
	})
	return nil
}

func (f *Forwarder) onTimerFired(ctx context.Context, _ string, data []byte) error {
	var msg struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
		Label  string `json:"label"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.hub.SendEvent(ctx, msg.UserID, EventTimerFired, TimerFiredEvent{
		TimerID: msg.ID,
		UserID:  msg.UserID,
		Label:   msg.Label,
	})
	return nil
}
