package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event type constants for WebSocket messages.
const (
	EventAnnouncement      = "action.announced"
	EventExecutionResult   = "action.executed"
	EventConfirmationAsked = "confirmation.requested"
	EventConfirmationDone  = "confirmation.resolved"
	EventTimerFired        = "timer.fired"
)

// AnnouncementEvent is sent when the agent executes an action while telling
// the user about it.
type AnnouncementEvent struct {
	UserID  string `json:"user_id"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

// ExecutionResultEvent is sent when an execution finishes.
type ExecutionResultEvent struct {
	UserID  string `json:"user_id"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ConfirmationRequestEvent prompts the owning user's devices to ask for
// approval before the window expires.
type ConfirmationRequestEvent struct {
	ConfirmationID string         `json:"confirmation_id"`
	UserID         string         `json:"user_id"`
	Action         string         `json:"action"`
	Message        string         `json:"message"`
	Params         map[string]any `json:"params,omitempty"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// ConfirmationResolvedEvent closes an open prompt on every device once one
// of them confirmed, cancelled or let it expire.
type ConfirmationResolvedEvent struct {
	ConfirmationID string `json:"confirmation_id"`
	UserID         string `json:"user_id"`
	Status         string `json:"status"`
}

// TimerFiredEvent is sent when a countdown timer or reminder fires.
type TimerFiredEvent struct {
	TimerID string `json:"timer_id"`
	UserID  string `json:"user_id"`
	Label   string `json:"label"`
}

// SendEvent marshals a typed event and sends it to one user's connections,
// or to everyone when userID is empty.
func (h *Hub) SendEvent(ctx context.Context, userID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	msg := Message{Type: eventType, Payload: json.RawMessage(data)}
	if userID == "" {
		h.Broadcast(ctx, msg)
		return
	}
	h.SendToUser(ctx, userID, msg)
}
