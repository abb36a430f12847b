// Package confirmation defines the pending-confirmation record: an action
// that has been provisionally approved but waits for explicit user consent.
package confirmation

import (
	"time"

	"github.com/conciergeos/concierge/internal/domain/autonomy"
	"github.com/conciergeos/concierge/internal/domain/situation"
)

// Status tracks the lifecycle of a pending confirmation. CREATED is the only
// non-terminal state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Pending is one action awaiting human approval. It is created when the
// autonomy engine returns a CONFIRM_* level, consumed exactly once by a
// matching confirm or cancel call, and garbage-collected after ExpiresAt.
type Pending struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Action    string            `json:"action"`
	Params    map[string]any    `json:"params"`
	Decision  autonomy.Decision `json:"decision"`
	Context   situation.Context `json:"context"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the confirmation window has passed at t.
func (p *Pending) Expired(t time.Time) bool {
	return t.After(p.ExpiresAt)
}
