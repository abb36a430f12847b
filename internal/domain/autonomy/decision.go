// Package autonomy defines the decision model for how much human oversight
// one action instance requires before execution.
package autonomy

// Level is the degree of unsupervised execution permitted for an action.
type Level string

const (
	LevelAutoApprove   Level = "AUTO_APPROVE"
	LevelAnnounce      Level = "ANNOUNCE"
	LevelConfirmSimple Level = "CONFIRM_SIMPLE"
	LevelConfirmDetail Level = "CONFIRM_DETAILED"
	LevelDeny          Level = "DENY"
)

// DefaultExpirySeconds is how long a confirmation-requiring decision stays
// actionable when the decision does not set its own window.
const DefaultExpirySeconds = 120

// Decision is the policy engine's verdict for one action intent. It is
// computed fresh per request and never cached, because it depends on live
// situational context.
type Decision struct {
	Level            Level          `json:"level"`
	Reason           string         `json:"reason"`
	DisplayMessage   string         `json:"display_message,omitempty"`
	DisplayParams    map[string]any `json:"display_params,omitempty"`
	ExpiresInSeconds int            `json:"expires_in_seconds,omitempty"`
}

// RequiresConfirmation reports whether the decision defers execution to an
// explicit user confirmation.
func (d Decision) RequiresConfirmation() bool {
	return d.Level == LevelConfirmSimple || d.Level == LevelConfirmDetail
}

// Escalate raises the level by one confirmation tier. Used for restrictive
// user modes such as sleep or do-not-disturb.
func Escalate(l Level) Level {
	switch l {
	case LevelAutoApprove:
		return LevelAnnounce
	case LevelAnnounce:
		return LevelConfirmSimple
	case LevelConfirmSimple:
		return LevelConfirmDetail
	case LevelConfirmDetail:
		return LevelDeny
	}
	return l
}
