package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/conciergeos/concierge/internal/config"
	"github.com/conciergeos/concierge/internal/domain/autonomy"
	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/domain/situation"
	"github.com/conciergeos/concierge/internal/port/database"
)

// AutonomyEngine decides, for one action intent, how much human oversight is
// required before execution. Decisions are computed fresh per request; the
// only state the engine reads is the learned-approval history.
type AutonomyEngine struct {
	store       database.Store
	threshold   int
	alwaysAllow map[string]struct{}
	overrides   map[string]autonomy.Level
}

// NewAutonomyEngine creates an engine from config. Custom per-action level
// overrides may be loaded separately with LoadRules.
func NewAutonomyEngine(store database.Store, cfg config.Autonomy) *AutonomyEngine {
	allow := make(map[string]struct{}, len(cfg.AlwaysAllow))
	for _, a := range cfg.AlwaysAllow {
		allow[a] = struct{}{}
	}
	threshold := cfg.PatternThreshold
	if threshold < 1 {
		threshold = 3
	}
	return &AutonomyEngine{
		store:       store,
		threshold:   threshold,
		alwaysAllow: allow,
		overrides:   make(map[string]autonomy.Level),
	}
}

// SetOverride pins a fixed base level for one action, replacing the
// risk-derived default. Used by operators via the rules directory.
func (e *AutonomyEngine) SetOverride(action string, level autonomy.Level) {
	e.overrides[action] = level
}

// Determine computes the autonomy decision for one action intent.
func (e *AutonomyEngine) Determine(ctx context.Context, userID, action string, params map[string]any, capDesc capability.ToolCapability, sctx situation.Context) autonomy.Decision {
	level, reason := e.baseLevel(ctx, userID, action, params, capDesc, sctx)

	// Restrictive modes raise every non-trivial action one tier, except the
	// allow-list of read-only actions.
	if sctx.Restrictive() && capDesc.RiskLevel != capability.RiskNone {
		if _, allowed := e.alwaysAllow[action]; !allowed {
			escalated := autonomy.Escalate(level)
			if escalated != level {
				level = escalated
				reason = fmt.Sprintf("%s; escalated one tier by %s mode", reason, sctx.Mode)
			}
		}
	}

	dec := autonomy.Decision{Level: level, Reason: reason}
	if dec.RequiresConfirmation() {
		dec.ExpiresInSeconds = autonomy.DefaultExpirySeconds
		dec.DisplayMessage = fmt.Sprintf("Allow %q?", action)
		if level == autonomy.LevelConfirmDetail {
			dec.DisplayMessage = fmt.Sprintf("Allow %q? Review the full parameters before confirming.", action)
			dec.DisplayParams = params
		}
	}
	if level == autonomy.LevelAnnounce {
		dec.DisplayMessage = fmt.Sprintf("Doing this now: %s.", capDesc.Description)
	}

	slog.Debug("autonomy decision",
		"action", action,
		"user_id", userID,
		"risk", string(capDesc.RiskLevel),
		"level", string(dec.Level),
		"reason", dec.Reason,
	)
	return dec
}

// baseLevel applies the risk-to-level policy table before mode escalation.
func (e *AutonomyEngine) baseLevel(ctx context.Context, userID, action string, params map[string]any, capDesc capability.ToolCapability, sctx situation.Context) (autonomy.Level, string) {
	if level, ok := e.overrides[action]; ok {
		return level, "operator override for " + action
	}

	switch capDesc.RiskLevel {
	case capability.RiskCritical:
		// Critical actions stay denied unless the user has repeatedly
		// approved this exact action+parameter shape in a similar context.
		if e.hasPattern(ctx, userID, action, sctx.Bucket(), paramsDigest(params)) {
			return autonomy.LevelConfirmDetail, "critical risk; learned approval pattern permits confirmation"
		}
		return autonomy.LevelDeny, "critical risk without a learned approval pattern"

	case capability.RiskHigh:
		return autonomy.LevelConfirmDetail, "high risk"

	case capability.RiskMedium:
		if capDesc.ExternalImpact && !capDesc.Reversible {
			return autonomy.LevelConfirmDetail, "irreversible external impact"
		}
		if e.hasPattern(ctx, userID, action, sctx.Bucket(), "") {
			return autonomy.LevelAnnounce, "medium risk with learned approval pattern"
		}
		return autonomy.LevelConfirmSimple, "medium risk"

	case capability.RiskLow:
		if capDesc.ExternalImpact && !capDesc.Reversible {
			return autonomy.LevelConfirmDetail, "irreversible external impact"
		}
		return autonomy.LevelAnnounce, "low risk"

	case capability.RiskNone:
		return autonomy.LevelAutoApprove, "no risk"
	}

	return autonomy.LevelConfirmSimple, "unknown risk level"
}

// RecordApproval appends one entry to the learned-approval history. Called
// only on explicit user confirmation, never on auto-approved or denied
// actions.
func (e *AutonomyEngine) RecordApproval(ctx context.Context, userID, action string, params map[string]any, sctx situation.Context) error {
	a := &record.Approval{
		ID:            uuid.NewString(),
		UserID:        userID,
		Action:        action,
		ContextBucket: sctx.Bucket(),
		ParamsDigest:  paramsDigest(params),
		CreatedAt:     time.Now(),
	}
	if err := e.store.RecordApproval(ctx, a); err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// hasPattern reports whether the user has approved this action at least
// threshold times in the same context bucket. A non-empty digest also pins
// the parameter shape.
func (e *AutonomyEngine) hasPattern(ctx context.Context, userID, action, bucket, digest string) bool {
	n, err := e.store.CountApprovals(ctx, userID, action, bucket, digest)
	if err != nil {
		slog.Warn("approval history lookup failed", "action", action, "error", err)
		return false
	}
	return n >= e.threshold
}

// paramsDigest hashes the canonical parameter shape: sorted keys, JSON
// values. Two calls with the same parameters always produce the same digest.
func paramsDigest(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		v, _ := json.Marshal(params[k])
		fmt.Fprintf(h, "%s=%s;", k, v)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
