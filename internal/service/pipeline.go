package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	obs "github.com/conciergeos/concierge/internal/adapter/otel"
	"github.com/conciergeos/concierge/internal/domain/autonomy"
	"github.com/conciergeos/concierge/internal/domain/confirmation"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/domain/intent"
	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/domain/situation"
	auditport "github.com/conciergeos/concierge/internal/port/audit"
	"github.com/conciergeos/concierge/internal/port/cache"
	"github.com/conciergeos/concierge/internal/port/llm"
	"github.com/conciergeos/concierge/internal/port/messagequeue"
)

const (
	apologeticReply = "Sorry, I ran into a problem handling that. Please try again in a moment."
	injectionReply  = "I can't act on that request."

	catalogCacheKey = "catalog/rendered"
	catalogCacheTTL = time.Minute
)

// PipelineResponse is the orchestrator's sole output shape. Process never
// returns an error: every failure collapses into an apologetic Message.
type PipelineResponse struct {
	Message        string                  `json:"message"`
	Choices        []string                `json:"choices,omitempty"`
	ConfirmationID string                  `json:"confirmation_id,omitempty"`
	Decision       *autonomy.Decision      `json:"decision,omitempty"`
	Result         *effect.ExecutionResult `json:"result,omitempty"`
	Plan           []PlanStep              `json:"plan,omitempty"`
}

// PlanStep is one step of a returned plan, always tagged pending: per-step
// execution re-enters the action path once the user approves each step.
type PlanStep struct {
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
}

// Pipeline is the top-level control loop run once per inbound user message.
type Pipeline struct {
	registry      *ExecutorRegistry
	engine        *AutonomyEngine
	confirmations *ConfirmationManager
	provider      llm.Provider
	cache         cache.Cache
	queue         messagequeue.Queue
	audit         auditport.Sink
	metrics       *obs.Metrics
	now           func() time.Time
}

// SetMetrics attaches telemetry instruments.
func (p *Pipeline) SetMetrics(m *obs.Metrics) {
	p.metrics = m
}

// NewPipeline wires the orchestrator. cache and queue may be nil; audit
// falls back to a no-op sink.
func NewPipeline(
	registry *ExecutorRegistry,
	engine *AutonomyEngine,
	confirmations *ConfirmationManager,
	provider llm.Provider,
	c cache.Cache,
	queue messagequeue.Queue,
	sink auditport.Sink,
) *Pipeline {
	if sink == nil {
		sink = auditport.Nop{}
	}
	return &Pipeline{
		registry:      registry,
		engine:        engine,
		confirmations: confirmations,
		provider:      provider,
		cache:         c,
		queue:         queue,
		audit:         sink,
		now:           time.Now,
	}
}

// Process handles one user message end to end. The external contract is
// "always returns a PipelineResponse"; raw provider or parser errors never
// reach the caller.
func (p *Pipeline) Process(ctx context.Context, userID, message string, history []llm.Message, overrides map[string]any) *PipelineResponse {
	sctx := situation.Build(userID, p.now(), overrides)

	raw, err := p.provider.Chat(ctx, p.buildMessages(message, history), llm.ChatOptions{Temperature: 0.3})
	if err != nil {
		slog.Error("provider call failed", "user_id", userID, "error", err)
		return &PipelineResponse{Message: apologeticReply}
	}

	in, err := intent.Parse(raw)
	if err != nil {
		if errors.Is(err, intent.ErrInjection) {
			slog.Warn("injection content in model output", "user_id", userID)
			return &PipelineResponse{Message: injectionReply}
		}
		slog.Error("intent parse failed", "user_id", userID, "error", err)
		return &PipelineResponse{Message: apologeticReply}
	}

	switch in.Kind {
	case intent.KindResponse, intent.KindObserve:
		return &PipelineResponse{Message: in.Message}

	case intent.KindClarify:
		return &PipelineResponse{Message: in.Message, Choices: in.Choices}

	case intent.KindAction:
		return p.handleAction(ctx, userID, in, sctx)

	case intent.KindPlan:
		return p.handlePlan(in)
	}

	return &PipelineResponse{Message: apologeticReply}
}

// handleAction routes a single tool call through the autonomy engine.
func (p *Pipeline) handleAction(ctx context.Context, userID string, in *intent.Intent, sctx situation.Context) *PipelineResponse {
	capDesc, ok := p.registry.Capability(in.Action)
	if !ok {
		slog.Warn("unknown action requested", "user_id", userID, "action", in.Action)
		return &PipelineResponse{Message: fmt.Sprintf("I don't know how to do %q yet.", in.Action)}
	}

	dec := p.engine.Determine(ctx, userID, in.Action, in.Params, capDesc, sctx)
	if p.metrics != nil {
		p.metrics.Decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("level", string(dec.Level)),
			attribute.String("action", in.Action),
		))
	}

	switch dec.Level {
	case autonomy.LevelAutoApprove:
		result := p.registry.Execute(ctx, userID, in.Action, in.Params)
		p.publishResult(ctx, userID, in.Action, result)
		return &PipelineResponse{Message: resultMessage(result), Result: result}

	case autonomy.LevelAnnounce:
		result := p.registry.Execute(ctx, userID, in.Action, in.Params)
		p.publish(ctx, messagequeue.SubjectActionAnnounced, map[string]any{
			"user_id": userID,
			"action":  in.Action,
			"message": dec.DisplayMessage,
		})
		p.publishResult(ctx, userID, in.Action, result)
		msg := strings.TrimSpace(dec.DisplayMessage + " " + resultMessage(result))
		return &PipelineResponse{Message: msg, Decision: &dec, Result: result}

	case autonomy.LevelConfirmSimple, autonomy.LevelConfirmDetail:
		pending := p.confirmations.Create(userID, in.Action, in.Params, dec, sctx)
		p.audit.Log(ctx, record.EventConfirmationMade, map[string]any{
			"confirmation_id": pending.ID,
			"user_id":         userID,
			"action":          in.Action,
			"level":           string(dec.Level),
		})
		p.publish(ctx, messagequeue.SubjectConfirmationCreated, map[string]any{
			"confirmation_id": pending.ID,
			"user_id":         userID,
			"action":          in.Action,
			"message":         dec.DisplayMessage,
			"params":          dec.DisplayParams,
			"expires_at":      pending.ExpiresAt,
		})
		return &PipelineResponse{
			Message:        dec.DisplayMessage,
			ConfirmationID: pending.ID,
			Decision:       &dec,
		}

	case autonomy.LevelDeny:
		p.audit.Log(ctx, record.EventActionDenied, map[string]any{
			"user_id": userID,
			"action":  in.Action,
			"reason":  dec.Reason,
		})
		p.publish(ctx, messagequeue.SubjectActionDenied, map[string]any{
			"user_id": userID,
			"action":  in.Action,
			"reason":  dec.Reason,
		})
		return &PipelineResponse{
			Message:  fmt.Sprintf("I can't do that: %s.", dec.Reason),
			Decision: &dec,
		}
	}

	return &PipelineResponse{Message: apologeticReply}
}

// handlePlan returns the step list without executing anything. Each step,
// once the user approves it, re-enters the single-action path.
func (p *Pipeline) handlePlan(in *intent.Intent) *PipelineResponse {
	steps := make([]PlanStep, len(in.Steps))
	for i, s := range in.Steps {
		steps[i] = PlanStep{
			Action:      s.Action,
			Params:      s.Params,
			Description: s.Description,
			Status:      "pending",
		}
	}
	msg := in.Message
	if msg == "" {
		msg = fmt.Sprintf("Here is my plan (%d steps). Approve each step to proceed.", len(steps))
	}
	return &PipelineResponse{Message: msg, Plan: steps}
}

// ConfirmAndExecute consumes a pending confirmation and runs its action.
// Returns nil when the confirmation is absent, expired, already consumed or
// owned by another user. A successful consume also records the approval so
// the autonomy engine can learn the pattern.
func (p *Pipeline) ConfirmAndExecute(ctx context.Context, id, userID string) *effect.ExecutionResult {
	pending := p.confirmations.Consume(id, userID)
	if pending == nil {
		return nil
	}

	if err := p.engine.RecordApproval(ctx, userID, pending.Action, pending.Params, pending.Context); err != nil {
		slog.Warn("record approval failed", "action", pending.Action, "error", err)
	}

	result := p.registry.Execute(ctx, userID, pending.Action, pending.Params)

	p.audit.Log(ctx, record.EventActionConfirmed, map[string]any{
		"confirmation_id": id,
		"user_id":         userID,
		"action":          pending.Action,
		"success":         result.Success,
	})
	p.publish(ctx, messagequeue.SubjectConfirmationClosed, map[string]any{
		"confirmation_id": id,
		"user_id":         userID,
		"status":          string(confirmation.StatusConfirmed),
	})
	p.publishResult(ctx, userID, pending.Action, result)

	return result
}

// CancelConfirmation consumes and discards a pending confirmation without
// executing. Returns false when there was nothing to cancel.
func (p *Pipeline) CancelConfirmation(ctx context.Context, id, userID string) bool {
	pending := p.confirmations.Consume(id, userID)
	if pending == nil {
		return false
	}

	p.audit.Log(ctx, record.EventActionCancelled, map[string]any{
		"confirmation_id": id,
		"user_id":         userID,
		"action":          pending.Action,
	})
	p.publish(ctx, messagequeue.SubjectConfirmationClosed, map[string]any{
		"confirmation_id": id,
		"user_id":         userID,
		"status":          string(confirmation.StatusCancelled),
	})
	return true
}

// buildMessages assembles the provider conversation: system prompt with the
// rendered catalog, prior history, then the new user message.
func (p *Pipeline) buildMessages(message string, history []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: p.systemPrompt()})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: message})
	return msgs
}

// systemPrompt renders the capability catalog into tool descriptions for the
// model, cached because the catalog only changes at registration time.
func (p *Pipeline) systemPrompt() string {
	if p.cache != nil {
		if cached, ok, err := p.cache.Get(context.Background(), catalogCacheKey); err == nil && ok {
			return string(cached)
		}
	}

	var b strings.Builder
	b.WriteString("You are a personal home assistant. Respond with a single JSON object ")
	b.WriteString(`of kind "response", "clarify", "action", "plan" or "observe". `)
	b.WriteString("For actions reply {\"kind\":\"action\",\"action\":<name>,\"params\":{...}}.\n\n")
	b.WriteString("Available tools:\n")
	for _, c := range p.registry.Catalog() {
		fmt.Fprintf(&b, "- %s: %s (risk: %s)\n", c.Name, c.Description, c.RiskLevel)
		for name, field := range c.Schema {
			req := "optional"
			if field.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s)\n", name, field.Type, req)
		}
	}

	prompt := b.String()
	if p.cache != nil {
		_ = p.cache.Set(context.Background(), catalogCacheKey, []byte(prompt), catalogCacheTTL)
	}
	return prompt
}

// publish serializes and sends an event; a nil queue or failed publish is
// silently tolerated.
func (p *Pipeline) publish(ctx context.Context, subject string, payload map[string]any) {
	if p.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := p.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("event publish failed", "subject", subject, "error", err)
	}
}

func (p *Pipeline) publishResult(ctx context.Context, userID, action string, result *effect.ExecutionResult) {
	p.publish(ctx, messagequeue.SubjectActionExecuted, map[string]any{
		"user_id": userID,
		"action":  action,
		"success": result.Success,
		"message": result.Message,
	})
}

// resultMessage renders an execution outcome for the user without leaking
// raw error text.
func resultMessage(result *effect.ExecutionResult) string {
	if result.Success {
		if result.Message != "" {
			return result.Message
		}
		return "Done."
	}
	if result.Error != nil && result.Error.Code == effect.CodeNotConfigured {
		return "That integration isn't set up yet."
	}
	return "Sorry, that didn't work."
}
