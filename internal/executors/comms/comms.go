// Package comms implements outbound messaging: email and SMS through HTTP
// gateways. Both actions are high risk and irreversible, so the autonomy
// engine always gates them behind detailed confirmation.
package comms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"

	"github.com/conciergeos/concierge/internal/config"
	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/port/executor"
)

const (
	ActionSendEmail = "send_email"
	ActionSendSMS   = "send_sms"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-()]{6,18}$`)

// Executor serves outbound messaging actions.
type Executor struct {
	cfg    config.Comms
	client *http.Client
	caps   map[string]capability.ToolCapability
}

// New creates the comms executor.
func New(cfg config.Comms) *Executor {
	caps := map[string]capability.ToolCapability{
		ActionSendEmail: {
			Name:           ActionSendEmail,
			Description:    "Send an email on the user's behalf",
			RiskLevel:      capability.RiskHigh,
			Reversible:     false,
			ExternalImpact: true,
			BlastRadius:    capability.BlastExternal,
			Schema: capability.Schema{
				"to":      {Type: capability.FieldString, Required: true, MaxLen: 254},
				"subject": {Type: capability.FieldString, Required: true, MaxLen: 200},
				"body":    {Type: capability.FieldString, Required: true, MaxLen: 8192},
			},
			SupportsSimulation: true,
		},
		ActionSendSMS: {
			Name:           ActionSendSMS,
			Description:    "Send a text message on the user's behalf",
			RiskLevel:      capability.RiskHigh,
			Reversible:     false,
			ExternalImpact: true,
			BlastRadius:    capability.BlastExternal,
			Schema: capability.Schema{
				"to":   {Type: capability.FieldString, Required: true, MaxLen: 20},
				"body": {Type: capability.FieldString, Required: true, MaxLen: 1600},
			},
			SupportsSimulation: true,
		},
	}
	return &Executor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		caps:   caps,
	}
}

func (e *Executor) ID() string { return "comms" }

func (e *Executor) Capabilities() []capability.ToolCapability {
	out := make([]capability.ToolCapability, 0, len(e.caps))
	for _, c := range e.caps {
		out = append(out, c)
	}
	return out
}

func (e *Executor) CanExecute(action string) bool {
	_, ok := e.caps[action]
	return ok
}

func (e *Executor) Validate(action string, params map[string]any) capability.ValidationResult {
	c, ok := e.caps[action]
	if !ok {
		return capability.ValidationResult{Valid: false, Errors: []string{"unknown action " + action}}
	}

	result := c.Schema.Validate(params)
	if !result.Valid {
		return result
	}

	to, _ := result.SanitizedParams["to"].(string)
	switch action {
	case ActionSendEmail:
		if _, err := mail.ParseAddress(to); err != nil {
			return capability.ValidationResult{Valid: false, Errors: []string{"to: not a valid email address"}}
		}
	case ActionSendSMS:
		if !phonePattern.MatchString(to) {
			return capability.ValidationResult{Valid: false, Errors: []string{"to: not a valid phone number"}}
		}
	}
	return result
}

func (e *Executor) Simulate(_ context.Context, action string, params map[string]any) (*executor.Simulation, error) {
	to, _ := params["to"].(string)
	sim := &executor.Simulation{WouldSucceed: e.configured(action)}
	if !sim.WouldSucceed {
		sim.Warnings = []string{"messaging gateway is not configured"}
		return sim, nil
	}

	switch action {
	case ActionSendEmail:
		sim.PredictedOutput = fmt.Sprintf("email would be sent to %s", to)
		sim.PredictedSideEffects = []effect.SideEffect{
			effect.New(effect.TypeEmailSent, to, "send email to "+to, false),
		}
	case ActionSendSMS:
		sim.PredictedOutput = fmt.Sprintf("text would be sent to %s", to)
		sim.PredictedSideEffects = []effect.SideEffect{
			effect.New(effect.TypeMessageSent, to, "send SMS to "+to, false),
		}
	}
	return sim, nil
}

func (e *Executor) Execute(ctx context.Context, action string, params map[string]any) (*effect.ExecutionResult, error) {
	if !e.CanExecute(action) {
		return effect.Failure(effect.CodeNoExecutor, "unknown action "+action, false), nil
	}
	if !e.configured(action) {
		return effect.Failure(effect.CodeNotConfigured, "messaging gateway is not configured", false), nil
	}

	to, _ := params["to"].(string)
	var gateway, path string
	var seType effect.Type
	switch action {
	case ActionSendEmail:
		gateway, path, seType = e.cfg.EmailGatewayURL, "/v1/messages/email", effect.TypeEmailSent
	case ActionSendSMS:
		gateway, path, seType = e.cfg.SMSGatewayURL, "/v1/messages/sms", effect.TypeMessageSent
	}

	if err := e.post(ctx, gateway+path, params); err != nil {
		return effect.Failure(effect.CodeExecutionError, err.Error(), true), nil
	}

	return &effect.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Sent to %s.", to),
		SideEffects: []effect.SideEffect{
			effect.New(seType, to, fmt.Sprintf("%s delivered to %s", action, to), false),
		},
	}, nil
}

func (e *Executor) configured(action string) bool {
	switch action {
	case ActionSendEmail:
		return e.cfg.EmailGatewayURL != ""
	case ActionSendSMS:
		return e.cfg.SMSGatewayURL != ""
	}
	return false
}

func (e *Executor) post(ctx context.Context, url string, params map[string]any) error {
	payload := map[string]any{"from": e.cfg.From}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	return nil
}
