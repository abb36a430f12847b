// Package home implements smart-home device actions behind an HTTP bridge.
// Without a configured bridge URL the executor stays registered but every
// execution reports NOT_CONFIGURED.
package home

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/conciergeos/concierge/internal/config"
	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/port/executor"
)

const (
	ActionLightSet  = "light_set"
	ActionSwitchSet = "switch_set"
)

// Executor serves device-control actions through the home bridge.
type Executor struct {
	cfg    config.Home
	client *http.Client
	caps   map[string]capability.ToolCapability
}

// New creates the home executor.
func New(cfg config.Home) *Executor {
	caps := map[string]capability.ToolCapability{
		ActionLightSet: {
			Name:        ActionLightSet,
			Description: "Turn a light on or off, optionally with brightness",
			RiskLevel:   capability.RiskMedium,
			Reversible:  true,
			BlastRadius: capability.BlastDevice,
			Schema: capability.Schema{
				"room":       {Type: capability.FieldString, Required: true, MaxLen: 64},
				"state":      {Type: capability.FieldString, Required: true, Enum: []string{"on", "off"}},
				"brightness": {Type: capability.FieldNumber, Min: f(0), Max: f(100)},
			},
			SupportsSimulation: true,
		},
		ActionSwitchSet: {
			Name:        ActionSwitchSet,
			Description: "Toggle a smart plug or switch",
			RiskLevel:   capability.RiskMedium,
			Reversible:  true,
			BlastRadius: capability.BlastDevice,
			Schema: capability.Schema{
				"device": {Type: capability.FieldString, Required: true, MaxLen: 64},
				"state":  {Type: capability.FieldString, Required: true, Enum: []string{"on", "off"}},
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

func (e *Executor) ID() string { return "home" }

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
	return c.Schema.Validate(params)
}

func (e *Executor) Simulate(_ context.Context, action string, params map[string]any) (*executor.Simulation, error) {
	if e.cfg.BridgeURL == "" {
		return &executor.Simulation{
			WouldSucceed: false,
			Warnings:     []string{"home bridge is not configured"},
		}, nil
	}
	target := deviceTarget(action, params)
	state, _ := params["state"].(string)
	return &executor.Simulation{
		WouldSucceed:    true,
		PredictedOutput: fmt.Sprintf("%s would turn %s", target, state),
		PredictedSideEffects: []effect.SideEffect{
			effect.New(effect.TypeDeviceControl, target, fmt.Sprintf("set %s to %s", target, state), true),
		},
	}, nil
}

func (e *Executor) Execute(ctx context.Context, action string, params map[string]any) (*effect.ExecutionResult, error) {
	if !e.CanExecute(action) {
		return effect.Failure(effect.CodeNoExecutor, "unknown action "+action, false), nil
	}
	if e.cfg.BridgeURL == "" {
		return effect.Failure(effect.CodeNotConfigured, "home bridge is not configured", false), nil
	}

	target := deviceTarget(action, params)
	state, _ := params["state"].(string)
	prior, err := e.bridgeCall(ctx, action, params)
	if err != nil {
		return effect.Failure("DEVICE_ERROR", err.Error(), true), nil
	}

	se := effect.New(effect.TypeDeviceControl, target, fmt.Sprintf("set %s to %s", target, state), true)
	se.Before = prior
	se.After = state
	se.RollbackAction = action

	return &effect.ExecutionResult{
		Success:     true,
		Message:     fmt.Sprintf("%s is now %s.", target, state),
		SideEffects: []effect.SideEffect{se},
	}, nil
}

// bridgeCall posts the device command and returns the prior state reported
// by the bridge.
func (e *Executor) bridgeCall(ctx context.Context, action string, params map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{"action": action, "params": params})
	if err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BridgeURL+"/api/devices/command", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bridge call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bridge returned %d", resp.StatusCode)
	}

	var out struct {
		PriorState string `json:"prior_state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode bridge response: %w", err)
	}
	return out.PriorState, nil
}

func deviceTarget(action string, params map[string]any) string {
	if action == ActionLightSet {
		room, _ := params["room"].(string)
		return "lights/" + room
	}
	device, _ := params["device"].(string)
	return "switch/" + device
}

func f(v float64) *float64 { return &v }
