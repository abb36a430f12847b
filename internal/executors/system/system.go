// Package system implements desktop-level actions: opening URLs and running
// user-authored scripts under the sandbox.
package system

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/port/executor"
	"github.com/conciergeos/concierge/internal/sandbox"
)

const (
	ActionOpenURL   = "open_url"
	ActionRunScript = "run_script"
)

// Executor serves system actions. Scripts always run through the sandbox.
type Executor struct {
	sandbox *sandbox.Executor
	caps    map[string]capability.ToolCapability
}

// New creates the system executor.
func New(sb *sandbox.Executor) *Executor {
	caps := map[string]capability.ToolCapability{
		ActionOpenURL: {
			Name:        ActionOpenURL,
			Description: "Open a URL in the user's default browser",
			RiskLevel:   capability.RiskLow,
			Reversible:  true,
			BlastRadius: capability.BlastLocal,
			Schema: capability.Schema{
				"url": {Type: capability.FieldString, Required: true, MaxLen: 2048},
			},
			SupportsSimulation: true,
		},
		ActionRunScript: {
			Name:        ActionRunScript,
			Description: "Run a short script in an isolated sandbox",
			RiskLevel:   capability.RiskCritical,
			Reversible:  false,
			BlastRadius: capability.BlastDevice,
			Schema: capability.Schema{
				"language": {Type: capability.FieldString, Required: true, Enum: []string{"js", "python", "shell"}},
				"code":     {Type: capability.FieldString, Required: true, MaxLen: 16384},
			},
			SupportsSimulation: false,
		},
	}
	return &Executor{sandbox: sb, caps: caps}
}

func (e *Executor) ID() string { return "system" }

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
	switch action {
	case ActionOpenURL:
		target, _ := params["url"].(string)
		return &executor.Simulation{
			WouldSucceed:    true,
			PredictedOutput: fmt.Sprintf("would open %s", target),
			PredictedSideEffects: []effect.SideEffect{
				effect.New(effect.TypeProcessSpawn, "browser", "spawn browser for "+target, true),
			},
		}, nil
	default:
		return &executor.Simulation{
			WouldSucceed: false,
			Warnings:     []string{action + " cannot be simulated"},
		}, nil
	}
}

func (e *Executor) Execute(ctx context.Context, action string, params map[string]any) (*effect.ExecutionResult, error) {
	switch action {
	case ActionOpenURL:
		return e.openURL(ctx, params), nil
	case ActionRunScript:
		return e.runScript(ctx, params), nil
	}
	return effect.Failure(effect.CodeNoExecutor, "unknown action "+action, false), nil
}

func (e *Executor) openURL(ctx context.Context, params map[string]any) *effect.ExecutionResult {
	raw, _ := params["url"].(string)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return effect.Failure(effect.CodeValidationFailed, "only http(s) URLs can be opened", false)
	}

	// Desktop integration has to touch the host session; the sandbox has no
	// display. The spawned opener detaches immediately.
	cmd := exec.CommandContext(ctx, opener(), u.String())
	if err := cmd.Start(); err != nil {
		return effect.Failure(effect.CodeExecutionError, "could not open URL", true)
	}
	go func() { _ = cmd.Wait() }()

	return &effect.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Opened %s.", u.Host),
		SideEffects: []effect.SideEffect{
			effect.New(effect.TypeProcessSpawn, "browser", "spawned browser for "+u.String(), true),
		},
	}
}

func (e *Executor) runScript(ctx context.Context, params map[string]any) *effect.ExecutionResult {
	language, _ := params["language"].(string)
	code, _ := params["code"].(string)

	var res *sandbox.Result
	switch language {
	case "js":
		res = e.sandbox.ExecJS(ctx, code, sandbox.Options{})
	case "python":
		res = e.sandbox.ExecPython(ctx, code, sandbox.Options{})
	case "shell":
		res = e.sandbox.ExecShell(ctx, code, sandbox.Options{})
	default:
		return effect.Failure(effect.CodeValidationFailed, "unsupported language "+language, false)
	}

	result := &effect.ExecutionResult{
		Success: res.Success,
		Output: map[string]any{
			"stdout":    res.Stdout,
			"stderr":    res.Stderr,
			"exit_code": res.ExitCode,
		},
		SideEffects: []effect.SideEffect{
			effect.New(effect.TypeProcessSpawn, language, "ran sandboxed "+language+" script", false),
		},
		Meta: effect.Meta{Sandboxed: true, DurationMS: res.DurationMS},
	}

	switch {
	case res.TimedOut:
		result.Message = "The script ran too long and was stopped."
		result.Error = &effect.ExecutionError{Code: effect.CodeTimeout, Message: "script timed out", Recoverable: true}
	case res.KilledByLimit:
		result.Message = "The script produced too much output and was stopped."
		result.Error = &effect.ExecutionError{Code: effect.CodeResourceLimit, Message: "output limit exceeded", Recoverable: false}
	case !res.Success:
		result.Message = fmt.Sprintf("The script exited with status %d.", res.ExitCode)
		result.Error = &effect.ExecutionError{Code: effect.CodeExecutionError, Message: "script failed", Recoverable: true}
	default:
		result.Message = "Script finished."
	}
	return result
}

// opener picks the platform URL opener.
func opener() string {
	if runtime.GOOS == "darwin" {
		return "open"
	}
	return "xdg-open"
}
