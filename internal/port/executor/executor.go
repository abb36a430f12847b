// Package executor defines the contract every tool implementation exposes
// to the registry.
package executor

import (
	"context"

	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
)

// Simulation is a dry-run prediction of what an execution would do.
// No real effects are performed to produce it.
type Simulation struct {
	WouldSucceed         bool                `json:"would_succeed"`
	PredictedOutput      any                 `json:"predicted_output,omitempty"`
	PredictedSideEffects []effect.SideEffect `json:"predicted_side_effects,omitempty"`
	Warnings             []string            `json:"warnings,omitempty"`
}

// RollbackResult is the outcome of undoing a previous execution.
type RollbackResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Executor is the port implemented by every tool integration. Executors own
// their business logic; the core only routes, gates and records.
type Executor interface {
	// ID identifies the executor in execution metadata and audit logs.
	ID() string

	// Capabilities enumerates the action descriptors this executor serves.
	// Called once at registration; the returned descriptors are never mutated.
	Capabilities() []capability.ToolCapability

	// CanExecute reports whether the executor serves the named action.
	CanExecute(action string) bool

	// Validate checks raw parameters for the named action and returns
	// sanitized parameters on success.
	Validate(action string, params map[string]any) capability.ValidationResult

	// Simulate predicts the outcome of executing without real effects.
	Simulate(ctx context.Context, action string, params map[string]any) (*Simulation, error)

	// Execute performs the action. Failures are reported through the result,
	// not the error: an error return is reserved for programming mistakes.
	Execute(ctx context.Context, action string, params map[string]any) (*effect.ExecutionResult, error)
}

// Rollbacker is optionally implemented by executors whose effects can be
// undone by execution id.
type Rollbacker interface {
	Rollback(ctx context.Context, executionID string) (*RollbackResult, error)
}
