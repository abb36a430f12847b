package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	obs "github.com/conciergeos/concierge/internal/adapter/otel"
	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/domain/record"
	auditport "github.com/conciergeos/concierge/internal/port/audit"
	"github.com/conciergeos/concierge/internal/port/database"
	"github.com/conciergeos/concierge/internal/port/executor"
)

// ExecutorRegistry is the single point of truth for what actions exist and
// who implements them. It validates, simulates and executes by action name,
// and never lets an executor failure escape as an error: callers always get
// a well-formed ExecutionResult.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[string]executor.Executor
	caps      map[string]capability.ToolCapability

	store   database.Store
	audit   auditport.Sink
	metrics *obs.Metrics
}

// SetMetrics attaches telemetry instruments. Safe to skip; execution
// counters are then simply not recorded.
func (r *ExecutorRegistry) SetMetrics(m *obs.Metrics) {
	r.metrics = m
}

// NewExecutorRegistry creates an empty registry. The store persists
// execution records; the sink receives audit events for risky executions.
func NewExecutorRegistry(store database.Store, sink auditport.Sink) *ExecutorRegistry {
	if sink == nil {
		sink = auditport.Nop{}
	}
	return &ExecutorRegistry{
		executors: make(map[string]executor.Executor),
		caps:      make(map[string]capability.ToolCapability),
		store:     store,
		audit:     sink,
	}
}

// Register indexes each capability the executor declares by action name.
// Re-registering an action name is last-writer-wins; the previous owner is
// silently replaced.
func (r *ExecutorRegistry) Register(ex executor.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range ex.Capabilities() {
		if prev, ok := r.executors[c.Name]; ok && prev.ID() != ex.ID() {
			slog.Warn("action re-registered",
				"action", c.Name,
				"previous", prev.ID(),
				"executor", ex.ID(),
			)
		}
		r.executors[c.Name] = ex
		r.caps[c.Name] = c
	}

	slog.Info("executor registered", "executor", ex.ID(), "capabilities", len(ex.Capabilities()))
}

// Capability returns the descriptor for an action name.
func (r *ExecutorRegistry) Capability(action string) (capability.ToolCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[action]
	return c, ok
}

// Catalog returns all registered capabilities sorted by action name.
func (r *ExecutorRegistry) Catalog() []capability.ToolCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]capability.ToolCapability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate delegates to the owning executor's schema check and returns
// sanitized parameters on success.
func (r *ExecutorRegistry) Validate(action string, params map[string]any) capability.ValidationResult {
	r.mu.RLock()
	ex, ok := r.executors[action]
	r.mu.RUnlock()

	if !ok {
		return capability.ValidationResult{
			Valid:  false,
			Errors: []string{effect.CodeNoExecutor + ": no executor for action " + action},
		}
	}
	return ex.Validate(action, params)
}

// Simulate predicts an execution without side effects. Actions whose
// capability does not declare simulation support report wouldSucceed=false
// with a warning instead of running anything.
func (r *ExecutorRegistry) Simulate(ctx context.Context, action string, params map[string]any) *executor.Simulation {
	r.mu.RLock()
	ex, okEx := r.executors[action]
	capDesc, okCap := r.caps[action]
	r.mu.RUnlock()

	if !okEx || !okCap {
		return &executor.Simulation{
			WouldSucceed: false,
			Warnings:     []string{"no executor for action " + action},
		}
	}
	if !capDesc.SupportsSimulation {
		return &executor.Simulation{
			WouldSucceed: false,
			Warnings:     []string{"action " + action + " does not support simulation"},
		}
	}

	sim, err := ex.Simulate(ctx, action, params)
	if err != nil {
		return &executor.Simulation{
			WouldSucceed: false,
			Warnings:     []string{"simulation failed: " + err.Error()},
		}
	}
	return sim
}

// Execute re-validates parameters and runs the action. All failure paths
// return a structured result with success=false; this method never panics
// past its boundary and never returns nil.
func (r *ExecutorRegistry) Execute(ctx context.Context, userID, action string, params map[string]any) *effect.ExecutionResult {
	r.mu.RLock()
	ex, okEx := r.executors[action]
	capDesc, okCap := r.caps[action]
	r.mu.RUnlock()

	if !okEx || !okCap {
		return effect.Failure(effect.CodeNoExecutor, "no executor for action "+action, false)
	}

	validation := ex.Validate(action, params)
	if !validation.Valid {
		msg := "invalid parameters for " + action
		if len(validation.Errors) > 0 {
			msg = validation.Errors[0]
		}
		return effect.Failure(effect.CodeValidationFailed, msg, false)
	}

	started := time.Now()
	result := r.run(executor.WithUserID(ctx, userID), ex, action, validation.SanitizedParams)
	completed := time.Now()

	if result.Meta.StartedAt.IsZero() {
		result.Meta.StartedAt = started
	}
	if result.Meta.CompletedAt.IsZero() {
		result.Meta.CompletedAt = completed
	}
	result.Meta.DurationMS = result.Meta.CompletedAt.Sub(result.Meta.StartedAt).Milliseconds()
	if result.Meta.ExecutorID == "" {
		result.Meta.ExecutorID = ex.ID()
	}
	for i := range result.SideEffects {
		if result.SideEffects[i].Severity == "" {
			result.SideEffects[i].Severity = effect.DefaultSeverity(result.SideEffects[i].Type)
		}
	}

	r.persist(ctx, userID, action, validation.SanitizedParams, result)

	if r.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("action", action))
		r.metrics.Executions.Add(ctx, 1, attrs)
		if !result.Success {
			r.metrics.ExecutionsFailed.Add(ctx, 1, attrs)
		}
		r.metrics.ExecutionDuration.Record(ctx, completed.Sub(started).Seconds(), attrs)
	}

	if capDesc.RiskLevel.Rank() >= capability.RiskHigh.Rank() {
		r.audit.Log(ctx, record.EventActionExecuted, map[string]any{
			"action":   action,
			"user_id":  userID,
			"success":  result.Success,
			"risk":     string(capDesc.RiskLevel),
			"executor": result.Meta.ExecutorID,
		})
	}

	return result
}

// run isolates the executor call so panics and error returns both collapse
// into a failed result.
func (r *ExecutorRegistry) run(ctx context.Context, ex executor.Executor, action string, params map[string]any) (result *effect.ExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("executor panicked", "action", action, "panic", rec)
			result = effect.Failure(effect.CodeExecutionError, "executor failure", false)
		}
	}()

	res, err := ex.Execute(ctx, action, params)
	if err != nil {
		slog.Error("executor returned error", "action", action, "error", err)
		return effect.Failure(effect.CodeExecutionError, err.Error(), true)
	}
	if res == nil {
		return effect.Failure(effect.CodeExecutionError, "executor returned no result", false)
	}
	return res
}

// persist writes the execution record; storage failures are logged, never
// propagated.
func (r *ExecutorRegistry) persist(ctx context.Context, userID, action string, params map[string]any, result *effect.ExecutionResult) {
	if r.store == nil {
		return
	}

	paramsJSON, _ := json.Marshal(params)
	resultJSON, _ := json.Marshal(result)

	rec := &record.Execution{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		Params:     paramsJSON,
		Success:    result.Success,
		Result:     resultJSON,
		DurationMS: result.Meta.DurationMS,
		CreatedAt:  time.Now(),
	}
	if err := r.store.CreateExecution(ctx, rec); err != nil {
		slog.Warn("persist execution record failed", "action", action, "error", err)
	}
}
