// Package timers implements countdown timers and reminders. Fired timers
// are announced over the message queue; state survives restarts through the
// database store.
package timers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conciergeos/concierge/internal/domain"
	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/domain/record"
	"github.com/conciergeos/concierge/internal/port/database"
	"github.com/conciergeos/concierge/internal/port/executor"
	"github.com/conciergeos/concierge/internal/port/messagequeue"
)

const (
	ActionTimerCreate = "timer_create"
	ActionTimerCancel = "timer_cancel"
	ActionReminderSet = "reminder_set"
	ActionListTimers  = "list_timers"
)

// Executor serves timer and reminder actions. Every scheduled firing is
// cancellable so nothing fires after its owning record is gone.
type Executor struct {
	store database.Store
	queue messagequeue.Queue
	now   func() time.Time

	mu      sync.Mutex
	pending map[string]*time.Timer
	caps    map[string]capability.ToolCapability
}

// New creates the timers executor.
func New(store database.Store, queue messagequeue.Queue) *Executor {
	caps := map[string]capability.ToolCapability{
		ActionTimerCreate: {
			Name:        ActionTimerCreate,
			Description: "Start a countdown timer",
			RiskLevel:   capability.RiskNone,
			Reversible:  true,
			BlastRadius: capability.BlastLocal,
			Schema: capability.Schema{
				"label":            {Type: capability.FieldString, MaxLen: 200, Default: "timer"},
				"duration_seconds": {Type: capability.FieldNumber, Required: true, Min: f(1), Max: f(86400)},
			},
		},
		ActionTimerCancel: {
			Name:        ActionTimerCancel,
			Description: "Cancel a running timer",
			RiskLevel:   capability.RiskNone,
			Reversible:  false,
			BlastRadius: capability.BlastLocal,
			Schema: capability.Schema{
				"id": {Type: capability.FieldString, Required: true},
			},
		},
		ActionReminderSet: {
			Name:        ActionReminderSet,
			Description: "Set a reminder for a specific time",
			RiskLevel:   capability.RiskNone,
			Reversible:  true,
			BlastRadius: capability.BlastLocal,
			Schema: capability.Schema{
				"label": {Type: capability.FieldString, Required: true, MaxLen: 200},
				"at":    {Type: capability.FieldString, Required: true, Pattern: `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}`},
			},
		},
		ActionListTimers: {
			Name:        ActionListTimers,
			Description: "List running timers and reminders",
			RiskLevel:   capability.RiskNone,
			Reversible:  true,
			BlastRadius: capability.BlastLocal,
			Schema:      capability.Schema{},
		},
	}
	return &Executor{
		store:   store,
		queue:   queue,
		now:     time.Now,
		pending: make(map[string]*time.Timer),
		caps:    caps,
	}
}

func (e *Executor) ID() string { return "timers" }

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

func (e *Executor) Simulate(context.Context, string, map[string]any) (*executor.Simulation, error) {
	return &executor.Simulation{
		WouldSucceed: false,
		Warnings:     []string{"timer actions do not support simulation"},
	}, nil
}

func (e *Executor) Execute(ctx context.Context, action string, params map[string]any) (*effect.ExecutionResult, error) {
	userID := executor.UserID(ctx)

	switch action {
	case ActionTimerCreate:
		return e.create(ctx, userID, params), nil
	case ActionTimerCancel:
		return e.cancel(ctx, userID, params), nil
	case ActionReminderSet:
		return e.remind(ctx, userID, params), nil
	case ActionListTimers:
		return e.list(ctx, userID), nil
	}
	return effect.Failure(effect.CodeNoExecutor, "unknown action "+action, false), nil
}

// StopAll cancels every scheduled firing. Used during shutdown; persisted
// rows are untouched so timers can be rebuilt on restart.
func (e *Executor) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.pending {
		t.Stop()
		delete(e.pending, id)
	}
}

// Restore reschedules persisted timers after a restart. Timers whose firing
// time already passed fire immediately.
func (e *Executor) Restore(ctx context.Context, userID string) error {
	rows, err := e.store.ListTimers(ctx, userID)
	if err != nil {
		return fmt.Errorf("restore timers: %w", err)
	}
	for _, row := range rows {
		e.schedule(row)
	}
	return nil
}

func (e *Executor) create(ctx context.Context, userID string, params map[string]any) *effect.ExecutionResult {
	label, _ := params["label"].(string)
	seconds, _ := params["duration_seconds"].(float64)

	row := record.Timer{
		ID:        uuid.NewString(),
		UserID:    userID,
		Label:     label,
		FiresAt:   e.now().Add(time.Duration(seconds) * time.Second),
		CreatedAt: e.now(),
	}
	if err := e.store.CreateTimer(ctx, &row); err != nil {
		return effect.Failure(effect.CodeExecutionError, "could not save the timer", true)
	}
	e.schedule(row)

	return &effect.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("Timer %q set for %s.", label, time.Duration(seconds)*time.Second),
		Output:  map[string]any{"id": row.ID, "fires_at": row.FiresAt},
		SideEffects: []effect.SideEffect{
			effect.New(effect.TypeTimerCreated, row.ID, "created timer "+label, true),
		},
	}
}

// cancel removes the timer from the store first so ownership is checked
// against the persisted row; a foreign or unknown id never reaches the
// in-memory table.
func (e *Executor) cancel(ctx context.Context, userID string, params map[string]any) *effect.ExecutionResult {
	id, _ := params["id"].(string)

	if err := e.store.DeleteTimer(ctx, id, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return effect.Failure(effect.CodeExecutionError, "no such timer", false)
		}
		return effect.Failure(effect.CodeExecutionError, "could not cancel the timer", true)
	}

	e.mu.Lock()
	if t, ok := e.pending[id]; ok {
		t.Stop()
		delete(e.pending, id)
	}
	e.mu.Unlock()

	return &effect.ExecutionResult{
		Success: true,
		Message: "Timer cancelled.",
		SideEffects: []effect.SideEffect{
			effect.New(effect.TypeTimerCancelled, id, "cancelled timer", false),
		},
	}
}

func (e *Executor) remind(ctx context.Context, userID string, params map[string]any) *effect.ExecutionResult {
	label, _ := params["label"].(string)
	at, _ := params["at"].(string)

	when, err := parseLocalTime(at, e.now())
	if err != nil {
		return effect.Failure(effect.CodeValidationFailed, "at: "+err.Error(), false)
	}
	if !when.After(e.now()) {
		return effect.Failure(effect.CodeValidationFailed, "at: reminder time is in the past", false)
	}

	row := record.Timer{
		ID:        uuid.NewString(),
		UserID:    userID,
		Label:     label,
		FiresAt:   when,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateTimer(ctx, &row); err != nil {
		return effect.Failure(effect.CodeExecutionError, "could not save the reminder", true)
	}
	e.schedule(row)

	return &effect.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("I'll remind you about %q at %s.", label, when.Format("15:04")),
		Output:  map[string]any{"id": row.ID, "fires_at": row.FiresAt},
		SideEffects: []effect.SideEffect{
			effect.New(effect.TypeReminderSet, row.ID, "set reminder "+label, true),
		},
	}
}

func (e *Executor) list(ctx context.Context, userID string) *effect.ExecutionResult {
	rows, err := e.store.ListTimers(ctx, userID)
	if err != nil {
		return effect.Failure(effect.CodeExecutionError, "could not list timers", true)
	}
	return &effect.ExecutionResult{
		Success: true,
		Message: fmt.Sprintf("You have %d running timer(s).", len(rows)),
		Output:  rows,
	}
}

// schedule arms the in-process firing for one persisted timer row.
func (e *Executor) schedule(row record.Timer) {
	delay := time.Until(row.FiresAt)
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	e.pending[row.ID] = time.AfterFunc(delay, func() { e.fire(row) })
	e.mu.Unlock()
}

func (e *Executor) fire(row record.Timer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.mu.Lock()
	delete(e.pending, row.ID)
	e.mu.Unlock()

	if err := e.store.DeleteTimer(ctx, row.ID, row.UserID); err != nil {
		slog.Warn("delete fired timer failed", "timer_id", row.ID, "error", err)
	}

	slog.Info("timer fired", "timer_id", row.ID, "user_id", row.UserID, "label", row.Label)
	if e.queue == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"id":      row.ID,
		"user_id": row.UserID,
		"label":   row.Label,
	})
	if err != nil {
		return
	}
	if err := e.queue.Publish(ctx, messagequeue.SubjectTimerFired, payload); err != nil {
		slog.Warn("publish fired timer failed", "timer_id", row.ID, "error", err)
	}
}

// parseLocalTime accepts RFC 3339 or a local "2006-01-02T15:04" stamp.
func parseLocalTime(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	return t, nil
}

func f(v float64) *float64 { return &v }
