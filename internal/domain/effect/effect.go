// Package effect defines the closed side-effect taxonomy and the
// ExecutionResult returned by every executor invocation.
package effect

import "time"

// Type identifies the kind of side effect an execution caused.
type Type string

const (
	TypeStateChange    Type = "state_change"
	TypeDataCreated    Type = "data_created"
	TypeDataModified   Type = "data_modified"
	TypeDataDeleted    Type = "data_deleted"
	TypeAPICall        Type = "api_call"
	TypeNetworkRequest Type = "network_request"
	TypeDeviceControl  Type = "device_control"
	TypeServiceInvoked Type = "service_invoked"
	TypeMessageSent    Type = "message_sent"
	TypeEmailSent      Type = "email_sent"
	TypeFileRead       Type = "file_read"
	TypeFileWrite      Type = "file_write"
	TypeFileDelete     Type = "file_delete"
	TypeProcessSpawn   Type = "process_spawn"
	TypeProcessKill    Type = "process_kill"
	TypeNotification   Type = "notification"
	TypeAudioPlayed    Type = "audio_played"
	TypeUIDisplayed    Type = "ui_displayed"
	TypeTimerCreated   Type = "timer_created"
	TypeTimerCancelled Type = "timer_cancelled"
	TypeReminderSet    Type = "reminder_set"
)

// Severity grades how consequential a side effect is.
type Severity string

const (
	SeverityTrivial  Severity = "trivial"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// defaultSeverity is the lookup table used when an executor does not supply
// a severity for a side effect.
var defaultSeverity = map[Type]Severity{
	TypeNotification:   SeverityTrivial,
	TypeAudioPlayed:    SeverityTrivial,
	TypeUIDisplayed:    SeverityTrivial,
	TypeFileRead:       SeverityTrivial,
	TypeStateChange:    SeverityMinor,
	TypeTimerCreated:   SeverityMinor,
	TypeTimerCancelled: SeverityMinor,
	TypeReminderSet:    SeverityMinor,
	TypeDataCreated:    SeverityMinor,
	TypeDataModified:   SeverityModerate,
	TypeAPICall:        SeverityModerate,
	TypeNetworkRequest: SeverityModerate,
	TypeFileWrite:      SeverityModerate,
	TypeDeviceControl:  SeverityMajor,
	TypeServiceInvoked: SeverityMajor,
	TypeProcessSpawn:   SeverityMajor,
	TypeDataDeleted:    SeverityMajor,
	TypeFileDelete:     SeverityCritical,
	TypeProcessKill:    SeverityCritical,
}

// DefaultSeverity returns the inferred severity for a side-effect type.
func DefaultSeverity(t Type) Severity {
	if s, ok := defaultSeverity[t]; ok {
		return s
	}
	return SeverityModerate
}

// SideEffect records what actually (or predictively) changed as a byproduct
// of one execution. It travels inside an ExecutionResult and is never
// persisted on its own.
type SideEffect struct {
	Type           Type     `json:"type"`
	Target         string   `json:"target"`
	Description    string   `json:"description"`
	Reversible     bool     `json:"reversible"`
	RollbackAction string   `json:"rollback_action,omitempty"`
	Severity       Severity `json:"severity"`
	Before         any      `json:"before,omitempty"`
	After          any      `json:"after,omitempty"`
}

// New builds a SideEffect with the severity inferred from its type.
func New(t Type, target, description string, reversible bool) SideEffect {
	return SideEffect{
		Type:        t,
		Target:      target,
		Description: description,
		Reversible:  reversible,
		Severity:    DefaultSeverity(t),
	}
}

// Error codes for ExecutionResult.Error.
const (
	CodeNoExecutor       = "NO_EXECUTOR"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotConfigured    = "NOT_CONFIGURED"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeResourceLimit    = "RESOURCE_LIMIT_EXCEEDED"
	CodeDenied           = "DENIED"
)

// ExecutionError describes why an execution failed and whether the same
// parameters are safe to retry.
type ExecutionError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Meta carries timing and provenance for one execution.
type Meta struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`
	ExecutorID  string    `json:"executor_id"`
	Sandboxed   bool      `json:"sandboxed"`
}

// ExecutionResult is the immutable outcome of one execute call. It is
// returned up the call chain and audit-logged; executors never raise past
// the registry boundary, they return success=false instead.
type ExecutionResult struct {
	Success     bool            `json:"success"`
	Output      any             `json:"output,omitempty"`
	Message     string          `json:"message,omitempty"`
	SideEffects []SideEffect    `json:"side_effects,omitempty"`
	Error       *ExecutionError `json:"error,omitempty"`
	Meta        Meta            `json:"meta"`
}

// Failure builds a failed ExecutionResult with the given error code.
func Failure(code, message string, recoverable bool) *ExecutionResult {
	now := time.Now()
	return &ExecutionResult{
		Success: false,
		Message: message,
		Error:   &ExecutionError{Code: code, Message: message, Recoverable: recoverable},
		Meta:    Meta{StartedAt: now, CompletedAt: now},
	}
}
