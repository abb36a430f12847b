package http

import (
	"context"
	"net/http"

	"github.com/conciergeos/concierge/internal/domain/capability"
	"github.com/conciergeos/concierge/internal/domain/effect"
	"github.com/conciergeos/concierge/internal/port/llm"
	"github.com/conciergeos/concierge/internal/service"
)

const maxBodyBytes = 64 << 10

// PipelineService is the slice of the pipeline the HTTP surface needs.
type PipelineService interface {
	Process(ctx context.Context, userID, message string, history []llm.Message, overrides map[string]any) *service.PipelineResponse
	ConfirmAndExecute(ctx context.Context, id, userID string) *effect.ExecutionResult
	CancelConfirmation(ctx context.Context, id, userID string) bool
}

// CatalogReader lists registered capabilities.
type CatalogReader interface {
	Catalog() []capability.ToolCapability
}

// HealthCheck is one named readiness probe.
type HealthCheck func(ctx context.Context) error

// Handlers bundles the HTTP endpoints and their dependencies.
type Handlers struct {
	pipeline PipelineService
	catalog  CatalogReader
	checks   map[string]HealthCheck
	ws       http.Handler
}

// NewHandlers creates the handler set. ws may be nil when the socket
// endpoint is not mounted; checks may be nil.
func NewHandlers(pipeline PipelineService, catalog CatalogReader, ws http.Handler, checks map[string]HealthCheck) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		catalog:  catalog,
		checks:   checks,
		ws:       ws,
	}
}

type pipelineRequest struct {
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	History   []llm.Message  `json:"history,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

// HandlePipeline runs one user message through the full decision pipeline.
func (h *Handlers) HandlePipeline(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[pipelineRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") || !requireField(w, req.Message, "message") {
		return
	}

	resp := h.pipeline.Process(r.Context(), req.UserID, req.Message, req.History, req.Overrides)
	writeJSON(w, http.StatusOK, resp)
}

type confirmRequest struct {
	UserID string `json:"user_id"`
}

// HandleConfirm consumes a pending confirmation and executes its action.
// A confirmation that is expired, already consumed, or owned by someone
// else is indistinguishable from absent: all come back 410.
func (h *Handlers) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[confirmRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	result := h.pipeline.ConfirmAndExecute(r.Context(), id, req.UserID)
	if result == nil {
		writeError(w, http.StatusGone, "confirmation expired or already handled")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleCancel discards a pending confirmation without executing.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, ok := readJSON[confirmRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	if !h.pipeline.CancelConfirmation(r.Context(), id, req.UserID) {
		writeError(w, http.StatusGone, "confirmation expired or already handled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleListCapabilities returns the full capability catalog.
func (h *Handlers) HandleListCapabilities(w http.ResponseWriter, _ *http.Request) {
	caps := h.catalog.Catalog()
	if caps == nil {
		caps = []capability.ToolCapability{}
	}
	writeJSON(w, http.StatusOK, caps)
}

// HandleHealth reports overall readiness. Any failing check flips the
// status to degraded with a 503.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}

	body := map[string]any{"status": "ok"}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, status, body)
}

// HandleWS upgrades to the realtime event socket.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		writeError(w, http.StatusNotImplemented, "websocket endpoint not enabled")
		return
	}
	h.ws.ServeHTTP(w, r)
}
