package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Anteru/ava/internal/config"
	"github.com/Anteru/ava/internal/runstore"
	"github.com/Anteru/ava/pkg/types"
)

// Handlers contains all HTTP handlers and their dependencies. The API is a
// read-only status surface: renders are started from the CLI, and this
// server observes their journals.
type Handlers struct {
	store  runstore.RunStore
	config *config.Config
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store runstore.RunStore, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.store.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavail, "journal unhealthy", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ready",
		"journal": info,
	})
}

// --- Run Inspection ---

// ListRuns handles GET /api/v1/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runIDs, err := h.store.ListRuns(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to list runs", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runIDs})
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["id"]

	meta, err := h.store.GetRunMeta(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "run not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to get run", err)
		return
	}

	h.respondJSON(w, http.StatusOK, meta)
}

// GetReport handles GET /api/v1/runs/{id}/report
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["id"]

	report, err := h.store.GetReport(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "run not found", err)
			return
		}
		if errors.Is(err, runstore.ErrNoReport) {
			h.respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "run has no report yet", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to get report", err)
		return
	}

	h.respondJSON(w, http.StatusOK, report)
}

// ListTasks handles GET /api/v1/runs/{id}/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["id"]

	states, err := h.store.ListTaskStates(ctx, runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			h.respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "run not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to list tasks", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": states})
}

// --- Journal Diagnostics ---

// JournalInfo handles GET /api/v1/journal/info
func (h *Handlers) JournalInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.store.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to get journal info", err)
		return
	}

	h.respondJSON(w, http.StatusOK, info)
}

// JournalSelfCheck handles GET /api/v1/journal/selfcheck
func (h *Handlers) JournalSelfCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Create a run, append an event, read it back
	start := time.Now()

	runID, err := h.store.CreateRun(ctx, &types.RunMeta{Pipeline: "_selfcheck"})
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "selfcheck failed: create", err)
		return
	}

	_, err = h.store.AppendEvent(ctx, runID, &types.EventInput{
		Type: types.EventTypeLog,
		Data: map[string]string{"message": "selfcheck"},
	})
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "selfcheck failed: append", err)
		return
	}

	events, err := h.store.GetEventsSince(ctx, runID, "")
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "selfcheck failed: read", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"latency_ms":  time.Since(start).Milliseconds(),
		"event_count": len(events),
	})
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	h.logger.Error(message, "error", err, "status", status)

	var details map[string]interface{}
	if err != nil {
		details = map[string]interface{}{"cause": err.Error()}
	}
	writeErrorResponse(w, r, status, code, message, details)
}
