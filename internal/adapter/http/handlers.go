package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/overseer-dev/overseer/internal/boardsync"
	"github.com/overseer-dev/overseer/internal/bus"
	"github.com/overseer-dev/overseer/internal/domain/event"
	"github.com/overseer-dev/overseer/internal/domain/task"
	"github.com/overseer-dev/overseer/internal/port/database"
	"github.com/overseer-dev/overseer/internal/resilience"
	"github.com/overseer-dev/overseer/internal/service"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Handlers bundles the collaborators the HTTP surface exposes.
type Handlers struct {
	Bus        *bus.Bus
	Store      database.Store
	Supervisor *service.Supervisor
	Scheduler  *service.Scheduler
	Backoff    *boardsync.Backoff
	Breaker    *resilience.Breaker
}

// ListEvents returns the event log, optionally filtered by task_id, kind, and
// limit query parameters.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	f := event.Filter{
		TaskID: r.URL.Query().Get("task_id"),
		Kind:   event.Kind(r.URL.Query().Get("kind")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	writeJSON(w, http.StatusOK, h.Bus.EventLog(f))
}

// GetStatus reports the bus and supervisor state.
func (h *Handlers) GetStatus(w http.ResponseWriter, _ *http.Request) {
	type statusResponse struct {
		Bus         bus.Status               `json:"bus"`
		ActiveTurns int                      `json:"active_turns"`
		Breaker     *resilience.BreakerState `json:"breaker,omitempty"`
	}
	resp := statusResponse{Bus: h.Bus.Status()}
	if h.Supervisor != nil {
		resp.ActiveTurns = h.Supervisor.ActiveTurns()
	}
	if h.Breaker != nil {
		snap := h.Breaker.Snapshot()
		resp.Breaker = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLiveness returns the agent liveness snapshot.
func (h *Handlers) GetLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Bus.AgentLiveness())
}

// GetErrors returns the error pattern summary, or the error history of one
// task when task_id is given.
func (h *Handlers) GetErrors(w http.ResponseWriter, r *http.Request) {
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		writeJSON(w, http.StatusOK, h.Bus.ErrorHistory(taskID))
		return
	}
	writeJSON(w, http.StatusOK, h.Bus.ErrorPatternSummary())
}

// ListTasks returns all local tasks, or the single task bound to a board item
// when the external_id query parameter is given.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	if externalID := r.URL.Query().Get("external_id"); externalID != "" {
		t, err := h.Store.GetTaskByExternalID(r.Context(), externalID)
		if err != nil {
			writeDomainError(w, err, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, []task.Task{*t})
		return
	}
	tasks, err := h.Store.ListTasks(r.Context())
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask returns a single task by ID.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateTask creates a new local task.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	t, err := h.Store.CreateTask(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not created")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// DeleteTask removes a task permanently. A task with a turn in flight must be
// aborted first.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.Supervisor != nil && h.Supervisor.TurnState(id) != service.TurnIdle {
		writeError(w, http.StatusConflict, "task has a turn in flight")
		return
	}
	if _, err := h.Store.GetTask(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if err := h.Store.DeleteTask(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not deleted")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DispatchTask hands a task to an executor.
func (h *Handlers) DispatchTask(w http.ResponseWriter, r *http.Request) {
	type dispatchRequest struct {
		ExecutorID string `json:"executor_id"`
		Prompt     string `json:"prompt"`
	}
	req, ok := readJSON[dispatchRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if req.ExecutorID == "" {
		writeError(w, http.StatusBadRequest, "executor_id is required")
		return
	}
	if h.Supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor not running")
		return
	}
	if err := h.Supervisor.Dispatch(r.Context(), chi.URLParam(r, "id"), req.ExecutorID, req.Prompt); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

// AbortTask cancels a task's in-flight turn.
func (h *Handlers) AbortTask(w http.ResponseWriter, r *http.Request) {
	if h.Supervisor == nil {
		writeError(w, http.StatusServiceUnavailable, "supervisor not running")
		return
	}
	if err := h.Supervisor.Abort(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// RunSync triggers an immediate board sync cycle.
func (h *Handlers) RunSync(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	stats, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ResetBackoff clears the persisted sync backoff state. Operator escape hatch
// for a stuck rate-limit window.
func (h *Handlers) ResetBackoff(w http.ResponseWriter, _ *http.Request) {
	if h.Backoff == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	h.Backoff.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
