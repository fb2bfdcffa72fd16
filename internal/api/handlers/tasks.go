package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/api/middleware"
	"github.com/carebridge/go-oce/internal/escalation"
)

// TaskHandler handles escalation task endpoints used by the clinical queue
type TaskHandler struct {
	manager *escalation.Manager
	repo    escalation.TaskRepository
	logger  *zap.Logger
}

// NewTaskHandler creates a new handler
func NewTaskHandler(manager *escalation.Manager, repo escalation.TaskRepository, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{manager: manager, repo: repo, logger: logger}
}

// Routes returns the handler routes
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/overdue", h.ListOverdue)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/assign", h.Assign)
	r.Post("/{id}/resolve", h.Resolve)
	return r
}

// List handles GET /tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r, 100)

	tasks, err := h.repo.ListOpen(ctx, limit)
	if err != nil {
		jsonError(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(taskViews(tasks))
}

// ListOverdue handles GET /tasks/overdue
func (h *TaskHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r, 100)

	tasks, err := h.repo.ListOverdue(ctx, time.Now().UTC(), limit)
	if err != nil {
		jsonError(w, "failed to list overdue tasks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(taskViews(tasks))
}

// Get handles GET /tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	task, err := h.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, escalation.ErrNotFound) {
			jsonError(w, "task not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load task", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(taskView(task))
}

// AssignRequest is the request body for claiming a task
type AssignRequest struct {
	UserID string `json:"user_id"`
}

// Assign handles POST /tasks/{id}/assign
func (h *TaskHandler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		jsonError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	task, err := h.manager.Assign(ctx, id, req.UserID)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	h.logger.Info("task assigned via API",
		zap.String("task_id", id),
		zap.String("user_id", req.UserID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(taskView(task))
}

// ResolveRequest is the request body for resolving a task
type ResolveRequest struct {
	OutcomeCode string `json:"outcome_code"`
	Notes       string `json:"notes,omitempty"`
}

// Resolve handles POST /tasks/{id}/resolve
func (h *TaskHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OutcomeCode == "" {
		jsonError(w, "outcome_code is required", http.StatusBadRequest)
		return
	}

	task, err := h.manager.Resolve(ctx, id, req.OutcomeCode, req.Notes)
	if err != nil {
		h.writeTaskError(w, err)
		return
	}

	h.logger.Info("task resolved via API",
		zap.String("task_id", id),
		zap.String("outcome", req.OutcomeCode),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(taskView(task))
}

func (h *TaskHandler) writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		jsonError(w, "task not found", http.StatusNotFound)
	case errors.Is(err, escalation.ErrTaskTerminal), errors.Is(err, escalation.ErrInvalidTransition):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		jsonError(w, "failed to update task", http.StatusInternalServerError)
	}
}

func taskView(t *escalation.Task) map[string]interface{} {
	return map[string]interface{}{
		"id":                t.ID,
		"episode_id":        t.EpisodeID,
		"source_attempt_id": t.SourceAttemptID,
		"reason_codes":      t.ReasonCodes,
		"severity":          t.Severity,
		"priority":          t.Priority,
		"status":            t.Status,
		"sla_due_at":        t.SLADueAt,
		"assigned_to":       t.AssignedTo,
		"assigned_at":       t.AssignedAt,
		"outcome_code":      t.OutcomeCode,
		"resolution_notes":  t.ResolutionNotes,
		"resolved_at":       t.ResolvedAt,
		"created_at":        t.CreatedAt,
	}
}

func taskViews(tasks []*escalation.Task) []map[string]interface{} {
	views := make([]map[string]interface{}, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView(t))
	}
	return views
}

func queryLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return fallback
}
