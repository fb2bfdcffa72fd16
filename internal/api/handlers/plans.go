// Package handlers provides HTTP handlers for the outreach API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/carebridge/go-oce/internal/api/middleware"
	"github.com/carebridge/go-oce/internal/domain/outreach"
)

// PlanHandler handles outreach plan endpoints
type PlanHandler struct {
	plans    outreach.PlanRepository
	attempts outreach.AttemptRepository
	logger   *zap.Logger
}

// NewPlanHandler creates a new handler
func NewPlanHandler(plans outreach.PlanRepository, attempts outreach.AttemptRepository, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{plans: plans, attempts: attempts, logger: logger}
}

// Routes returns the handler routes
func (h *PlanHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/attempts", h.GetAttempts)
	return r
}

// CreatePlanRequest is the request body for creating an outreach plan
type CreatePlanRequest struct {
	EpisodeID        string `json:"episode_id"`
	PatientID        string `json:"patient_id"`
	PatientContact   string `json:"patient_contact"`
	Condition        string `json:"condition"`
	Language         string `json:"language"`
	PreferredChannel string `json:"preferred_channel,omitempty"`
	FallbackChannel  string `json:"fallback_channel,omitempty"`
	WindowStart      string `json:"window_start"`
	WindowEnd        string `json:"window_end"`
	MaxAttempts      int    `json:"max_attempts,omitempty"`
	ActiveHourStart  int    `json:"active_hour_start,omitempty"`
	ActiveHourEnd    int    `json:"active_hour_end,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
}

// CreatePlanResponse is the response for creating a plan
type CreatePlanResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Create handles POST /plans
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("plan-handler")
	ctx, span := tracer.Start(ctx, "create_plan")
	defer span.End()

	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.EpisodeID == "" || req.PatientID == "" || req.PatientContact == "" || req.Condition == "" {
		jsonError(w, "episode_id, patient_id, patient_contact and condition are required", http.StatusBadRequest)
		return
	}

	windowStart, err := time.Parse(time.RFC3339, req.WindowStart)
	if err != nil {
		jsonError(w, "window_start must be RFC3339", http.StatusBadRequest)
		return
	}
	windowEnd, err := time.Parse(time.RFC3339, req.WindowEnd)
	if err != nil {
		jsonError(w, "window_end must be RFC3339", http.StatusBadRequest)
		return
	}
	if !windowEnd.After(windowStart) {
		jsonError(w, "window_end must be after window_start", http.StatusBadRequest)
		return
	}

	if req.Language == "" {
		req.Language = "en"
	}

	plan := outreach.NewPlan(uuid.New().String(), req.EpisodeID, req.PatientID,
		req.PatientContact, req.Condition, req.Language)
	plan.WindowStart = windowStart
	plan.WindowEnd = windowEnd
	plan.Timezone = req.Timezone
	plan.ActiveHourStart = req.ActiveHourStart
	plan.ActiveHourEnd = req.ActiveHourEnd
	if req.MaxAttempts > 0 {
		plan.MaxAttempts = req.MaxAttempts
	}
	if ch, ok := parseChannel(req.PreferredChannel); ok {
		plan.PreferredChannel = ch
	}
	if ch, ok := parseChannel(req.FallbackChannel); ok {
		plan.FallbackChannel = ch
	}
	span.SetAttributes(attribute.String("plan_id", plan.ID))

	if err := h.plans.Create(ctx, plan); err != nil {
		h.logger.Error("plan create failed", zap.Error(err))
		jsonError(w, "failed to create plan", http.StatusInternalServerError)
		return
	}

	h.logger.Info("outreach plan created",
		zap.String("plan_id", plan.ID),
		zap.String("episode_id", plan.EpisodeID),
		zap.String("condition", plan.Condition),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreatePlanResponse{
		ID:        plan.ID,
		Status:    string(plan.Status),
		CreatedAt: plan.CreatedAt,
	})
}

// Get handles GET /plans/{id}
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	plan, err := h.plans.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, outreach.ErrNotFound) {
			jsonError(w, "plan not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load plan", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(planView(plan))
}

// GetAttempts handles GET /plans/{id}/attempts
func (h *PlanHandler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.plans.FindByID(ctx, id); err != nil {
		if errors.Is(err, outreach.ErrNotFound) {
			jsonError(w, "plan not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load plan", http.StatusInternalServerError)
		return
	}

	attempts, err := h.attempts.ListByPlan(ctx, id)
	if err != nil {
		jsonError(w, "failed to load attempts", http.StatusInternalServerError)
		return
	}

	views := make([]map[string]interface{}, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, map[string]interface{}{
			"id":             a.ID,
			"attempt_number": a.AttemptNumber,
			"channel":        a.Channel,
			"status":         a.Status,
			"connected":      a.Connected,
			"scheduled_at":   a.ScheduledAt,
			"started_at":     a.StartedAt,
			"completed_at":   a.CompletedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

func planView(p *outreach.Plan) map[string]interface{} {
	return map[string]interface{}{
		"id":                p.ID,
		"episode_id":        p.EpisodeID,
		"patient_id":        p.PatientID,
		"condition":         p.Condition,
		"language":          p.Language,
		"preferred_channel": p.PreferredChannel,
		"fallback_channel":  p.FallbackChannel,
		"window_start":      p.WindowStart,
		"window_end":        p.WindowEnd,
		"max_attempts":      p.MaxAttempts,
		"status":            p.Status,
		"created_at":        p.CreatedAt,
		"updated_at":        p.UpdatedAt,
	}
}

func parseChannel(s string) (outreach.Channel, bool) {
	switch outreach.Channel(s) {
	case outreach.ChannelSMS:
		return outreach.ChannelSMS, true
	case outreach.ChannelVoice:
		return outreach.ChannelVoice, true
	}
	return "", false
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
