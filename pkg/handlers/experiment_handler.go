package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

// ExperimentHandler serves experiment management and metrics endpoints.
type ExperimentHandler struct {
	experiments services.ExperimentService
	logger      *zap.Logger
}

func NewExperimentHandler(experiments services.ExperimentService, logger *zap.Logger) *ExperimentHandler {
	return &ExperimentHandler{experiments: experiments, logger: logger}
}

// RegisterRoutes registers the experiment handler's routes on the given mux.
func (h *ExperimentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/experiments", h.Create)
	mux.HandleFunc("GET /api/experiments", h.List)
	mux.HandleFunc("GET /api/experiments/{eid}", h.Get)
	mux.HandleFunc("GET /api/experiments/{eid}/metrics", h.Metrics)
	mux.HandleFunc("POST /api/experiments/{eid}/assignments", h.Assign)
}

type createExperimentRequest struct {
	Name             string             `json:"experiment_name" validate:"required,max=200"`
	Description      string             `json:"description"`
	Variants         []models.Variant   `json:"variants" validate:"required,min=1"`
	TrafficSplit     map[string]float64 `json:"traffic_split" validate:"required"`
	AssignmentMethod string             `json:"assignment_method" validate:"required,oneof=deterministic random"`
	UniversityID     *uuid.UUID         `json:"university_id"`
	StartDate        *time.Time         `json:"start_date"`
	EndDate          *time.Time         `json:"end_date"`
}

// Create handles POST /api/experiments.
func (h *ExperimentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	experiment := &models.Experiment{
		Name:             req.Name,
		Description:      req.Description,
		Variants:         req.Variants,
		TrafficSplit:     req.TrafficSplit,
		AssignmentMethod: req.AssignmentMethod,
		UniversityID:     req.UniversityID,
		StartDate:        req.StartDate,
		EndDate:          req.EndDate,
	}
	if err := h.experiments.Create(r.Context(), experiment); err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, experiment)
}

// experimentWithMetrics pairs an experiment with its per-variant rollup.
// Metrics are nil when the rollup could not be computed.
type experimentWithMetrics struct {
	Experiment *models.Experiment        `json:"experiment"`
	Metrics    *models.ExperimentMetrics `json:"metrics,omitempty"`
}

// List handles GET /api/experiments?experiment_id|university_id: either one
// experiment by ID, or every running experiment visible to a university
// (all of them when no filter is given), each with its aggregated metrics.
// A broken rollup drops the metrics, not the experiment.
func (h *ExperimentHandler) List(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("experiment_id"); raw != "" {
		experimentID, err := uuid.Parse(raw)
		if err != nil {
			ErrorResponse(w, http.StatusBadRequest, "invalid_experiment_id", "experiment_id must be a valid UUID")
			return
		}
		experiment, err := h.experiments.Get(r.Context(), experimentID)
		if err != nil {
			ServiceError(w, h.logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data": []experimentWithMetrics{h.withMetrics(r, experiment)},
		})
		return
	}

	experiments, err := h.experiments.ListActive(r.Context(), queryUUID(r, "university_id"))
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}

	data := make([]experimentWithMetrics, 0, len(experiments))
	for _, experiment := range experiments {
		data = append(data, h.withMetrics(r, experiment))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *ExperimentHandler) withMetrics(r *http.Request, experiment *models.Experiment) experimentWithMetrics {
	metrics, err := h.experiments.Metrics(r.Context(), experiment.ID)
	if err != nil {
		h.logger.Error("Experiment metrics rollup failed",
			zap.String("experiment_id", experiment.ID.String()),
			zap.Error(err))
		metrics = nil
	}
	return experimentWithMetrics{Experiment: experiment, Metrics: metrics}
}

// Get handles GET /api/experiments/{eid}.
func (h *ExperimentHandler) Get(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}
	experiment, err := h.experiments.Get(r.Context(), experimentID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, experiment)
}

// Metrics handles GET /api/experiments/{eid}/metrics.
func (h *ExperimentHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}
	metrics, err := h.experiments.Metrics(r.Context(), experimentID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, metrics)
}

type assignRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// Assign handles POST /api/experiments/{eid}/assignments.
func (h *ExperimentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	experimentID, ok := ParseExperimentID(w, r, h.logger)
	if !ok {
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	experiment, err := h.experiments.Get(r.Context(), experimentID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	assignment, err := h.experiments.Assign(r.Context(), experiment, req.UserID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, assignment)
}
