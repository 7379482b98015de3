package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

// VectorHandler serves preference vector reads and writes.
type VectorHandler struct {
	vectors   services.VectorService
	retention services.RetentionService
	logger    *zap.Logger
}

func NewVectorHandler(vectors services.VectorService, retention services.RetentionService, logger *zap.Logger) *VectorHandler {
	return &VectorHandler{
		vectors:   vectors,
		retention: retention,
		logger:    logger,
	}
}

// RegisterRoutes registers the vector handler's routes on the given mux.
func (h *VectorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/vectors/{uid}", h.Get)
	mux.HandleFunc("PUT /api/vectors/{uid}", h.Upsert)
	mux.HandleFunc("POST /api/activity", h.RecordActivity)
}

// Get handles GET /api/vectors/{uid}.
func (h *VectorHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParsePathUserID(w, r, h.logger)
	if !ok {
		return
	}
	vector, err := h.vectors.Get(r.Context(), userID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, vector)
}

type upsertVectorRequest struct {
	Answers map[string]float64 `json:"answers" validate:"required,min=1"`
}

// Upsert handles PUT /api/vectors/{uid}: recompute a user's vector from
// questionnaire answers.
func (h *VectorHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := ParsePathUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req upsertVectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	vector, err := h.vectors.UpsertFromAnswers(r.Context(), userID, req.Answers)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, vector)
}

type activityRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// RecordActivity handles POST /api/activity: mark a user as seen for
// retention accounting.
func (h *VectorHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := h.retention.RecordActivity(r.Context(), req.UserID); err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
