package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

// ModerationHandler serves blocking and reporting endpoints.
type ModerationHandler struct {
	moderation  services.ModerationService
	guard       *RateLimitGuard
	blockQuota  int
	reportQuota int
	logger      *zap.Logger
}

func NewModerationHandler(
	moderation services.ModerationService,
	guard *RateLimitGuard,
	blockQuota, reportQuota int,
	logger *zap.Logger,
) *ModerationHandler {
	return &ModerationHandler{
		moderation:  moderation,
		guard:       guard,
		blockQuota:  blockQuota,
		reportQuota: reportQuota,
		logger:      logger,
	}
}

// RegisterRoutes registers the moderation handler's routes on the given mux.
func (h *ModerationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/moderation/block", h.Block)
	mux.HandleFunc("POST /api/moderation/report", h.Report)
}

type blockRequest struct {
	UserID        uuid.UUID `json:"user_id" validate:"required"`
	BlockedUserID uuid.UUID `json:"blocked_user_id" validate:"required"`
}

// Block handles POST /api/moderation/block.
func (h *ModerationHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !h.guard.Allow(w, r, "block", req.UserID, h.blockQuota) {
		return
	}

	entry, err := h.moderation.Block(r.Context(), req.UserID, req.BlockedUserID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, entry)
}

type reportRequest struct {
	ReporterID   uuid.UUID  `json:"reporter_id" validate:"required"`
	TargetUserID uuid.UUID  `json:"target_user_id" validate:"required"`
	Category     string     `json:"category" validate:"required"`
	MessageID    *uuid.UUID `json:"message_id"`
	Details      string     `json:"details" validate:"max=2000"`
}

// Report handles POST /api/moderation/report.
func (h *ModerationHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !h.guard.Allow(w, r, "report", req.ReporterID, h.reportQuota) {
		return
	}

	report, err := h.moderation.RecordReport(r.Context(), &models.Report{
		ReporterID:   req.ReporterID,
		TargetUserID: req.TargetUserID,
		Category:     req.Category,
		MessageID:    req.MessageID,
		Details:      req.Details,
	})
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, report)
}
