package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

var validate = validator.New()

// MatchHandler serves suggestion reads, member responses, and generation
// runs.
type MatchHandler struct {
	matchService services.MatchService
	generator    services.CandidateGenerator
	guard        *RateLimitGuard
	respondQuota int
	minFitIndex  int
	logger       *zap.Logger
}

func NewMatchHandler(
	matchService services.MatchService,
	generator services.CandidateGenerator,
	guard *RateLimitGuard,
	respondQuota int,
	minFitIndex int,
	logger *zap.Logger,
) *MatchHandler {
	return &MatchHandler{
		matchService: matchService,
		generator:    generator,
		guard:        guard,
		respondQuota: respondQuota,
		minFitIndex:  minFitIndex,
		logger:       logger,
	}
}

// RegisterRoutes registers the match handler's routes on the given mux.
func (h *MatchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/match/suggestions", h.ListSuggestions)
	mux.HandleFunc("GET /api/match/suggestions/{sid}", h.GetSuggestion)
	mux.HandleFunc("POST /api/match/suggestions/{sid}/respond", h.Respond)
	mux.HandleFunc("POST /api/match/run", h.Run)
}

// ListSuggestions handles GET /api/match/suggestions.
// A storage failure degrades to an empty page: match browsing is a read
// surface that should stay up when a dependency wobbles.
func (h *MatchHandler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := QueryUserID(w, r)
	if !ok {
		return
	}

	filters := models.SuggestionFilters{
		IncludeExpired: queryBool(r, "include_expired"),
		MinFitIndex:    queryInt(r, "min_fit_index", h.minFitIndex),
		Limit:          queryInt(r, "limit", 20),
		Offset:         queryInt(r, "offset", 0),
	}

	suggestions, total, err := h.matchService.ListForUser(r.Context(), userID, filters)
	if err != nil {
		h.logger.Error("Suggestion list failed, serving empty page",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		suggestions, total = []*models.MatchSuggestion{}, 0
	}
	if suggestions == nil {
		suggestions = []*models.MatchSuggestion{}
	}

	WriteJSON(w, http.StatusOK, PaginatedResponse{
		Data:    suggestions,
		Total:   total,
		Limit:   filters.Limit,
		Offset:  filters.Offset,
		HasMore: filters.Offset+filters.Limit < total,
	})
}

// GetSuggestion handles GET /api/match/suggestions/{sid}.
func (h *MatchHandler) GetSuggestion(w http.ResponseWriter, r *http.Request) {
	suggestionID, ok := ParseSuggestionID(w, r, h.logger)
	if !ok {
		return
	}
	userID, ok := QueryUserID(w, r)
	if !ok {
		return
	}

	suggestion, err := h.matchService.GetByID(r.Context(), suggestionID, userID)
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, suggestion)
}

type respondRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Action string    `json:"action" validate:"required,oneof=accept decline"`
}

// Respond handles POST /api/match/suggestions/{sid}/respond.
func (h *MatchHandler) Respond(w http.ResponseWriter, r *http.Request) {
	suggestionID, ok := ParseSuggestionID(w, r, h.logger)
	if !ok {
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !h.guard.Allow(w, r, "respond", req.UserID, h.respondQuota) {
		return
	}

	var (
		suggestion *models.MatchSuggestion
		err        error
	)
	switch req.Action {
	case "accept":
		suggestion, err = h.matchService.Accept(r.Context(), suggestionID, req.UserID)
	default:
		suggestion, err = h.matchService.Decline(r.Context(), suggestionID, req.UserID)
	}
	if err != nil {
		ServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, suggestion)
}

type runRequest struct {
	UserIDs      []uuid.UUID `json:"user_ids" validate:"required,min=2"`
	UniversityID *uuid.UUID  `json:"university_id"`
	Kind         string      `json:"kind" validate:"omitempty,oneof=pair group"`
	GroupSize    int         `json:"group_size" validate:"omitempty,min=3,max=8"`
}

// Run handles POST /api/match/run: generate suggestions for a cohort.
func (h *MatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.generator.Run(r.Context(), services.GenerationRequest{
		Cohort:       req.UserIDs,
		UniversityID: req.UniversityID,
		Kind:         req.Kind,
		GroupSize:    req.GroupSize,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			ServiceError(w, h.logger, err)
			return
		}
		h.logger.Error("Generation run failed", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "generation run failed")
		return
	}
	if result.Created == nil {
		result.Created = []*models.MatchSuggestion{}
	}
	WriteJSON(w, http.StatusOK, result)
}
