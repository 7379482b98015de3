package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// PaginatedResponse wraps a page of results with its total count. HasMore is
// true when offset+limit is still below the total.
type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// ServiceError maps a service-layer error onto the HTTP surface: validation
// failures are 400, missing resources 404, non-members 403, state conflicts
// 409, rate limiting 429, everything else 500. Unexpected errors are logged;
// expected ones are the caller's own fault and are not.
func ServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrInvalidSplit):
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrNotAMember):
		ErrorResponse(w, http.StatusForbidden, "forbidden", "user is not a member of this suggestion")
	case errors.Is(err, apperrors.ErrAlreadyTerminal), errors.Is(err, apperrors.ErrConflict):
		ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrRateLimited):
		ErrorResponse(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	default:
		logger.Error("Request failed", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// RateLimited writes the 429 response with a Retry-After hint.
func RateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	ErrorResponse(w, http.StatusTooManyRequests, "rate_limited", "request budget exhausted, retry later")
}
