package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseSuggestionID extracts and validates the suggestion ID from the
// request path. Writes an error response and returns false on failure.
// Expects path parameter: sid
func ParseSuggestionID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "sid", "invalid_suggestion_id", "Invalid suggestion ID format", logger)
}

// ParseExperimentID extracts and validates the experiment ID from the
// request path. Expects path parameter: eid
func ParseExperimentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "eid", "invalid_experiment_id", "Invalid experiment ID format", logger)
}

// ParsePathUserID extracts and validates the user ID from the request path.
// Expects path parameter: uid
func ParsePathUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "uid", "invalid_user_id", "Invalid user ID format", logger)
}

func parseUUID(w http.ResponseWriter, r *http.Request, param, errorCode, message string, logger *zap.Logger) (uuid.UUID, bool) {
	raw := r.PathValue(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		logger.Debug("Invalid UUID path parameter",
			zap.String("param", param),
			zap.String("value", raw))
		ErrorResponse(w, http.StatusBadRequest, errorCode, message)
		return uuid.Nil, false
	}
	return id, true
}

// QueryUserID reads the required user_id query parameter.
func QueryUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		ErrorResponse(w, http.StatusBadRequest, "missing_user_id", "user_id query parameter is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format")
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter, falling back to def
// when absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}

// queryBool reads an optional boolean query parameter.
func queryBool(r *http.Request, name string) bool {
	value, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return value
}

// queryUUID reads an optional UUID query parameter.
func queryUUID(r *http.Request, name string) *uuid.UUID {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
