package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

func pendingSuggestion(t *testing.T) *models.MatchSuggestion {
	t.Helper()
	s, err := models.NewMatchSuggestion("run-1", models.KindPair,
		[]uuid.UUID{uuid.New(), uuid.New()}, 0.84, 84, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	return s
}

func matchMux(matchSvc services.MatchService, generator services.CandidateGenerator, limiter *mockLimiter) *http.ServeMux {
	mux := http.NewServeMux()
	NewMatchHandler(matchSvc, generator, testGuard(limiter), 60, 55, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestListSuggestions(t *testing.T) {
	suggestion := pendingSuggestion(t)
	svc := &mockMatchService{list: []*models.MatchSuggestion{suggestion}, total: 1}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/match/suggestions?user_id="+suggestion.MemberIDs[0].String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var page PaginatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 20, page.Limit)
	assert.False(t, page.HasMore)
}

func TestListSuggestions_HasMore(t *testing.T) {
	suggestion := pendingSuggestion(t)
	svc := &mockMatchService{list: []*models.MatchSuggestion{suggestion}, total: 45}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/match/suggestions?user_id="+suggestion.MemberIDs[0].String()+"&limit=20&offset=20", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var page PaginatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 45, page.Total)
	assert.Equal(t, 20, page.Offset)
	assert.True(t, page.HasMore, "20 + 20 < 45 leaves another page")
}

func TestListSuggestions_ConfiguredFloorApplies(t *testing.T) {
	suggestion := pendingSuggestion(t)
	svc := &mockMatchService{list: []*models.MatchSuggestion{suggestion}, total: 1}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/match/suggestions?user_id="+suggestion.MemberIDs[0].String(), nil)
	mux.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 55, svc.lastFilters.MinFitIndex, "absent param falls back to the configured floor")

	req = httptest.NewRequest(http.MethodGet,
		"/api/match/suggestions?user_id="+suggestion.MemberIDs[0].String()+"&min_fit_index=0", nil)
	mux.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 0, svc.lastFilters.MinFitIndex, "an explicit value overrides the floor")
}

func TestListSuggestions_MissingUserID(t *testing.T) {
	mux := matchMux(&mockMatchService{}, &mockGenerator{}, &mockLimiter{})

	req := httptest.NewRequest(http.MethodGet, "/api/match/suggestions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSuggestions_StorageFailureServesEmptyPage(t *testing.T) {
	svc := &mockMatchService{listErr: assert.AnError}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/match/suggestions?user_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data  []json.RawMessage `json:"data"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Data)
	assert.Zero(t, page.Total)
}

func TestGetSuggestion(t *testing.T) {
	suggestion := pendingSuggestion(t)
	svc := &mockMatchService{suggestion: suggestion}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	url := fmt.Sprintf("/api/match/suggestions/%s?user_id=%s", suggestion.ID, suggestion.MemberIDs[0])
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got models.MatchSuggestion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, suggestion.ID, got.ID)
}

func TestGetSuggestion_InvalidID(t *testing.T) {
	mux := matchMux(&mockMatchService{}, &mockGenerator{}, &mockLimiter{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/match/suggestions/not-a-uuid?user_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSuggestion_NonMemberForbidden(t *testing.T) {
	svc := &mockMatchService{getErr: apperrors.ErrNotAMember}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	url := fmt.Sprintf("/api/match/suggestions/%s?user_id=%s", uuid.New(), uuid.New())
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetSuggestion_NotFound(t *testing.T) {
	svc := &mockMatchService{getErr: apperrors.ErrNotFound}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	url := fmt.Sprintf("/api/match/suggestions/%s?user_id=%s", uuid.New(), uuid.New())
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func respond(mux *http.ServeMux, suggestionID uuid.UUID, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/match/suggestions/%s/respond", suggestionID),
		bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRespond_Accept(t *testing.T) {
	suggestion := pendingSuggestion(t)
	svc := &mockMatchService{suggestion: suggestion}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	userID := suggestion.MemberIDs[0]
	rec := respond(mux, suggestion.ID, map[string]any{"user_id": userID, "action": "accept"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accept", svc.lastAction)
	assert.Equal(t, userID, svc.lastUserID)
}

func TestRespond_Decline(t *testing.T) {
	suggestion := pendingSuggestion(t)
	svc := &mockMatchService{suggestion: suggestion}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	rec := respond(mux, suggestion.ID, map[string]any{
		"user_id": suggestion.MemberIDs[1], "action": "decline",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "decline", svc.lastAction)
}

func TestRespond_UnknownActionRejected(t *testing.T) {
	svc := &mockMatchService{}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	rec := respond(mux, uuid.New(), map[string]any{"user_id": uuid.New(), "action": "maybe"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.lastAction, "service must not be called")
}

func TestRespond_MalformedBody(t *testing.T) {
	mux := matchMux(&mockMatchService{}, &mockGenerator{}, &mockLimiter{})

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/match/suggestions/%s/respond", uuid.New()),
		bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespond_TerminalConflict(t *testing.T) {
	svc := &mockMatchService{acceptErr: apperrors.ErrAlreadyTerminal}
	mux := matchMux(svc, &mockGenerator{}, &mockLimiter{})

	rec := respond(mux, uuid.New(), map[string]any{"user_id": uuid.New(), "action": "accept"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespond_RateLimited(t *testing.T) {
	limiter := &mockLimiter{denied: true, retryAfter: 90 * time.Second}
	svc := &mockMatchService{}
	mux := matchMux(svc, &mockGenerator{}, limiter)

	rec := respond(mux, uuid.New(), map[string]any{"user_id": uuid.New(), "action": "accept"})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Empty(t, svc.lastAction, "service must not be called")
}

func TestRespond_LimiterFailureFailsOpen(t *testing.T) {
	limiter := &mockLimiter{err: assert.AnError}
	suggestion := pendingSuggestion(t)
	svc := &mockMatchService{suggestion: suggestion}
	mux := matchMux(svc, &mockGenerator{}, limiter)

	rec := respond(mux, suggestion.ID, map[string]any{
		"user_id": suggestion.MemberIDs[0], "action": "accept",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "accept", svc.lastAction)
}

func TestRun(t *testing.T) {
	suggestion := pendingSuggestion(t)
	generator := &mockGenerator{result: &services.GenerationResult{
		RunID:      "run-9",
		CohortSize: 2,
		Created:    []*models.MatchSuggestion{suggestion},
	}}
	mux := matchMux(&mockMatchService{}, generator, &mockLimiter{})

	payload, _ := json.Marshal(map[string]any{
		"user_ids": []uuid.UUID{suggestion.MemberIDs[0], suggestion.MemberIDs[1]},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/match/run", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, generator.cohort, 2)

	var result services.GenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-9", result.RunID)
	assert.Len(t, result.Created, 1)
}

func TestRun_GroupKindForwarded(t *testing.T) {
	generator := &mockGenerator{result: &services.GenerationResult{RunID: "run-3", Kind: models.KindGroup}}
	mux := matchMux(&mockMatchService{}, generator, &mockLimiter{})

	payload, _ := json.Marshal(map[string]any{
		"user_ids":   []uuid.UUID{uuid.New(), uuid.New(), uuid.New()},
		"kind":       "group",
		"group_size": 3,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/match/run", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.KindGroup, generator.req.Kind)
	assert.Equal(t, 3, generator.req.GroupSize)
}

func TestRun_UnknownKindRejected(t *testing.T) {
	generator := &mockGenerator{}
	mux := matchMux(&mockMatchService{}, generator, &mockLimiter{})

	payload, _ := json.Marshal(map[string]any{
		"user_ids": []uuid.UUID{uuid.New(), uuid.New()},
		"kind":     "trio",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/match/run", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, generator.cohort, "generator must not be called")
}

func TestRun_CohortTooSmall(t *testing.T) {
	generator := &mockGenerator{}
	mux := matchMux(&mockMatchService{}, generator, &mockLimiter{})

	payload, _ := json.Marshal(map[string]any{"user_ids": []uuid.UUID{uuid.New()}})
	req := httptest.NewRequest(http.MethodPost, "/api/match/run", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, generator.cohort, "generator must not be called")
}

func TestRun_GeneratorFailure(t *testing.T) {
	generator := &mockGenerator{err: assert.AnError}
	mux := matchMux(&mockMatchService{}, generator, &mockLimiter{})

	payload, _ := json.Marshal(map[string]any{"user_ids": []uuid.UUID{uuid.New(), uuid.New()}})
	req := httptest.NewRequest(http.MethodPost, "/api/match/run", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
