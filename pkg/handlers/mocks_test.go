package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/ratelimit"
	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

func testGuard(limiter ratelimit.Limiter) *RateLimitGuard {
	cfg := &config.RateLimitConfig{WindowMinutes: 60, Respond: 60, Block: 20, Report: 5}
	return NewRateLimitGuard(limiter, cfg, metrics.New(), zap.NewNop())
}

// mockLimiter admits everything unless told otherwise.
type mockLimiter struct {
	denied     bool
	retryAfter time.Duration
	err        error
	calls      int
}

func (m *mockLimiter) Allow(_ context.Context, _, _ string, _ int, _ time.Duration) (ratelimit.Result, error) {
	m.calls++
	if m.err != nil {
		return ratelimit.Result{}, m.err
	}
	if m.denied {
		return ratelimit.Result{Allowed: false, RetryAfter: m.retryAfter}, nil
	}
	return ratelimit.Result{Allowed: true, Remaining: 1}, nil
}

type mockMatchService struct {
	suggestion *models.MatchSuggestion
	list       []*models.MatchSuggestion
	total      int
	getErr     error
	listErr    error
	acceptErr  error
	declineErr error

	lastAction  string
	lastUserID  uuid.UUID
	lastFilters models.SuggestionFilters
}

var _ services.MatchService = (*mockMatchService)(nil)

func (m *mockMatchService) GetByID(_ context.Context, _, _ uuid.UUID) (*models.MatchSuggestion, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.suggestion, nil
}

func (m *mockMatchService) ListForUser(_ context.Context, _ uuid.UUID, filters models.SuggestionFilters) ([]*models.MatchSuggestion, int, error) {
	m.lastFilters = filters
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.list, m.total, nil
}

func (m *mockMatchService) Accept(_ context.Context, _, userID uuid.UUID) (*models.MatchSuggestion, error) {
	m.lastAction, m.lastUserID = "accept", userID
	if m.acceptErr != nil {
		return nil, m.acceptErr
	}
	return m.suggestion, nil
}

func (m *mockMatchService) Decline(_ context.Context, _, userID uuid.UUID) (*models.MatchSuggestion, error) {
	m.lastAction, m.lastUserID = "decline", userID
	if m.declineErr != nil {
		return nil, m.declineErr
	}
	return m.suggestion, nil
}

func (m *mockMatchService) ExpireOverdue(_ context.Context) (int64, error) { return 0, nil }

func (m *mockMatchService) RunExpiryScheduler(_ context.Context, _ time.Duration) {}

type mockGenerator struct {
	result *services.GenerationResult
	err    error
	req    services.GenerationRequest
	cohort []uuid.UUID
}

var _ services.CandidateGenerator = (*mockGenerator)(nil)

func (m *mockGenerator) Run(_ context.Context, req services.GenerationRequest) (*services.GenerationResult, error) {
	m.req = req
	m.cohort = req.Cohort
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockModerationService struct {
	entry     *models.BlocklistEntry
	report    *models.Report
	blockErr  error
	reportErr error
}

var _ services.ModerationService = (*mockModerationService)(nil)

func (m *mockModerationService) Block(_ context.Context, _, _ uuid.UUID) (*models.BlocklistEntry, error) {
	if m.blockErr != nil {
		return nil, m.blockErr
	}
	return m.entry, nil
}

func (m *mockModerationService) Cooldown(_ context.Context, _, _ uuid.UUID, _ time.Time) (*models.BlocklistEntry, error) {
	return m.entry, nil
}

func (m *mockModerationService) IsExcluded(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return false, nil
}

func (m *mockModerationService) RecordReport(_ context.Context, report *models.Report) (*models.Report, error) {
	if m.reportErr != nil {
		return nil, m.reportErr
	}
	if m.report != nil {
		return m.report, nil
	}
	return report, nil
}

type mockExperimentService struct {
	experiment *models.Experiment
	assignment *models.ExperimentAssignment
	metrics    *models.ExperimentMetrics
	createErr  error
	getErr     error
	listErr    error
	assignErr  error
	metricsErr error
	listedFor  *uuid.UUID
}

var _ services.ExperimentService = (*mockExperimentService)(nil)

func (m *mockExperimentService) Create(_ context.Context, experiment *models.Experiment) error {
	if m.createErr != nil {
		return m.createErr
	}
	experiment.ID = uuid.New()
	experiment.Status = models.ExperimentStatusActive
	return nil
}

func (m *mockExperimentService) Get(_ context.Context, _ uuid.UUID) (*models.Experiment, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.experiment, nil
}

func (m *mockExperimentService) ActiveFor(_ context.Context, _ *uuid.UUID) (*models.Experiment, error) {
	return m.experiment, nil
}

func (m *mockExperimentService) ListActive(_ context.Context, universityID *uuid.UUID) ([]*models.Experiment, error) {
	m.listedFor = universityID
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.experiment == nil {
		return nil, nil
	}
	return []*models.Experiment{m.experiment}, nil
}

func (m *mockExperimentService) Assign(_ context.Context, _ *models.Experiment, _ uuid.UUID) (*models.ExperimentAssignment, error) {
	if m.assignErr != nil {
		return nil, m.assignErr
	}
	return m.assignment, nil
}

func (m *mockExperimentService) Metrics(_ context.Context, _ uuid.UUID) (*models.ExperimentMetrics, error) {
	if m.metricsErr != nil {
		return nil, m.metricsErr
	}
	return m.metrics, nil
}

type mockAnomalyService struct {
	records    []models.AnomalyRecord
	scanErr    error
	recentErr  error
	lastPeriod int
	lastType   string
}

var _ services.AnomalyService = (*mockAnomalyService)(nil)

func (m *mockAnomalyService) Scan(_ context.Context, periodHours int, typeFilter string) ([]models.AnomalyRecord, error) {
	m.lastPeriod = periodHours
	m.lastType = typeFilter
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	return m.records, nil
}

func (m *mockAnomalyService) ScanAndStore(ctx context.Context, periodHours int) ([]models.AnomalyRecord, error) {
	return m.Scan(ctx, periodHours, "")
}

func (m *mockAnomalyService) Recent(_ context.Context, _ time.Time, _ int) ([]models.AnomalyRecord, error) {
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	return m.records, nil
}

func (m *mockAnomalyService) RunScheduler(_ context.Context, _ time.Duration) {}

type mockRetentionService struct {
	report      *models.RetentionReport
	computeErr  error
	storeErr    error
	activityErr error
	activityFor []uuid.UUID
	stored      bool
}

var _ services.RetentionService = (*mockRetentionService)(nil)

func (m *mockRetentionService) Compute(_ context.Context, _ time.Time, _ *uuid.UUID) (*models.RetentionReport, error) {
	if m.computeErr != nil {
		return nil, m.computeErr
	}
	return m.report, nil
}

func (m *mockRetentionService) ComputeAndStore(_ context.Context, _ time.Time, _ *uuid.UUID) (*models.RetentionReport, error) {
	if m.storeErr != nil {
		return nil, m.storeErr
	}
	m.stored = true
	return m.report, nil
}

func (m *mockRetentionService) RecordActivity(_ context.Context, userID uuid.UUID) error {
	if m.activityErr != nil {
		return m.activityErr
	}
	m.activityFor = append(m.activityFor, userID)
	return nil
}

type mockVectorService struct {
	vector    *models.PreferenceVector
	getErr    error
	upsertErr error
}

var _ services.VectorService = (*mockVectorService)(nil)

func (m *mockVectorService) Get(_ context.Context, _ uuid.UUID) (*models.PreferenceVector, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.vector, nil
}

func (m *mockVectorService) UpsertFromAnswers(_ context.Context, userID uuid.UUID, answers map[string]float64) (*models.PreferenceVector, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	return &models.PreferenceVector{
		UserID:    userID,
		Dims:      models.VectorFromAnswers(answers),
		UpdatedAt: time.Now(),
	}, nil
}

func (m *mockVectorService) UpsertDims(_ context.Context, _ uuid.UUID, _ []float64) error {
	return m.upsertErr
}
