package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New()
}

// mockVectorRepo implements repositories.VectorRepository for testing.
type mockVectorRepo struct {
	vectors  map[uuid.UUID][]float64
	getErr   error
	batchErr error
}

func newMockVectorRepo() *mockVectorRepo {
	return &mockVectorRepo{vectors: make(map[uuid.UUID][]float64)}
}

func (m *mockVectorRepo) Get(_ context.Context, userID uuid.UUID) (*models.PreferenceVector, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	dims, ok := m.vectors[userID]
	if !ok {
		return nil, fmt.Errorf("vector for user %s: %w", userID, apperrors.ErrNotFound)
	}
	return &models.PreferenceVector{UserID: userID, Dims: dims, UpdatedAt: time.Now()}, nil
}

func (m *mockVectorRepo) GetBatch(_ context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.PreferenceVector, error) {
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	out := make(map[uuid.UUID]*models.PreferenceVector)
	for _, id := range userIDs {
		if dims, ok := m.vectors[id]; ok {
			out[id] = &models.PreferenceVector{UserID: id, Dims: dims}
		}
	}
	return out, nil
}

func (m *mockVectorRepo) Upsert(_ context.Context, userID uuid.UUID, dims []float64) error {
	m.vectors[userID] = dims
	return nil
}

// mockSuggestionRepo implements repositories.SuggestionRepository with an
// in-memory store honoring the active-member-key uniqueness rule.
type mockSuggestionRepo struct {
	suggestions map[uuid.UUID]*models.MatchSuggestion
	runs        []*repositories.GenerationRunRecord
	createErr   error
	updateErr   error
	getErr      error
	listErr     error
}

func newMockSuggestionRepo() *mockSuggestionRepo {
	return &mockSuggestionRepo{suggestions: make(map[uuid.UUID]*models.MatchSuggestion)}
}

func active(status string) bool {
	return status == models.StatusPending || status == models.StatusAccepted || status == models.StatusConfirmed
}

func (m *mockSuggestionRepo) Create(_ context.Context, s *models.MatchSuggestion) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.suggestions {
		if existing.MemberKey == s.MemberKey && active(existing.Status) {
			return fmt.Errorf("%w: active suggestion exists for members %s", apperrors.ErrConflict, s.MemberKey)
		}
	}
	clone := *s
	m.suggestions[s.ID] = &clone
	return nil
}

func (m *mockSuggestionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.MatchSuggestion, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("%w: suggestion %s", apperrors.ErrNotFound, id)
	}
	clone := *s
	clone.AcceptedBy = append([]uuid.UUID{}, s.AcceptedBy...)
	return &clone, nil
}

func (m *mockSuggestionRepo) UpdateStatus(_ context.Context, s *models.MatchSuggestion, expected []string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.suggestions[s.ID]
	if !ok {
		return fmt.Errorf("%w: suggestion %s", apperrors.ErrNotFound, s.ID)
	}
	matched := false
	for _, status := range expected {
		if stored.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("%w: suggestion %s changed concurrently", apperrors.ErrConflict, s.ID)
	}
	stored.Status = s.Status
	stored.AcceptedBy = append([]uuid.UUID{}, s.AcceptedBy...)
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *mockSuggestionRepo) ListForUser(_ context.Context, userID uuid.UUID, filters models.SuggestionFilters) ([]*models.MatchSuggestion, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []*models.MatchSuggestion
	for _, s := range m.suggestions {
		if !s.IsMember(userID) {
			continue
		}
		if s.FitIndex < filters.MinFitIndex {
			continue
		}
		clone := *s
		out = append(out, &clone)
	}
	return out, len(out), nil
}

func (m *mockSuggestionRepo) ActiveMemberKeys(_ context.Context, userIDs []uuid.UUID) (map[string]struct{}, error) {
	return m.keys(userIDs, active), nil
}

func (m *mockSuggestionRepo) DeclinedMemberKeys(_ context.Context, userIDs []uuid.UUID) (map[string]struct{}, error) {
	return m.keys(userIDs, func(status string) bool { return status == models.StatusDeclined }), nil
}

func (m *mockSuggestionRepo) keys(userIDs []uuid.UUID, match func(string) bool) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range m.suggestions {
		if !match(s.Status) {
			continue
		}
		for _, id := range userIDs {
			if s.IsMember(id) {
				out[s.MemberKey] = struct{}{}
				break
			}
		}
	}
	return out
}

func (m *mockSuggestionRepo) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	var count int64
	for _, s := range m.suggestions {
		if (s.Status == models.StatusPending || s.Status == models.StatusAccepted) && now.After(s.ExpiresAt) {
			s.Status = models.StatusExpired
			count++
		}
	}
	return count, nil
}

func (m *mockSuggestionRepo) SaveRun(_ context.Context, run *repositories.GenerationRunRecord) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockSuggestionRepo) VariantOutcomes(_ context.Context, experimentID uuid.UUID) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int)
	for _, s := range m.suggestions {
		if s.ExperimentID == nil || *s.ExperimentID != experimentID || s.Variant == "" {
			continue
		}
		if out[s.Variant] == nil {
			out[s.Variant] = make(map[string]int)
		}
		out[s.Variant][s.Status]++
	}
	return out, nil
}

// mockBlocklistRepo implements repositories.BlocklistRepository.
type mockBlocklistRepo struct {
	entries   map[string]*models.BlocklistEntry
	upsertErr error
}

func newMockBlocklistRepo() *mockBlocklistRepo {
	return &mockBlocklistRepo{entries: make(map[string]*models.BlocklistEntry)}
}

func pairKey(a, b uuid.UUID) string {
	return a.String() + ">" + b.String()
}

func (m *mockBlocklistRepo) Upsert(_ context.Context, userID, blockedUserID uuid.UUID, endedAt *time.Time) (*models.BlocklistEntry, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	key := pairKey(userID, blockedUserID)
	entry, ok := m.entries[key]
	if !ok {
		entry = &models.BlocklistEntry{
			ID:            uuid.New(),
			UserID:        userID,
			BlockedUserID: blockedUserID,
			CreatedAt:     time.Now(),
			EndedAt:       endedAt,
		}
		m.entries[key] = entry
		return entry, nil
	}
	// Mirrors the repository's conflict action: never weaken an entry.
	switch {
	case entry.EndedAt == nil || endedAt == nil:
		entry.EndedAt = nil
	case endedAt.After(*entry.EndedAt):
		entry.EndedAt = endedAt
	}
	return entry, nil
}

func (m *mockBlocklistRepo) IsExcluded(_ context.Context, a, b uuid.UUID) (bool, error) {
	now := time.Now()
	for _, key := range []string{pairKey(a, b), pairKey(b, a)} {
		if entry, ok := m.entries[key]; ok && entry.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockBlocklistRepo) ActiveExclusions(_ context.Context, userIDs []uuid.UUID) (map[string]struct{}, error) {
	now := time.Now()
	out := make(map[string]struct{})
	for _, entry := range m.entries {
		if entry.IsActive(now) {
			out[models.MemberKey([]uuid.UUID{entry.UserID, entry.BlockedUserID})] = struct{}{}
		}
	}
	return out, nil
}

// mockReportRepo implements repositories.ReportRepository.
type mockReportRepo struct {
	reports   []*models.Report
	createErr error
	countErr  error
}

func (m *mockReportRepo) Create(_ context.Context, report *models.Report) error {
	if m.createErr != nil {
		return m.createErr
	}
	report.ID = uuid.New()
	report.CreatedAt = time.Now()
	clone := *report
	m.reports = append(m.reports, &clone)
	return nil
}

func (m *mockReportRepo) CountForTargetSince(_ context.Context, targetID uuid.UUID, since time.Time) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	count := 0
	for _, r := range m.reports {
		if r.TargetUserID == targetID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// mockExperimentRepo implements repositories.ExperimentRepository.
type mockExperimentRepo struct {
	experiments map[uuid.UUID]*models.Experiment
	assignments map[string]*models.ExperimentAssignment
}

func newMockExperimentRepo() *mockExperimentRepo {
	return &mockExperimentRepo{
		experiments: make(map[uuid.UUID]*models.Experiment),
		assignments: make(map[string]*models.ExperimentAssignment),
	}
}

func (m *mockExperimentRepo) Create(_ context.Context, experiment *models.Experiment) error {
	experiment.ID = uuid.New()
	experiment.CreatedAt = time.Now()
	experiment.UpdatedAt = experiment.CreatedAt
	m.experiments[experiment.ID] = experiment
	return nil
}

func (m *mockExperimentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Experiment, error) {
	experiment, ok := m.experiments[id]
	if !ok {
		return nil, fmt.Errorf("experiment %s: %w", id, apperrors.ErrNotFound)
	}
	return experiment, nil
}

func (m *mockExperimentRepo) ListActive(_ context.Context, _ *uuid.UUID) ([]*models.Experiment, error) {
	var out []*models.Experiment
	now := time.Now()
	for _, e := range m.experiments {
		if e.IsRunning(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockExperimentRepo) GetAssignment(_ context.Context, experimentID, userID uuid.UUID) (*models.ExperimentAssignment, error) {
	assignment, ok := m.assignments[experimentID.String()+userID.String()]
	if !ok {
		return nil, fmt.Errorf("assignment: %w", apperrors.ErrNotFound)
	}
	return assignment, nil
}

func (m *mockExperimentRepo) CreateAssignment(_ context.Context, experimentID, userID uuid.UUID, variant string) (*models.ExperimentAssignment, error) {
	key := experimentID.String() + userID.String()
	if existing, ok := m.assignments[key]; ok {
		return existing, nil
	}
	assignment := &models.ExperimentAssignment{
		ID:           uuid.New(),
		ExperimentID: experimentID,
		UserID:       userID,
		Variant:      variant,
		CreatedAt:    time.Now(),
	}
	m.assignments[key] = assignment
	return assignment, nil
}

func (m *mockExperimentRepo) CountAssignmentsByVariant(_ context.Context, experimentID uuid.UUID) (map[string]int, error) {
	out := make(map[string]int)
	for _, a := range m.assignments {
		if a.ExperimentID == experimentID {
			out[a.Variant]++
		}
	}
	return out, nil
}

// mockAnalyticsRepo implements repositories.AnalyticsRepository with canned
// stats.
type mockAnalyticsRepo struct {
	verification repositories.VerificationStats
	suggestions  repositories.SuggestionStats
	jobs         repositories.JobStats
	stored       []models.AnomalyRecord
	statsErr     error
	storeErr     error
}

func (m *mockAnalyticsRepo) VerificationStats(_ context.Context, _ time.Time) (*repositories.VerificationStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	v := m.verification
	return &v, nil
}

func (m *mockAnalyticsRepo) SuggestionStats(_ context.Context, _ time.Time) (*repositories.SuggestionStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	s := m.suggestions
	return &s, nil
}

func (m *mockAnalyticsRepo) JobStats(_ context.Context, _ time.Time) (*repositories.JobStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	j := m.jobs
	return &j, nil
}

func (m *mockAnalyticsRepo) StoreAnomalies(_ context.Context, anomalies []models.AnomalyRecord) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.stored = append(m.stored, anomalies...)
	return nil
}

func (m *mockAnalyticsRepo) ListAnomalies(_ context.Context, since time.Time, limit int) ([]models.AnomalyRecord, error) {
	var out []models.AnomalyRecord
	for _, a := range m.stored {
		if !a.DetectedAt.Before(since) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

// mockRetentionRepo implements repositories.RetentionRepository.
type mockRetentionRepo struct {
	cohort    []uuid.UUID
	activity  map[uuid.UUID]time.Time
	snapshots []*models.RetentionReport
	cohortErr error
}

func newMockRetentionRepo() *mockRetentionRepo {
	return &mockRetentionRepo{activity: make(map[uuid.UUID]time.Time)}
}

func (m *mockRetentionRepo) ConfirmedCohort(_ context.Context, _ time.Time, _ *uuid.UUID) ([]uuid.UUID, error) {
	if m.cohortErr != nil {
		return nil, m.cohortErr
	}
	return m.cohort, nil
}

func (m *mockRetentionRepo) ActiveSince(_ context.Context, userIDs []uuid.UUID, cutoff time.Time) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	for _, id := range userIDs {
		if seen, ok := m.activity[id]; ok && !seen.Before(cutoff) {
			out[id] = true
		}
	}
	return out, nil
}

func (m *mockRetentionRepo) SaveSnapshot(_ context.Context, report *models.RetentionReport) error {
	m.snapshots = append(m.snapshots, report)
	return nil
}

func (m *mockRetentionRepo) RecordActivity(_ context.Context, userID uuid.UUID, seenAt time.Time) error {
	m.activity[userID] = seenAt
	return nil
}
