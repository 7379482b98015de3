package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
)

// RetentionService computes day-bucketed retention for confirmed-match
// cohorts: of the users whose suggestion confirmed on day X, what share was
// still active N days later.
type RetentionService interface {
	Compute(ctx context.Context, cohortDate time.Time, universityID *uuid.UUID) (*models.RetentionReport, error)
	// ComputeAndStore computes a report and persists it as a snapshot.
	ComputeAndStore(ctx context.Context, cohortDate time.Time, universityID *uuid.UUID) (*models.RetentionReport, error)
	// RecordActivity marks a user as seen now, feeding later computations.
	RecordActivity(ctx context.Context, userID uuid.UUID) error
}

type retentionService struct {
	retentionRepo repositories.RetentionRepository
	cfg           *config.RetentionConfig
	logger        *zap.Logger
	now           func() time.Time
}

func NewRetentionService(
	retentionRepo repositories.RetentionRepository,
	cfg *config.RetentionConfig,
	logger *zap.Logger,
) RetentionService {
	return &retentionService{
		retentionRepo: retentionRepo,
		cfg:           cfg,
		logger:        logger.Named("retention-service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) Compute(ctx context.Context, cohortDate time.Time, universityID *uuid.UUID) (*models.RetentionReport, error) {
	now := s.now()
	cohortDate = cohortDate.UTC().Truncate(24 * time.Hour)
	if cohortDate.After(now) {
		return nil, fmt.Errorf("%w: cohort date %s is in the future", apperrors.ErrValidation, cohortDate.Format("2006-01-02"))
	}

	members, err := s.retentionRepo.ConfirmedCohort(ctx, cohortDate, universityID)
	if err != nil {
		return nil, err
	}

	report := &models.RetentionReport{
		CohortDate:   cohortDate,
		UniversityID: universityID,
		CohortSize:   len(members),
		Percentages:  make(map[string]float64, len(s.cfg.Horizons)),
		ComputedAt:   now,
	}
	if len(members) == 0 {
		return report, nil
	}

	for _, days := range s.cfg.Horizons {
		cutoff := cohortDate.AddDate(0, 0, days)
		if cutoff.After(now) {
			// Horizon not yet reached for this cohort.
			continue
		}
		active, err := s.retentionRepo.ActiveSince(ctx, members, cutoff)
		if err != nil {
			return nil, err
		}
		report.Percentages[fmt.Sprintf("day_%d", days)] = percent(len(active), len(members))
	}
	return report, nil
}

func (s *retentionService) ComputeAndStore(ctx context.Context, cohortDate time.Time, universityID *uuid.UUID) (*models.RetentionReport, error) {
	report, err := s.Compute(ctx, cohortDate, universityID)
	if err != nil {
		return nil, err
	}
	if err := s.retentionRepo.SaveSnapshot(ctx, report); err != nil {
		return nil, err
	}
	s.logger.Info("Retention snapshot stored",
		zap.Time("cohort_date", report.CohortDate),
		zap.Int("cohort_size", report.CohortSize),
		zap.Int("horizons", len(report.Percentages)))
	return report, nil
}

func (s *retentionService) RecordActivity(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user ID must not be nil", apperrors.ErrValidation)
	}
	return s.retentionRepo.RecordActivity(ctx, userID, s.now())
}
