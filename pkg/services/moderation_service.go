package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/events"
	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
	"github.com/AdminTLI/roommatematch-sub010/pkg/retry"
)

// ModerationService enforces pairwise exclusions and handles user reports.
type ModerationService interface {
	// Block records a permanent directional block. Re-blocking an ended
	// entry re-activates it.
	Block(ctx context.Context, userID, blockedUserID uuid.UUID) (*models.BlocklistEntry, error)
	// Cooldown records a temporary exclusion that lapses at the given time.
	Cooldown(ctx context.Context, userID, blockedUserID uuid.UUID, until time.Time) (*models.BlocklistEntry, error)
	// IsExcluded reports whether an active entry in either direction
	// excludes the pair from matching.
	IsExcluded(ctx context.Context, a, b uuid.UUID) (bool, error)
	// RecordReport files a report and, when the target crosses the
	// repeated-report threshold inside the window, auto-blocks the pair.
	// The auto-block is best-effort: its failure never fails the report.
	RecordReport(ctx context.Context, report *models.Report) (*models.Report, error)
}

type moderationService struct {
	blocklistRepo repositories.BlocklistRepository
	reportRepo    repositories.ReportRepository
	cfg           *config.ModerationConfig
	bus           *events.Bus
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewModerationService(
	blocklistRepo repositories.BlocklistRepository,
	reportRepo repositories.ReportRepository,
	cfg *config.ModerationConfig,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) ModerationService {
	return &moderationService{
		blocklistRepo: blocklistRepo,
		reportRepo:    reportRepo,
		cfg:           cfg,
		bus:           bus,
		metrics:       m,
		logger:        logger.Named("moderation-service"),
	}
}

var _ ModerationService = (*moderationService)(nil)

func (s *moderationService) Block(ctx context.Context, userID, blockedUserID uuid.UUID) (*models.BlocklistEntry, error) {
	if err := validatePair(userID, blockedUserID); err != nil {
		return nil, err
	}

	entry, err := s.blocklistRepo.Upsert(ctx, userID, blockedUserID, nil)
	if err != nil {
		return nil, err
	}

	s.metrics.BlocksCreated.WithLabelValues("manual").Inc()
	s.bus.Publish(events.Event{
		Type:    events.TypeUserBlocked,
		UserIDs: []uuid.UUID{userID},
		Payload: map[string]any{
			"blocked_user_id": blockedUserID.String(),
			"source":          "manual",
		},
	})
	s.logger.Info("User blocked",
		zap.String("user_id", userID.String()),
		zap.String("blocked_user_id", blockedUserID.String()))

	return entry, nil
}

func (s *moderationService) Cooldown(ctx context.Context, userID, blockedUserID uuid.UUID, until time.Time) (*models.BlocklistEntry, error) {
	if err := validatePair(userID, blockedUserID); err != nil {
		return nil, err
	}
	if !until.After(time.Now()) {
		return nil, fmt.Errorf("%w: cooldown end must be in the future", apperrors.ErrValidation)
	}

	entry, err := s.blocklistRepo.Upsert(ctx, userID, blockedUserID, &until)
	if err != nil {
		return nil, err
	}

	s.metrics.BlocksCreated.WithLabelValues("cooldown").Inc()
	s.logger.Debug("Cooldown recorded",
		zap.String("user_id", userID.String()),
		zap.String("blocked_user_id", blockedUserID.String()),
		zap.Time("until", until))

	return entry, nil
}

func (s *moderationService) IsExcluded(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return s.blocklistRepo.IsExcluded(ctx, a, b)
}

func (s *moderationService) RecordReport(ctx context.Context, report *models.Report) (*models.Report, error) {
	if err := validatePair(report.ReporterID, report.TargetUserID); err != nil {
		return nil, err
	}
	if !models.ValidReportCategory(report.Category) {
		return nil, fmt.Errorf("%w: unknown report category %q", apperrors.ErrValidation, report.Category)
	}

	window := time.Duration(s.cfg.ReportWindowHours) * time.Hour
	since := time.Now().Add(-window)

	// Count before inserting so this report is the Nth. A count failure
	// only disables the auto-block check.
	priorReports, countErr := s.reportRepo.CountForTargetSince(ctx, report.TargetUserID, since)
	if countErr != nil {
		s.logger.Warn("Failed to count prior reports, skipping auto-block check",
			zap.String("target_user_id", report.TargetUserID.String()),
			zap.Error(countErr))
	}

	crossesThreshold := countErr == nil && priorReports+1 >= s.cfg.AutoBlockThreshold
	report.AutoBlocked = crossesThreshold

	if err := s.reportRepo.Create(ctx, report); err != nil {
		return nil, err
	}

	s.metrics.ReportsFiled.WithLabelValues(report.Category).Inc()
	s.bus.Publish(events.Event{
		Type:    events.TypeReportFiled,
		UserIDs: []uuid.UUID{report.ReporterID},
		Payload: map[string]any{
			"target_user_id": report.TargetUserID.String(),
			"category":       report.Category,
		},
	})

	if crossesThreshold {
		// Retry transient failures; the threshold block is worth a few
		// attempts before giving up.
		err := retry.Do(ctx, nil, func() error {
			_, upsertErr := s.blocklistRepo.Upsert(ctx, report.ReporterID, report.TargetUserID, nil)
			return upsertErr
		})
		if err != nil {
			// Report stands even when the block write fails.
			s.logger.Error("Auto-block failed after threshold report",
				zap.String("reporter_id", report.ReporterID.String()),
				zap.String("target_user_id", report.TargetUserID.String()),
				zap.Error(err))
		} else {
			s.metrics.BlocksCreated.WithLabelValues("auto").Inc()
			s.bus.Publish(events.Event{
				Type:    events.TypeUserBlocked,
				UserIDs: []uuid.UUID{report.ReporterID},
				Payload: map[string]any{
					"blocked_user_id": report.TargetUserID.String(),
					"source":          "auto",
				},
			})
			s.logger.Info("Auto-blocked repeatedly reported user",
				zap.String("target_user_id", report.TargetUserID.String()),
				zap.Int("reports_in_window", priorReports+1))
		}
	}

	return report, nil
}

func validatePair(a, b uuid.UUID) error {
	if a == uuid.Nil || b == uuid.Nil {
		return fmt.Errorf("%w: user IDs must not be nil", apperrors.ErrValidation)
	}
	if a == b {
		return fmt.Errorf("%w: users cannot act on themselves", apperrors.ErrValidation)
	}
	return nil
}
