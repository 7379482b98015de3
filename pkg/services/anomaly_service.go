package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/events"
	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
)

// defaultScanPeriodHours is the trailing window a scan evaluates when the
// caller does not name one.
const defaultScanPeriodHours = 24

// AnomalyService detects operational deviations in the verification,
// matching, and job pipelines. Scans are read-only over the source tables;
// at most one record (the highest applicable severity) is emitted per
// metric per scan.
type AnomalyService interface {
	// Scan evaluates the trailing periodHours window. A non-empty typeFilter
	// narrows the scan to one pipeline; periodHours <= 0 means the default.
	Scan(ctx context.Context, periodHours int, typeFilter string) ([]models.AnomalyRecord, error)
	// ScanAndStore runs a full scan over the trailing window and persists
	// whatever it finds.
	ScanAndStore(ctx context.Context, periodHours int) ([]models.AnomalyRecord, error)
	// Recent returns recently detected anomalies, newest first.
	Recent(ctx context.Context, since time.Time, limit int) ([]models.AnomalyRecord, error)
	// RunScheduler scans on the given interval until ctx is done.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type anomalyService struct {
	analyticsRepo repositories.AnalyticsRepository
	cfg           *config.AnomalyConfig
	bus           *events.Bus
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

func NewAnomalyService(
	analyticsRepo repositories.AnalyticsRepository,
	cfg *config.AnomalyConfig,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) AnomalyService {
	return &anomalyService{
		analyticsRepo: analyticsRepo,
		cfg:           cfg,
		bus:           bus,
		metrics:       m,
		logger:        logger.Named("anomaly-service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var _ AnomalyService = (*anomalyService)(nil)

func (s *anomalyService) Scan(ctx context.Context, periodHours int, typeFilter string) ([]models.AnomalyRecord, error) {
	periodHours = normalizePeriod(periodHours)
	if typeFilter != "" && !models.ValidAnomalyType(typeFilter) {
		return nil, fmt.Errorf("%w: unknown anomaly type %q", apperrors.ErrValidation, typeFilter)
	}
	wants := func(anomalyType string) bool {
		return typeFilter == "" || typeFilter == anomalyType
	}

	since := s.now().Add(-time.Duration(periodHours) * time.Hour)
	var anomalies []models.AnomalyRecord

	if wants(models.AnomalyVerification) {
		verification, err := s.analyticsRepo.VerificationStats(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("verification scan failed: %w", err)
		}
		if verification.Total > 0 {
			failureRate := percent(verification.Failed, verification.Total)
			anomalies = appendAnomaly(anomalies, s.classifyHigh(
				models.AnomalyVerification, "verification_failure_rate",
				failureRate, s.cfg.VerificationFailureRate, periodHours,
				fmt.Sprintf("%d of %d verifications failed in the last %dh", verification.Failed, verification.Total, periodHours)))
		}
	}

	if wants(models.AnomalyMatching) {
		suggestions, err := s.analyticsRepo.SuggestionStats(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("matching scan failed: %w", err)
		}
		if suggestions.Total > 0 {
			declineRate := percent(suggestions.Declined, suggestions.Total)
			anomalies = appendAnomaly(anomalies, s.classifyHigh(
				models.AnomalyMatching, "match_decline_rate",
				declineRate, s.cfg.MatchDeclineRate, periodHours,
				fmt.Sprintf("%d of %d suggestions declined in the last %dh", suggestions.Declined, suggestions.Total, periodHours)))

			confirmRate := percent(suggestions.Confirmed, suggestions.Total)
			anomalies = appendAnomaly(anomalies, s.classifyLow(
				models.AnomalyMatching, "match_confirmation_rate",
				confirmRate, s.cfg.MatchCreationRate, periodHours,
				fmt.Sprintf("only %d of %d suggestions confirmed in the last %dh", suggestions.Confirmed, suggestions.Total, periodHours)))
		}
	}

	if wants(models.AnomalyJobProcessing) {
		jobs, err := s.analyticsRepo.JobStats(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("job scan failed: %w", err)
		}
		if jobs.Total > 0 {
			failureRate := percent(jobs.Failed, jobs.Total)
			anomalies = appendAnomaly(anomalies, s.classifyHigh(
				models.AnomalyJobProcessing, "job_failure_rate",
				failureRate, s.cfg.JobFailureRate, periodHours,
				fmt.Sprintf("%d of %d jobs failed in the last %dh", jobs.Failed, jobs.Total, periodHours)))

			latencyMinutes := jobs.AvgLatency.Minutes()
			anomalies = appendAnomaly(anomalies, s.classifyHigh(
				models.AnomalyJobProcessing, "job_latency_minutes",
				latencyMinutes, s.cfg.JobLatencyMinutes, periodHours,
				fmt.Sprintf("average job latency %.1f minutes over the last %dh", latencyMinutes, periodHours)))
		}
		anomalies = appendAnomaly(anomalies, s.classifyHigh(
			models.AnomalyJobProcessing, "queue_depth",
			float64(jobs.PendingQueue), s.cfg.QueueDepth, periodHours,
			fmt.Sprintf("%d jobs queued or running", jobs.PendingQueue)))
	}

	return anomalies, nil
}

func (s *anomalyService) ScanAndStore(ctx context.Context, periodHours int) ([]models.AnomalyRecord, error) {
	anomalies, err := s.Scan(ctx, periodHours, "")
	if err != nil {
		return nil, err
	}
	if len(anomalies) == 0 {
		return nil, nil
	}

	if err := s.analyticsRepo.StoreAnomalies(ctx, anomalies); err != nil {
		return nil, err
	}
	for _, anomaly := range anomalies {
		s.metrics.AnomaliesDetected.WithLabelValues(anomaly.Type, anomaly.Severity).Inc()
		s.bus.Publish(events.Event{
			Type: events.TypeAnomalyDetected,
			Payload: map[string]any{
				"type":     anomaly.Type,
				"metric":   anomaly.Metric,
				"severity": anomaly.Severity,
				"observed": anomaly.ObservedValue,
			},
		})
		s.logger.Warn("Anomaly detected",
			zap.String("type", anomaly.Type),
			zap.String("metric", anomaly.Metric),
			zap.String("severity", anomaly.Severity),
			zap.Float64("observed", anomaly.ObservedValue))
	}
	return anomalies, nil
}

func (s *anomalyService) Recent(ctx context.Context, since time.Time, limit int) ([]models.AnomalyRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.analyticsRepo.ListAnomalies(ctx, since, limit)
}

func (s *anomalyService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Anomaly scheduler started", zap.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Anomaly scheduler stopped")
				return
			case <-ticker.C:
				if _, err := s.ScanAndStore(ctx, 0); err != nil {
					s.logger.Error("Anomaly scan failed", zap.Error(err))
				}
			}
		}
	}()
}

// classifyHigh flags a metric whose observed value exceeds its baseline.
// Severity grows with the overshoot multiple.
func (s *anomalyService) classifyHigh(anomalyType, metric string, observed, baseline float64, periodHours int, description string) *models.AnomalyRecord {
	if baseline <= 0 || observed <= baseline {
		return nil
	}
	return &models.AnomalyRecord{
		Type:          anomalyType,
		Severity:      severityForRatio(observed / baseline),
		Metric:        metric,
		ObservedValue: observed,
		ExpectedRange: models.ExpectedRange{Low: 0, High: baseline},
		PeriodHours:   periodHours,
		Description:   description,
		DetectedAt:    s.now(),
	}
}

// classifyLow flags a metric whose observed value falls short of its
// baseline. Severity grows with the shortfall multiple.
func (s *anomalyService) classifyLow(anomalyType, metric string, observed, baseline float64, periodHours int, description string) *models.AnomalyRecord {
	if baseline <= 0 || observed >= baseline {
		return nil
	}
	ratio := baseline
	if observed > 0 {
		ratio = baseline / observed
	}
	return &models.AnomalyRecord{
		Type:          anomalyType,
		Severity:      severityForRatio(ratio),
		Metric:        metric,
		ObservedValue: observed,
		ExpectedRange: models.ExpectedRange{Low: baseline, High: 100},
		PeriodHours:   periodHours,
		Description:   description,
		DetectedAt:    s.now(),
	}
}

// severityForRatio maps how far a metric sits outside its band onto a
// severity tier.
func severityForRatio(ratio float64) string {
	switch {
	case ratio >= 3:
		return models.SeverityCritical
	case ratio >= 2:
		return models.SeverityHigh
	case ratio >= 1.5:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// normalizePeriod clamps the scan window: non-positive falls back to the
// default, anything beyond 30 days is capped.
func normalizePeriod(periodHours int) int {
	if periodHours <= 0 {
		return defaultScanPeriodHours
	}
	if periodHours > 720 {
		return 720
	}
	return periodHours
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func appendAnomaly(list []models.AnomalyRecord, record *models.AnomalyRecord) []models.AnomalyRecord {
	if record == nil {
		return list
	}
	return append(list, *record)
}
