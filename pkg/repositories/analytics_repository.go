package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

// VerificationStats summarizes the verification pipeline over a period.
type VerificationStats struct {
	Total  int
	Failed int
}

// SuggestionStats summarizes suggestion outcomes over a period.
type SuggestionStats struct {
	Total     int
	Confirmed int
	Declined  int
}

// JobStats summarizes background job health over a period.
type JobStats struct {
	Total        int
	Failed       int
	AvgLatency   time.Duration
	PendingQueue int
}

// AnalyticsRepository reads the operational metrics consumed by the anomaly
// detector and persists scan results. All reads are read-only aggregates.
type AnalyticsRepository interface {
	VerificationStats(ctx context.Context, since time.Time) (*VerificationStats, error)
	SuggestionStats(ctx context.Context, since time.Time) (*SuggestionStats, error)
	JobStats(ctx context.Context, since time.Time) (*JobStats, error)
	StoreAnomalies(ctx context.Context, anomalies []models.AnomalyRecord) error
	ListAnomalies(ctx context.Context, since time.Time, limit int) ([]models.AnomalyRecord, error)
}

type analyticsRepository struct {
	db *database.DB
}

func NewAnalyticsRepository(db *database.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

var _ AnalyticsRepository = (*analyticsRepository)(nil)

func (r *analyticsRepository) VerificationStats(ctx context.Context, since time.Time) (*VerificationStats, error) {
	stats := &VerificationStats{}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('failed', 'rejected'))
		FROM verifications WHERE created_at >= $1`, since).Scan(&stats.Total, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification stats: %w", err)
	}
	return stats, nil
}

func (r *analyticsRepository) SuggestionStats(ctx context.Context, since time.Time) (*SuggestionStats, error) {
	stats := &SuggestionStats{}
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'confirmed'),
		       COUNT(*) FILTER (WHERE status = 'declined')
		FROM match_suggestions WHERE created_at >= $1`,
		since).Scan(&stats.Total, &stats.Confirmed, &stats.Declined)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestion stats: %w", err)
	}
	return stats, nil
}

func (r *analyticsRepository) JobStats(ctx context.Context, since time.Time) (*JobStats, error) {
	stats := &JobStats{}
	var avgSeconds *float64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       AVG(EXTRACT(EPOCH FROM (finished_at - started_at))) FILTER (WHERE finished_at IS NOT NULL)
		FROM job_runs WHERE started_at >= $1`,
		since).Scan(&stats.Total, &stats.Failed, &avgSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to load job stats: %w", err)
	}
	if avgSeconds != nil {
		stats.AvgLatency = time.Duration(*avgSeconds * float64(time.Second))
	}

	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM job_runs WHERE status IN ('queued', 'running')`,
	).Scan(&stats.PendingQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue depth: %w", err)
	}
	return stats, nil
}

func (r *analyticsRepository) StoreAnomalies(ctx context.Context, anomalies []models.AnomalyRecord) error {
	for _, a := range anomalies {
		_, err := r.db.Exec(ctx, `
			INSERT INTO analytics_anomalies
				(anomaly_type, severity, metric, observed, expected_low, expected_high,
				 period_hours, description, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			a.Type, a.Severity, a.Metric, a.ObservedValue,
			a.ExpectedRange.Low, a.ExpectedRange.High,
			a.PeriodHours, a.Description, a.DetectedAt)
		if err != nil {
			return fmt.Errorf("failed to store anomaly %s/%s: %w", a.Type, a.Metric, err)
		}
	}
	return nil
}

func (r *analyticsRepository) ListAnomalies(ctx context.Context, since time.Time, limit int) ([]models.AnomalyRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT anomaly_type, severity, metric, observed, expected_low, expected_high,
		       period_hours, description, detected_at
		FROM analytics_anomalies
		WHERE detected_at >= $1
		ORDER BY detected_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []models.AnomalyRecord
	for rows.Next() {
		var a models.AnomalyRecord
		err := rows.Scan(&a.Type, &a.Severity, &a.Metric, &a.ObservedValue,
			&a.ExpectedRange.Low, &a.ExpectedRange.High,
			&a.PeriodHours, &a.Description, &a.DetectedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomalies: %w", err)
	}
	return anomalies, nil
}
