package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

// ReportRepository provides data access for user reports.
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	// CountForTargetSince counts reports filed against targetID at or after
	// since. Used for the repeated-report auto-block threshold.
	CountForTargetSince(ctx context.Context, targetID uuid.UUID, since time.Time) (int, error)
}

type reportRepository struct {
	db *database.DB
}

func NewReportRepository(db *database.DB) ReportRepository {
	return &reportRepository{db: db}
}

var _ ReportRepository = (*reportRepository)(nil)

func (r *reportRepository) Create(ctx context.Context, report *models.Report) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO reports (reporter_id, target_user_id, category, message_id, details, auto_blocked)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		report.ReporterID, report.TargetUserID, report.Category,
		report.MessageID, nullableString(report.Details), report.AutoBlocked,
	).Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (r *reportRepository) CountForTargetSince(ctx context.Context, targetID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM reports WHERE target_user_id = $1 AND created_at >= $2`,
		targetID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return count, nil
}
