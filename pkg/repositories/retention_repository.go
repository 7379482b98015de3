package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

// RetentionRepository provides the reads behind cohort retention reports and
// persists computed snapshots.
type RetentionRepository interface {
	// ConfirmedCohort returns the distinct members of suggestions confirmed on
	// the given calendar day, optionally scoped to a university.
	ConfirmedCohort(ctx context.Context, cohortDate time.Time, universityID *uuid.UUID) ([]uuid.UUID, error)
	// ActiveSince returns which of the given users had activity at or after
	// the cutoff.
	ActiveSince(ctx context.Context, userIDs []uuid.UUID, cutoff time.Time) (map[uuid.UUID]bool, error)
	SaveSnapshot(ctx context.Context, report *models.RetentionReport) error
	RecordActivity(ctx context.Context, userID uuid.UUID, seenAt time.Time) error
}

type retentionRepository struct {
	db *database.DB
}

func NewRetentionRepository(db *database.DB) RetentionRepository {
	return &retentionRepository{db: db}
}

var _ RetentionRepository = (*retentionRepository)(nil)

func (r *retentionRepository) ConfirmedCohort(ctx context.Context, cohortDate time.Time, universityID *uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT unnest(member_ids)
		FROM match_suggestions
		WHERE status = 'confirmed'
		  AND updated_at >= $1 AND updated_at < $1 + INTERVAL '1 day'
		  AND ($2::uuid IS NULL OR university_id = $2)`,
		cohortDate, universityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort: %w", err)
	}
	defer rows.Close()

	var members []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cohort member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cohort: %w", err)
	}
	return members, nil
}

func (r *retentionRepository) ActiveSince(ctx context.Context, userIDs []uuid.UUID, cutoff time.Time) (map[uuid.UUID]bool, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT user_id FROM user_activity
		WHERE user_id = ANY($1) AND seen_at >= $2`, userIDs, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	defer rows.Close()

	active := make(map[uuid.UUID]bool, len(userIDs))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan active user: %w", err)
		}
		active[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}
	return active, nil
}

func (r *retentionRepository) SaveSnapshot(ctx context.Context, report *models.RetentionReport) error {
	percentages, err := json.Marshal(report.Percentages)
	if err != nil {
		return fmt.Errorf("failed to marshal percentages: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO retention_snapshots (cohort_date, university_id, cohort_size, percentages, computed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		report.CohortDate, report.UniversityID, report.CohortSize, percentages, report.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to save retention snapshot: %w", err)
	}
	return nil
}

func (r *retentionRepository) RecordActivity(ctx context.Context, userID uuid.UUID, seenAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_activity (user_id, seen_at) VALUES ($1, $2)`, userID, seenAt)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}
