package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

// ExperimentRepository provides data access for experiments and their
// immutable variant assignments.
type ExperimentRepository interface {
	Create(ctx context.Context, experiment *models.Experiment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Experiment, error)
	ListActive(ctx context.Context, universityID *uuid.UUID) ([]*models.Experiment, error)
	GetAssignment(ctx context.Context, experimentID, userID uuid.UUID) (*models.ExperimentAssignment, error)
	// CreateAssignment inserts an assignment unless one already exists and
	// returns the stored row either way. Assignments never change once made.
	CreateAssignment(ctx context.Context, experimentID, userID uuid.UUID, variant string) (*models.ExperimentAssignment, error)
	CountAssignmentsByVariant(ctx context.Context, experimentID uuid.UUID) (map[string]int, error)
}

type experimentRepository struct {
	db *database.DB
}

func NewExperimentRepository(db *database.DB) ExperimentRepository {
	return &experimentRepository{db: db}
}

var _ ExperimentRepository = (*experimentRepository)(nil)

func (r *experimentRepository) Create(ctx context.Context, experiment *models.Experiment) error {
	variants, err := json.Marshal(experiment.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}
	split, err := json.Marshal(experiment.TrafficSplit)
	if err != nil {
		return fmt.Errorf("failed to marshal traffic split: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO matching_experiments
			(experiment_name, description, status, variants, traffic_split,
			 assignment_method, university_id, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		experiment.Name, nullableString(experiment.Description), experiment.Status,
		variants, split, experiment.AssignmentMethod, experiment.UniversityID,
		experiment.StartDate, experiment.EndDate,
	).Scan(&experiment.ID, &experiment.CreatedAt, &experiment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}
	return nil
}

func (r *experimentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, experiment_name, description, status, variants, traffic_split,
		       assignment_method, university_id, start_date, end_date, created_at, updated_at
		FROM matching_experiments WHERE id = $1`, id)

	experiment, err := scanExperiment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("experiment %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return experiment, nil
}

func (r *experimentRepository) ListActive(ctx context.Context, universityID *uuid.UUID) ([]*models.Experiment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, experiment_name, description, status, variants, traffic_split,
		       assignment_method, university_id, start_date, end_date, created_at, updated_at
		FROM matching_experiments
		WHERE status = 'active'
		  AND (start_date IS NULL OR start_date <= now())
		  AND (end_date IS NULL OR end_date >= now())
		  AND (university_id IS NULL OR $1::uuid IS NULL OR university_id = $1)
		ORDER BY created_at`, universityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*models.Experiment
	for rows.Next() {
		experiment, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, experiment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating experiments: %w", err)
	}
	return experiments, nil
}

func (r *experimentRepository) GetAssignment(ctx context.Context, experimentID, userID uuid.UUID) (*models.ExperimentAssignment, error) {
	assignment := &models.ExperimentAssignment{ExperimentID: experimentID, UserID: userID}
	err := r.db.QueryRow(ctx, `
		SELECT id, variant, created_at FROM experiment_assignments
		WHERE experiment_id = $1 AND user_id = $2`,
		experimentID, userID).Scan(&assignment.ID, &assignment.Variant, &assignment.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assignment for user %s in experiment %s: %w", userID, experimentID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return assignment, nil
}

func (r *experimentRepository) CreateAssignment(ctx context.Context, experimentID, userID uuid.UUID, variant string) (*models.ExperimentAssignment, error) {
	// DO NOTHING keeps the original variant when two assigners race; the
	// follow-up read returns whichever insert won.
	_, err := r.db.Exec(ctx, `
		INSERT INTO experiment_assignments (experiment_id, user_id, variant)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT experiment_assignments_once DO NOTHING`,
		experimentID, userID, variant)
	if err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}
	return r.GetAssignment(ctx, experimentID, userID)
}

func (r *experimentRepository) CountAssignmentsByVariant(ctx context.Context, experimentID uuid.UUID) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT variant, COUNT(*) FROM experiment_assignments
		WHERE experiment_id = $1 GROUP BY variant`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var variant string
		var count int
		if err := rows.Scan(&variant, &count); err != nil {
			return nil, fmt.Errorf("failed to scan assignment count: %w", err)
		}
		counts[variant] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assignment counts: %w", err)
	}
	return counts, nil
}

func scanExperiment(row pgx.Row) (*models.Experiment, error) {
	var (
		experiment   models.Experiment
		description  *string
		variantsJSON []byte
		splitJSON    []byte
	)
	err := row.Scan(&experiment.ID, &experiment.Name, &description, &experiment.Status,
		&variantsJSON, &splitJSON, &experiment.AssignmentMethod, &experiment.UniversityID,
		&experiment.StartDate, &experiment.EndDate, &experiment.CreatedAt, &experiment.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if description != nil {
		experiment.Description = *description
	}
	if err := json.Unmarshal(variantsJSON, &experiment.Variants); err != nil {
		return nil, fmt.Errorf("failed to decode variants: %w", err)
	}
	if err := json.Unmarshal(splitJSON, &experiment.TrafficSplit); err != nil {
		return nil, fmt.Errorf("failed to decode traffic split: %w", err)
	}
	return &experiment, nil
}
