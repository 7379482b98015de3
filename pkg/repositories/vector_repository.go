package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

// VectorRepository provides data access for user preference vectors.
type VectorRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.PreferenceVector, error)
	GetBatch(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.PreferenceVector, error)
	Upsert(ctx context.Context, userID uuid.UUID, dims []float64) error
}

type vectorRepository struct {
	db *database.DB
}

func NewVectorRepository(db *database.DB) VectorRepository {
	return &vectorRepository{db: db}
}

var _ VectorRepository = (*vectorRepository)(nil)

func (r *vectorRepository) Get(ctx context.Context, userID uuid.UUID) (*models.PreferenceVector, error) {
	v := &models.PreferenceVector{UserID: userID}
	err := r.db.QueryRow(ctx,
		`SELECT dims, updated_at FROM user_vectors WHERE user_id = $1`,
		userID).Scan(&v.Dims, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: vector for user %s", apperrors.ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vector: %w", err)
	}
	return v, nil
}

func (r *vectorRepository) GetBatch(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.PreferenceVector, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, dims, updated_at FROM user_vectors WHERE user_id = ANY($1)`,
		userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	defer rows.Close()

	vectors := make(map[uuid.UUID]*models.PreferenceVector, len(userIDs))
	for rows.Next() {
		v := &models.PreferenceVector{}
		if err := rows.Scan(&v.UserID, &v.Dims, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vectors[v.UserID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vectors: %w", err)
	}
	return vectors, nil
}

func (r *vectorRepository) Upsert(ctx context.Context, userID uuid.UUID, dims []float64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_vectors (user_id, dims, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET dims = EXCLUDED.dims, updated_at = now()`,
		userID, dims)
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}
