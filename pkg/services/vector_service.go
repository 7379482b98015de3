package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
)

// VectorService manages user preference vectors.
type VectorService interface {
	// Get returns the stored vector for a user.
	Get(ctx context.Context, userID uuid.UUID) (*models.PreferenceVector, error)
	// UpsertFromAnswers derives a vector from questionnaire answers and
	// stores it, replacing any previous vector for the user.
	UpsertFromAnswers(ctx context.Context, userID uuid.UUID, answers map[string]float64) (*models.PreferenceVector, error)
	// UpsertDims stores a pre-computed vector. The dimension count must
	// match the questionnaire layout.
	UpsertDims(ctx context.Context, userID uuid.UUID, dims []float64) error
}

type vectorService struct {
	vectorRepo repositories.VectorRepository
	logger     *zap.Logger
}

func NewVectorService(vectorRepo repositories.VectorRepository, logger *zap.Logger) VectorService {
	return &vectorService{
		vectorRepo: vectorRepo,
		logger:     logger.Named("vector-service"),
	}
}

var _ VectorService = (*vectorService)(nil)

func (s *vectorService) Get(ctx context.Context, userID uuid.UUID) (*models.PreferenceVector, error) {
	return s.vectorRepo.Get(ctx, userID)
}

func (s *vectorService) UpsertFromAnswers(ctx context.Context, userID uuid.UUID, answers map[string]float64) (*models.PreferenceVector, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user ID must not be nil", apperrors.ErrValidation)
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: answers must not be empty", apperrors.ErrValidation)
	}

	dims := models.VectorFromAnswers(answers)
	if err := s.vectorRepo.Upsert(ctx, userID, dims); err != nil {
		return nil, err
	}

	s.logger.Debug("Stored preference vector",
		zap.String("user_id", userID.String()),
		zap.Int("answers", len(answers)))

	return s.vectorRepo.Get(ctx, userID)
}

func (s *vectorService) UpsertDims(ctx context.Context, userID uuid.UUID, dims []float64) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user ID must not be nil", apperrors.ErrValidation)
	}
	if len(dims) != models.VectorDimensions {
		return fmt.Errorf("%w: expected %d dimensions, got %d", apperrors.ErrValidation, models.VectorDimensions, len(dims))
	}
	return s.vectorRepo.Upsert(ctx, userID, dims)
}
