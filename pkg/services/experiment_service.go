package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
)

// ExperimentService manages scoring experiments and variant assignment.
// Assignments are immutable: once a user is assigned, every later call
// returns the same variant.
type ExperimentService interface {
	// Create validates the traffic split and stores the experiment.
	Create(ctx context.Context, experiment *models.Experiment) error
	Get(ctx context.Context, id uuid.UUID) (*models.Experiment, error)
	// ActiveFor returns the first running experiment scoped to the given
	// university (or global), or nil when none is running.
	ActiveFor(ctx context.Context, universityID *uuid.UUID) (*models.Experiment, error)
	// ListActive returns every running experiment visible to the given
	// university; a nil universityID lists all of them.
	ListActive(ctx context.Context, universityID *uuid.UUID) ([]*models.Experiment, error)
	// Assign returns the user's variant, creating the assignment on first
	// call. Deterministic experiments hash the user ID; random experiments
	// draw once and persist the draw.
	Assign(ctx context.Context, experiment *models.Experiment, userID uuid.UUID) (*models.ExperimentAssignment, error)
	// Metrics returns per-variant assignment counts and suggestion outcomes.
	Metrics(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentMetrics, error)
}

type experimentService struct {
	experimentRepo repositories.ExperimentRepository
	suggestionRepo repositories.SuggestionRepository
	cfg            *config.ExperimentConfig
	logger         *zap.Logger
}

func NewExperimentService(
	experimentRepo repositories.ExperimentRepository,
	suggestionRepo repositories.SuggestionRepository,
	cfg *config.ExperimentConfig,
	logger *zap.Logger,
) ExperimentService {
	return &experimentService{
		experimentRepo: experimentRepo,
		suggestionRepo: suggestionRepo,
		cfg:            cfg,
		logger:         logger.Named("experiment-service"),
	}
}

var _ ExperimentService = (*experimentService)(nil)

func (s *experimentService) Create(ctx context.Context, experiment *models.Experiment) error {
	if experiment.Name == "" {
		return fmt.Errorf("%w: experiment name must not be empty", apperrors.ErrValidation)
	}
	if experiment.AssignmentMethod != models.AssignmentDeterministic &&
		experiment.AssignmentMethod != models.AssignmentRandom {
		return fmt.Errorf("%w: unknown assignment method %q", apperrors.ErrValidation, experiment.AssignmentMethod)
	}
	if experiment.Status == "" {
		experiment.Status = models.ExperimentStatusActive
	}
	if err := experiment.ValidateSplit(s.cfg.SplitTolerance); err != nil {
		return err
	}

	if err := s.experimentRepo.Create(ctx, experiment); err != nil {
		return err
	}
	s.logger.Info("Experiment created",
		zap.String("experiment_id", experiment.ID.String()),
		zap.String("name", experiment.Name),
		zap.Int("variants", len(experiment.Variants)))
	return nil
}

func (s *experimentService) Get(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	return s.experimentRepo.GetByID(ctx, id)
}

func (s *experimentService) ActiveFor(ctx context.Context, universityID *uuid.UUID) (*models.Experiment, error) {
	experiments, err := s.experimentRepo.ListActive(ctx, universityID)
	if err != nil {
		return nil, err
	}
	if len(experiments) == 0 {
		return nil, nil
	}
	return experiments[0], nil
}

func (s *experimentService) ListActive(ctx context.Context, universityID *uuid.UUID) ([]*models.Experiment, error) {
	return s.experimentRepo.ListActive(ctx, universityID)
}

func (s *experimentService) Assign(ctx context.Context, experiment *models.Experiment, userID uuid.UUID) (*models.ExperimentAssignment, error) {
	existing, err := s.experimentRepo.GetAssignment(ctx, experiment.ID, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	variant := s.pickVariant(experiment, userID)
	return s.experimentRepo.CreateAssignment(ctx, experiment.ID, userID, variant)
}

func (s *experimentService) Metrics(ctx context.Context, experimentID uuid.UUID) (*models.ExperimentMetrics, error) {
	experiment, err := s.experimentRepo.GetByID(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	counts, err := s.experimentRepo.CountAssignmentsByVariant(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.suggestionRepo.VariantOutcomes(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	result := &models.ExperimentMetrics{
		ExperimentID: experimentID,
		ByVariant:    make(map[string]models.VariantMetrics, len(experiment.Variants)),
	}
	for _, variant := range experiment.Variants {
		vm := models.VariantMetrics{Users: counts[variant.Name]}
		for status, count := range outcomes[variant.Name] {
			vm.Proposed += count
			switch status {
			case models.StatusAccepted:
				vm.Accepted += count
			case models.StatusDeclined:
				vm.Declined += count
			case models.StatusConfirmed:
				vm.Confirmed += count
			}
		}
		if vm.Proposed > 0 {
			vm.ConversionRate = float64(vm.Confirmed) / float64(vm.Proposed)
		}
		result.TotalUsers += vm.Users
		result.ByVariant[variant.Name] = vm
	}
	return result, nil
}

// pickVariant maps a user onto the cumulative traffic split. Deterministic
// experiments hash "userID:experimentID" so the same user always lands in
// the same bucket; random experiments draw fresh (the draw is then persisted
// and never repeated).
func (s *experimentService) pickVariant(experiment *models.Experiment, userID uuid.UUID) string {
	var bucket float64
	switch experiment.AssignmentMethod {
	case models.AssignmentRandom:
		bucket = rand.Float64() * 100
	default:
		h := fnv.New32a()
		fmt.Fprintf(h, "%s:%s", userID, experiment.ID)
		bucket = float64(h.Sum32() % 100)
	}

	var cumulative float64
	for _, variant := range experiment.Variants {
		cumulative += experiment.TrafficSplit[variant.Name]
		if bucket < cumulative {
			return variant.Name
		}
	}
	// Rounding in the split can leave a sliver at the top of the range.
	return experiment.Variants[len(experiment.Variants)-1].Name
}
