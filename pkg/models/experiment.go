package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
)

// Experiment statuses.
const (
	ExperimentStatusDraft     = "draft"
	ExperimentStatusActive    = "active"
	ExperimentStatusPaused    = "paused"
	ExperimentStatusCompleted = "completed"
	ExperimentStatusArchived  = "archived"
)

// Assignment methods.
const (
	AssignmentDeterministic = "deterministic"
	AssignmentRandom        = "random"
)

// Variant is a named configuration of the scoring algorithm under evaluation.
// Config carries scoring weight overrides applied when the variant is active.
type Variant struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Config      map[string]float64 `json:"config,omitempty"`
}

// Experiment is a controlled rollout of scoring configurations across a
// user population.
type Experiment struct {
	ID               uuid.UUID          `json:"id"`
	Name             string             `json:"experiment_name"`
	Description      string             `json:"description,omitempty"`
	Status           string             `json:"status"`
	Variants         []Variant          `json:"variants"`
	TrafficSplit     map[string]float64 `json:"traffic_split"`
	AssignmentMethod string             `json:"assignment_method"`
	UniversityID     *uuid.UUID         `json:"university_id,omitempty"`
	StartDate        *time.Time         `json:"start_date,omitempty"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ValidateSplit enforces the creation-time invariant: every variant has a
// split entry, no stray entries, and the entries sum to 100 within tolerance.
func (e *Experiment) ValidateSplit(tolerance float64) error {
	if len(e.Variants) == 0 {
		return fmt.Errorf("%w: experiment requires at least one variant", apperrors.ErrValidation)
	}

	names := make(map[string]struct{}, len(e.Variants))
	for _, v := range e.Variants {
		if v.Name == "" {
			return fmt.Errorf("%w: variant name must not be empty", apperrors.ErrValidation)
		}
		if _, dup := names[v.Name]; dup {
			return fmt.Errorf("%w: duplicate variant %q", apperrors.ErrValidation, v.Name)
		}
		names[v.Name] = struct{}{}
		if _, ok := e.TrafficSplit[v.Name]; !ok {
			return fmt.Errorf("%w: variant %q missing from traffic split", apperrors.ErrInvalidSplit, v.Name)
		}
	}

	var sum float64
	for name, weight := range e.TrafficSplit {
		if _, ok := names[name]; !ok {
			return fmt.Errorf("%w: traffic split references unknown variant %q", apperrors.ErrInvalidSplit, name)
		}
		if weight < 0 {
			return fmt.Errorf("%w: negative weight for variant %q", apperrors.ErrInvalidSplit, name)
		}
		sum += weight
	}
	if math.Abs(sum-100) > tolerance {
		return fmt.Errorf("%w: weights sum to %g", apperrors.ErrInvalidSplit, sum)
	}
	return nil
}

// VariantByName returns the named variant, if present.
func (e *Experiment) VariantByName(name string) (Variant, bool) {
	for _, v := range e.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// IsRunning reports whether the experiment accepts assignments at the given
// time: active status, started, and not yet ended.
func (e *Experiment) IsRunning(now time.Time) bool {
	if e.Status != ExperimentStatusActive {
		return false
	}
	if e.StartDate != nil && now.Before(*e.StartDate) {
		return false
	}
	if e.EndDate != nil && now.After(*e.EndDate) {
		return false
	}
	return true
}

// ExperimentAssignment is the immutable record of a user's variant.
type ExperimentAssignment struct {
	ID           uuid.UUID `json:"id"`
	ExperimentID uuid.UUID `json:"experiment_id"`
	UserID       uuid.UUID `json:"user_id"`
	Variant      string    `json:"variant"`
	CreatedAt    time.Time `json:"created_at"`
}

// VariantMetrics aggregates suggestion outcomes for one variant.
type VariantMetrics struct {
	Users          int     `json:"users"`
	Proposed       int     `json:"proposed"`
	Accepted       int     `json:"accepted"`
	Declined       int     `json:"declined"`
	Confirmed      int     `json:"confirmed"`
	ConversionRate float64 `json:"conversion_rate"`
}

// ExperimentMetrics is the per-variant outcome rollup for one experiment.
type ExperimentMetrics struct {
	ExperimentID uuid.UUID                 `json:"experiment_id"`
	TotalUsers   int                       `json:"total_users"`
	ByVariant    map[string]VariantMetrics `json:"by_variant"`
}
