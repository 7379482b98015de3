package services

import (
	"context"
	"errors"
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
)

// Decline actions configured via matching.decline_action.
const (
	DeclineActionBlock    = "block"
	DeclineActionCooldown = "cooldown"
)

// MatchService drives the suggestion lifecycle: member responses, expiry,
// and reads. Status transitions are guarded so concurrent responders and the
// expiry sweeper cannot clobber each other.
type MatchService interface {
	// GetByID returns one suggestion, applying lazy expiry first.
	GetByID(ctx context.Context, suggestionID, userID uuid.UUID) (*models.MatchSuggestion, error)
	// ListForUser returns the user's suggestions plus a total count.
	ListForUser(ctx context.Context, userID uuid.UUID, filters models.SuggestionFilters) ([]*models.MatchSuggestion, int, error)
	// Accept records one member's acceptance. The suggestion confirms when
	// every member has accepted.
	Accept(ctx context.Context, suggestionID, userID uuid.UUID) (*models.MatchSuggestion, error)
	// Decline terminates the suggestion for all members and records the
	// configured exclusion between the decliner and each other member.
	Decline(ctx context.Context, suggestionID, userID uuid.UUID) (*models.MatchSuggestion, error)
	// ExpireOverdue sweeps overdue actionable suggestions to expired.
	ExpireOverdue(ctx context.Context) (int64, error)
	// RunExpiryScheduler sweeps on the given interval until ctx is done.
	RunExpiryScheduler(ctx context.Context, interval time.Duration)
}

type matchService struct {
	suggestionRepo repositories.SuggestionRepository
	moderation     ModerationService
	cfg            *config.MatchingConfig
	bus            *events.Bus
	metrics        *metrics.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

func NewMatchService(
	suggestionRepo repositories.SuggestionRepository,
	moderation ModerationService,
	cfg *config.MatchingConfig,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) MatchService {
	return &matchService{
		suggestionRepo: suggestionRepo,
		moderation:     moderation,
		cfg:            cfg,
		bus:            bus,
		metrics:        m,
		logger:         logger.Named("match-service"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

var _ MatchService = (*matchService)(nil)

func (s *matchService) GetByID(ctx context.Context, suggestionID, userID uuid.UUID) (*models.MatchSuggestion, error) {
	suggestion, err := s.suggestionRepo.GetByID(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if !suggestion.IsMember(userID) {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrNotAMember)
	}
	s.applyLazyExpiry(ctx, suggestion)
	return suggestion, nil
}

func (s *matchService) ListForUser(ctx context.Context, userID uuid.UUID, filters models.SuggestionFilters) ([]*models.MatchSuggestion, int, error) {
	suggestions, total, err := s.suggestionRepo.ListForUser(ctx, userID, filters)
	if err != nil {
		return nil, 0, err
	}
	for _, suggestion := range suggestions {
		s.applyLazyExpiry(ctx, suggestion)
	}
	if !filters.IncludeExpired {
		kept := suggestions[:0]
		for _, suggestion := range suggestions {
			if suggestion.Status != models.StatusExpired {
				kept = append(kept, suggestion)
			}
		}
		suggestions = kept
	}
	return suggestions, total, nil
}

func (s *matchService) Accept(ctx context.Context, suggestionID, userID uuid.UUID) (*models.MatchSuggestion, error) {
	suggestion, err := s.loadActionable(ctx, suggestionID, userID)
	if err != nil {
		return nil, err
	}

	previous := suggestion.Status
	suggestion.RecordAcceptance(userID)

	err = s.suggestionRepo.UpdateStatus(ctx, suggestion, []string{models.StatusPending, models.StatusAccepted})
	if err != nil {
		return nil, err
	}

	s.metrics.SuggestionOutcomes.WithLabelValues(suggestion.Status).Inc()
	s.publishStatusChange(suggestion, previous, userID)

	if suggestion.Status == models.StatusConfirmed {
		s.logger.Info("Suggestion confirmed",
			zap.String("suggestion_id", suggestion.ID.String()),
			zap.Int("members", len(suggestion.MemberIDs)))
	}
	return suggestion, nil
}

func (s *matchService) Decline(ctx context.Context, suggestionID, userID uuid.UUID) (*models.MatchSuggestion, error) {
	suggestion, err := s.loadActionable(ctx, suggestionID, userID)
	if err != nil {
		return nil, err
	}

	previous := suggestion.Status
	suggestion.Status = models.StatusDeclined

	err = s.suggestionRepo.UpdateStatus(ctx, suggestion, []string{models.StatusPending, models.StatusAccepted})
	if err != nil {
		return nil, err
	}

	s.metrics.SuggestionOutcomes.WithLabelValues(models.StatusDeclined).Inc()
	s.publishStatusChange(suggestion, previous, userID)
	s.recordDeclineExclusions(ctx, suggestion, userID)

	return suggestion, nil
}

func (s *matchService) ExpireOverdue(ctx context.Context) (int64, error) {
	expired, err := s.suggestionRepo.ExpireOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.metrics.SuggestionOutcomes.WithLabelValues(models.StatusExpired).Add(float64(expired))
		s.logger.Info("Expired overdue suggestions", zap.Int64("count", expired))
	}
	return expired, nil
}

func (s *matchService) RunExpiryScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Expiry scheduler started", zap.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Expiry scheduler stopped")
				return
			case <-ticker.C:
				if _, err := s.ExpireOverdue(ctx); err != nil {
					s.logger.Error("Expiry sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// loadActionable loads a suggestion and verifies the caller may respond to
// it: caller is a member, suggestion is not terminal, deadline not passed.
func (s *matchService) loadActionable(ctx context.Context, suggestionID, userID uuid.UUID) (*models.MatchSuggestion, error) {
	suggestion, err := s.suggestionRepo.GetByID(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if !suggestion.IsMember(userID) {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrNotAMember)
	}
	if suggestion.IsTerminal() {
		return nil, fmt.Errorf("suggestion %s is %s: %w", suggestionID, suggestion.Status, apperrors.ErrAlreadyTerminal)
	}
	if suggestion.IsExpired(s.now()) {
		s.applyLazyExpiry(ctx, suggestion)
		return nil, fmt.Errorf("suggestion %s has expired: %w", suggestionID, apperrors.ErrAlreadyTerminal)
	}
	return suggestion, nil
}

// applyLazyExpiry transitions an overdue actionable suggestion to expired at
// read time, so readers never see an actionable suggestion past its
// deadline. The write is best-effort; losing the race to a responder just
// means their transition stands.
func (s *matchService) applyLazyExpiry(ctx context.Context, suggestion *models.MatchSuggestion) {
	if suggestion.IsTerminal() || !suggestion.IsExpired(s.now()) {
		return
	}
	previous := suggestion.Status
	suggestion.Status = models.StatusExpired

	err := s.suggestionRepo.UpdateStatus(ctx, suggestion, []string{models.StatusPending, models.StatusAccepted})
	if err != nil {
		if !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Warn("Lazy expiry write failed",
				zap.String("suggestion_id", suggestion.ID.String()),
				zap.Error(err))
		}
		return
	}
	s.metrics.SuggestionOutcomes.WithLabelValues(models.StatusExpired).Inc()
	s.publishStatusChange(suggestion, previous, uuid.Nil)
}

// recordDeclineExclusions writes the configured exclusion between the
// decliner and every other member. Failures are logged, not surfaced: the
// decline has already committed.
func (s *matchService) recordDeclineExclusions(ctx context.Context, suggestion *models.MatchSuggestion, decliner uuid.UUID) {
	for _, other := range suggestion.OtherMembers(decliner) {
		var err error
		switch s.cfg.DeclineAction {
		case DeclineActionBlock:
			_, err = s.moderation.Block(ctx, decliner, other)
		default:
			until := s.now().Add(time.Duration(s.cfg.CooldownHours) * time.Hour)
			_, err = s.moderation.Cooldown(ctx, decliner, other, until)
		}
		if err != nil {
			s.logger.Warn("Failed to record decline exclusion",
				zap.String("suggestion_id", suggestion.ID.String()),
				zap.String("decliner", decliner.String()),
				zap.String("other", other.String()),
				zap.Error(err))
		}
	}
}

func (s *matchService) publishStatusChange(suggestion *models.MatchSuggestion, previous string, actor uuid.UUID) {
	payload := map[string]any{
		"suggestion_id": suggestion.ID.String(),
		"from":          previous,
		"to":            suggestion.Status,
	}
	if actor != uuid.Nil {
		payload["actor"] = actor.String()
	}
	s.bus.Publish(events.Event{
		Type:    events.TypeStatusChanged,
		UserIDs: suggestion.MemberIDs,
		Payload: payload,
	})
}
