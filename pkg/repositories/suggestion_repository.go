package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

const suggestionColumns = `id, run_id, kind, member_ids, member_key, fit_score, fit_index,
	status, accepted_by, variant, experiment_id, university_id, expires_at, created_at, updated_at`

// GenerationRunRecord summarizes one persisted generation batch.
type GenerationRunRecord struct {
	RunID        string
	Kind         string
	CohortSize   int
	CreatedCount int
	Skipped      []string
}

// SuggestionRepository provides data access for match suggestions.
type SuggestionRepository interface {
	// Create inserts a pending suggestion. Returns apperrors.ErrConflict
	// when an active suggestion with the same member key already exists.
	Create(ctx context.Context, s *models.MatchSuggestion) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MatchSuggestion, error)
	// UpdateStatus performs a conditional write: the row is updated only if
	// its current status is one of expectedStatuses. Returns
	// apperrors.ErrConflict when the guard fails.
	UpdateStatus(ctx context.Context, s *models.MatchSuggestion, expectedStatuses []string) error
	ListForUser(ctx context.Context, userID uuid.UUID, filters models.SuggestionFilters) ([]*models.MatchSuggestion, int, error)
	// ActiveMemberKeys returns the member keys of non-terminal suggestions
	// touching any of the given users.
	ActiveMemberKeys(ctx context.Context, userIDs []uuid.UUID) (map[string]struct{}, error)
	// DeclinedMemberKeys returns member keys of previously declined
	// suggestions touching any of the given users, to avoid re-proposing.
	DeclinedMemberKeys(ctx context.Context, userIDs []uuid.UUID) (map[string]struct{}, error)
	// ExpireOverdue marks overdue pending/accepted suggestions expired and
	// returns how many rows changed.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	SaveRun(ctx context.Context, run *GenerationRunRecord) error
	// VariantOutcomes returns per-variant status counts for one experiment.
	VariantOutcomes(ctx context.Context, experimentID uuid.UUID) (map[string]map[string]int, error)
}

type suggestionRepository struct {
	db *database.DB
}

func NewSuggestionRepository(db *database.DB) SuggestionRepository {
	return &suggestionRepository{db: db}
}

var _ SuggestionRepository = (*suggestionRepository)(nil)

func (r *suggestionRepository) Create(ctx context.Context, s *models.MatchSuggestion) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO match_suggestions
			(id, run_id, kind, member_ids, member_key, fit_score, fit_index,
			 status, accepted_by, variant, experiment_id, university_id,
			 expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.RunID, s.Kind, s.MemberIDs, s.MemberKey, s.FitScore, s.FitIndex,
		s.Status, s.AcceptedBy, nullableString(s.Variant), s.ExperimentID, s.UniversityID,
		s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: active suggestion exists for members %s", apperrors.ErrConflict, s.MemberKey)
		}
		return fmt.Errorf("failed to insert suggestion: %w", err)
	}
	return nil
}

func (r *suggestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.MatchSuggestion, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM match_suggestions WHERE id = $1`, suggestionColumns), id)
	s, err := scanSuggestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: suggestion %s", apperrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *suggestionRepository) UpdateStatus(ctx context.Context, s *models.MatchSuggestion, expectedStatuses []string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE match_suggestions
		SET status = $1, accepted_by = $2, updated_at = now()
		WHERE id = $3 AND status = ANY($4)`,
		s.Status, s.AcceptedBy, s.ID, expectedStatuses)
	if err != nil {
		return fmt.Errorf("failed to update suggestion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: suggestion %s changed concurrently", apperrors.ErrConflict, s.ID)
	}
	return nil
}

func (r *suggestionRepository) ListForUser(ctx context.Context, userID uuid.UUID, filters models.SuggestionFilters) ([]*models.MatchSuggestion, int, error) {
	limit, offset := normalizePageParams(filters.Limit, filters.Offset)

	where := `member_ids @> ARRAY[$1]::uuid[]`
	args := []any{userID}
	if !filters.IncludeExpired {
		where += ` AND status <> 'expired' AND expires_at > now()`
	}

	// Total is counted before the fit-index floor is applied. The floor only
	// narrows the returned page, so total is an upper bound; this documented
	// approximation is part of the pagination contract.
	var total int
	if err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM match_suggestions WHERE %s`, where),
		args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count suggestions: %w", err)
	}

	dataQuery := fmt.Sprintf(`
		SELECT %s FROM match_suggestions
		WHERE %s AND fit_index >= $2
		ORDER BY fit_index DESC, created_at DESC
		LIMIT $3 OFFSET $4`, suggestionColumns, where)

	rows, err := r.db.Query(ctx, dataQuery, userID, filters.MinFitIndex, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*models.MatchSuggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, 0, err
		}
		suggestions = append(suggestions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating suggestions: %w", err)
	}
	return suggestions, total, nil
}

func (r *suggestionRepository) ActiveMemberKeys(ctx context.Context, userIDs []uuid.UUID) (map[string]struct{}, error) {
	return r.memberKeys(ctx, userIDs, []string{models.StatusPending, models.StatusAccepted, models.StatusConfirmed})
}

func (r *suggestionRepository) DeclinedMemberKeys(ctx context.Context, userIDs []uuid.UUID) (map[string]struct{}, error) {
	return r.memberKeys(ctx, userIDs, []string{models.StatusDeclined})
}

func (r *suggestionRepository) memberKeys(ctx context.Context, userIDs []uuid.UUID, statuses []string) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT member_key FROM match_suggestions
		WHERE status = ANY($1) AND member_ids && $2::uuid[]`,
		statuses, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load member keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan member key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member keys: %w", err)
	}
	return keys, nil
}

func (r *suggestionRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE match_suggestions
		SET status = 'expired', updated_at = now()
		WHERE status IN ('pending', 'accepted') AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire suggestions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *suggestionRepository) SaveRun(ctx context.Context, run *GenerationRunRecord) error {
	skipped, err := json.Marshal(run.Skipped)
	if err != nil {
		return fmt.Errorf("failed to marshal skipped users: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO match_runs (run_id, kind, cohort_size, created_count, skipped)
		VALUES ($1, $2, $3, $4, $5)`,
		run.RunID, run.Kind, run.CohortSize, run.CreatedCount, skipped)
	if err != nil {
		return fmt.Errorf("failed to save match run: %w", err)
	}
	return nil
}

func (r *suggestionRepository) VariantOutcomes(ctx context.Context, experimentID uuid.UUID) (map[string]map[string]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT variant, status, COUNT(*)
		FROM match_suggestions
		WHERE experiment_id = $1 AND variant IS NOT NULL
		GROUP BY variant, status`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate variant outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make(map[string]map[string]int)
	for rows.Next() {
		var variant, status string
		var count int
		if err := rows.Scan(&variant, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan variant outcome: %w", err)
		}
		if outcomes[variant] == nil {
			outcomes[variant] = make(map[string]int)
		}
		outcomes[variant][status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variant outcomes: %w", err)
	}
	return outcomes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuggestion(row rowScanner) (*models.MatchSuggestion, error) {
	s := &models.MatchSuggestion{}
	var variant *string
	err := row.Scan(&s.ID, &s.RunID, &s.Kind, &s.MemberIDs, &s.MemberKey, &s.FitScore,
		&s.FitIndex, &s.Status, &s.AcceptedBy, &variant, &s.ExperimentID, &s.UniversityID,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan suggestion: %w", err)
	}
	if variant != nil {
		s.Variant = *variant
	}
	return s, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func normalizePageParams(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
