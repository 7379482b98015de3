package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/models"
)

// BlocklistRepository provides data access for pairwise exclusions.
type BlocklistRepository interface {
	// Upsert creates or re-activates a directional entry. A nil endedAt is a
	// hard block; a future endedAt is a cooldown. An upsert never weakens an
	// existing entry: a hard block stays hard, and of two cooldowns the later
	// end survives.
	Upsert(ctx context.Context, userID, blockedUserID uuid.UUID, endedAt *time.Time) (*models.BlocklistEntry, error)
	// IsExcluded reports whether an active entry exists in either direction.
	IsExcluded(ctx context.Context, a, b uuid.UUID) (bool, error)
	// ActiveExclusions returns, for the given users, every active excluded
	// unordered pair as a member key.
	ActiveExclusions(ctx context.Context, userIDs []uuid.UUID) (map[string]struct{}, error)
}

type blocklistRepository struct {
	db *database.DB
}

func NewBlocklistRepository(db *database.DB) BlocklistRepository {
	return &blocklistRepository{db: db}
}

var _ BlocklistRepository = (*blocklistRepository)(nil)

func (r *blocklistRepository) Upsert(ctx context.Context, userID, blockedUserID uuid.UUID, endedAt *time.Time) (*models.BlocklistEntry, error) {
	entry := &models.BlocklistEntry{UserID: userID, BlockedUserID: blockedUserID}
	// A cooldown landing on an existing hard block must not downgrade it:
	// NULL (permanent) wins, otherwise the later end survives.
	err := r.db.QueryRow(ctx, `
		INSERT INTO match_blocklist (user_id, blocked_user_id, ended_at)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT match_blocklist_pair
		DO UPDATE SET ended_at = CASE
			WHEN match_blocklist.ended_at IS NULL OR EXCLUDED.ended_at IS NULL THEN NULL
			ELSE GREATEST(match_blocklist.ended_at, EXCLUDED.ended_at)
		END
		RETURNING id, created_at, ended_at`,
		userID, blockedUserID, endedAt).Scan(&entry.ID, &entry.CreatedAt, &entry.EndedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert blocklist entry: %w", err)
	}
	return entry, nil
}

func (r *blocklistRepository) IsExcluded(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var excluded bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM match_blocklist
			WHERE ((user_id = $1 AND blocked_user_id = $2)
			    OR (user_id = $2 AND blocked_user_id = $1))
			  AND (ended_at IS NULL OR ended_at > now())
		)`, a, b).Scan(&excluded)
	if err != nil {
		return false, fmt.Errorf("failed to check exclusion: %w", err)
	}
	return excluded, nil
}

func (r *blocklistRepository) ActiveExclusions(ctx context.Context, userIDs []uuid.UUID) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, blocked_user_id FROM match_blocklist
		WHERE (user_id = ANY($1) OR blocked_user_id = ANY($1))
		  AND (ended_at IS NULL OR ended_at > now())`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load exclusions: %w", err)
	}
	defer rows.Close()

	exclusions := make(map[string]struct{})
	for rows.Next() {
		var a, b uuid.UUID
		if err := rows.Scan(&a, &b); err != nil {
			return nil, fmt.Errorf("failed to scan exclusion: %w", err)
		}
		exclusions[models.MemberKey([]uuid.UUID{a, b})] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exclusions: %w", err)
	}
	return exclusions, nil
}
