package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AdminTLI/roommatematch-sub010/pkg/apperrors"
)

// Suggestion kinds.
const (
	KindPair  = "pair"
	KindGroup = "group"
)

// Suggestion statuses. Confirmed, declined and expired are terminal.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusConfirmed = "confirmed"
	StatusDeclined  = "declined"
	StatusExpired   = "expired"
)

// MatchSuggestion is a proposed pairing or grouping awaiting member responses.
type MatchSuggestion struct {
	ID           uuid.UUID   `json:"id"`
	RunID        string      `json:"run_id"`
	Kind         string      `json:"kind"`
	MemberIDs    []uuid.UUID `json:"member_ids"`
	MemberKey    string      `json:"-"`
	FitScore     float64     `json:"fit_score"`
	FitIndex     int         `json:"fit_index"`
	Status       string      `json:"status"`
	AcceptedBy   []uuid.UUID `json:"accepted_by"`
	Variant      string      `json:"variant,omitempty"`
	ExperimentID *uuid.UUID  `json:"experiment_id,omitempty"`
	UniversityID *uuid.UUID  `json:"university_id,omitempty"`
	ExpiresAt    time.Time   `json:"expires_at"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// MemberKey returns the uniqueness key for an unordered member set: the
// sorted, joined member-ID list.
func MemberKey(memberIDs []uuid.UUID) string {
	ids := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		ids[i] = id.String()
	}
	slices.Sort(ids)
	return strings.Join(ids, "::")
}

// NewMatchSuggestion constructs a pending suggestion and enforces the
// structural invariants from the data model: pair = exactly 2 members,
// group = 3 or more, no duplicate members, fit score in [0,1].
func NewMatchSuggestion(runID, kind string, memberIDs []uuid.UUID, fitScore float64, fitIndex int, expiresAt time.Time) (*MatchSuggestion, error) {
	switch kind {
	case KindPair:
		if len(memberIDs) != 2 {
			return nil, fmt.Errorf("%w: pair suggestion requires exactly 2 members, got %d", apperrors.ErrValidation, len(memberIDs))
		}
	case KindGroup:
		if len(memberIDs) < 3 {
			return nil, fmt.Errorf("%w: group suggestion requires at least 3 members, got %d", apperrors.ErrValidation, len(memberIDs))
		}
	default:
		return nil, fmt.Errorf("%w: unknown suggestion kind %q", apperrors.ErrValidation, kind)
	}

	seen := make(map[uuid.UUID]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if id == uuid.Nil {
			return nil, fmt.Errorf("%w: member ID must not be nil", apperrors.ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate member %s", apperrors.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}

	if fitScore < 0 || fitScore > 1 {
		return nil, fmt.Errorf("%w: fit score %f outside [0,1]", apperrors.ErrValidation, fitScore)
	}

	now := time.Now().UTC()
	return &MatchSuggestion{
		ID:         uuid.New(),
		RunID:      runID,
		Kind:       kind,
		MemberIDs:  memberIDs,
		MemberKey:  MemberKey(memberIDs),
		FitScore:   fitScore,
		FitIndex:   fitIndex,
		Status:     StatusPending,
		AcceptedBy: []uuid.UUID{},
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Validate checks the invariants of a loaded suggestion. Rows that violate
// acceptedBy ⊆ memberIds or the confirmed ⟺ all-accepted rule are rejected
// instead of trusted.
func (s *MatchSuggestion) Validate() error {
	for _, id := range s.AcceptedBy {
		if !s.IsMember(id) {
			return fmt.Errorf("%w: accepted_by contains non-member %s", apperrors.ErrValidation, id)
		}
	}
	allAccepted := len(s.AcceptedBy) == len(s.MemberIDs)
	if s.Status == StatusConfirmed && !allAccepted {
		return fmt.Errorf("%w: confirmed suggestion %s missing acceptances", apperrors.ErrValidation, s.ID)
	}
	if s.Status != StatusConfirmed && allAccepted && len(s.MemberIDs) > 0 && s.Status != StatusDeclined && s.Status != StatusExpired {
		return fmt.Errorf("%w: fully accepted suggestion %s not confirmed", apperrors.ErrValidation, s.ID)
	}
	return nil
}

// IsMember reports whether userID belongs to the suggestion.
func (s *MatchSuggestion) IsMember(userID uuid.UUID) bool {
	return slices.Contains(s.MemberIDs, userID)
}

// IsTerminal reports whether no further member actions are possible.
func (s *MatchSuggestion) IsTerminal() bool {
	return s.Status == StatusConfirmed || s.Status == StatusDeclined || s.Status == StatusExpired
}

// IsExpired reports whether the suggestion is past its deadline. Confirmed
// suggestions never expire.
func (s *MatchSuggestion) IsExpired(now time.Time) bool {
	if s.Status == StatusConfirmed {
		return false
	}
	return s.Status == StatusExpired || now.After(s.ExpiresAt)
}

// RecordAcceptance adds userID to acceptedBy (idempotent) and recomputes the
// status: confirmed when every member has accepted, accepted otherwise.
func (s *MatchSuggestion) RecordAcceptance(userID uuid.UUID) {
	if !slices.Contains(s.AcceptedBy, userID) {
		s.AcceptedBy = append(s.AcceptedBy, userID)
	}
	if len(s.AcceptedBy) == len(s.MemberIDs) {
		s.Status = StatusConfirmed
	} else {
		s.Status = StatusAccepted
	}
}

// OtherMembers returns every member except userID.
func (s *MatchSuggestion) OtherMembers(userID uuid.UUID) []uuid.UUID {
	others := make([]uuid.UUID, 0, len(s.MemberIDs)-1)
	for _, id := range s.MemberIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// SuggestionFilters narrows ListForUser queries.
type SuggestionFilters struct {
	IncludeExpired bool
	MinFitIndex    int
	Limit          int
	Offset         int
}
