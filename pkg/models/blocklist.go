package models

import (
	"time"

	"github.com/google/uuid"
)

// BlocklistEntry is a directional exclusion between two users. An entry with
// a nil EndedAt (or an EndedAt in the future, for cooldowns) excludes the
// pair from matching in both directions.
type BlocklistEntry struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	BlockedUserID uuid.UUID  `json:"blocked_user_id"`
	CreatedAt     time.Time  `json:"created_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// IsActive reports whether the entry currently excludes the pair.
func (e *BlocklistEntry) IsActive(now time.Time) bool {
	return e.EndedAt == nil || e.EndedAt.After(now)
}

// Report categories accepted from users.
const (
	ReportCategorySpam          = "spam"
	ReportCategoryHarassment    = "harassment"
	ReportCategoryInappropriate = "inappropriate"
	ReportCategoryOther         = "other"
)

// ValidReportCategory reports whether category is one of the accepted values.
func ValidReportCategory(category string) bool {
	switch category {
	case ReportCategorySpam, ReportCategoryHarassment, ReportCategoryInappropriate, ReportCategoryOther:
		return true
	}
	return false
}

// Report is a user report against another user. AutoBlocked is set on the
// report that crossed the repeated-report threshold.
type Report struct {
	ID           uuid.UUID  `json:"id"`
	ReporterID   uuid.UUID  `json:"reporter_id"`
	TargetUserID uuid.UUID  `json:"target_user_id"`
	Category     string     `json:"category"`
	MessageID    *uuid.UUID `json:"message_id,omitempty"`
	Details      string     `json:"details,omitempty"`
	AutoBlocked  bool       `json:"auto_blocked"`
	CreatedAt    time.Time  `json:"created_at"`
}
