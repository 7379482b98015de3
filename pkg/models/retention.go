package models

import (
	"time"

	"github.com/google/uuid"
)

// RetentionReport is the day-bucketed retention of one confirmed-match
// cohort. Percentages is keyed "day_1", "day_7", ... per configured horizon.
type RetentionReport struct {
	CohortDate   time.Time          `json:"cohort_date"`
	UniversityID *uuid.UUID         `json:"university_id,omitempty"`
	CohortSize   int                `json:"cohort_size"`
	Percentages  map[string]float64 `json:"percentages"`
	ComputedAt   time.Time          `json:"computed_at"`
}
