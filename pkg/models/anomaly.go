package models

import "time"

// Anomaly severities, threshold-ordered.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityRank returns the ordering of a severity; unknown severities rank
// below low.
func SeverityRank(severity string) int {
	return severityRank[severity]
}

// Anomaly types, one per monitored pipeline.
const (
	AnomalyVerification  = "verification"
	AnomalyMatching      = "matching"
	AnomalyJobProcessing = "job_processing"
)

// ValidAnomalyType reports whether t names a monitored pipeline.
func ValidAnomalyType(t string) bool {
	switch t {
	case AnomalyVerification, AnomalyMatching, AnomalyJobProcessing:
		return true
	}
	return false
}

// ExpectedRange is the band a metric is expected to stay within.
type ExpectedRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// AnomalyRecord is one classified metric deviation produced by a scan.
// Records are ephemeral unless a scan explicitly persists them.
type AnomalyRecord struct {
	Type          string        `json:"type"`
	Severity      string        `json:"severity"`
	Metric        string        `json:"metric"`
	ObservedValue float64       `json:"observed_value"`
	ExpectedRange ExpectedRange `json:"expected_range"`
	PeriodHours   int           `json:"period_hours"`
	Description   string        `json:"description"`
	DetectedAt    time.Time     `json:"detected_at"`
}
