package models

import (
	"time"
)

// PairStatus is the lifecycle state of a duplicate pair
type PairStatus string

const (
	PairStatusPending  PairStatus = "pending"
	PairStatusReviewed PairStatus = "reviewed"
	PairStatusMerged   PairStatus = "merged"
	PairStatusIgnored  PairStatus = "ignored"
)

// IsTerminal reports whether the status permits no further transitions
func (s PairStatus) IsTerminal() bool {
	return s == PairStatusMerged || s == PairStatusIgnored
}

// RiskLevel buckets a confidence score for the review UI.
// The boundaries are deliberately constants, not config, so the
// high/medium/low buckets stay stable across weight tuning.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"

	riskHighMin   = 90
	riskMediumMin = 70
)

// RiskLevelFor derives the risk bucket for a confidence score
func RiskLevelFor(confidence int) RiskLevel {
	switch {
	case confidence >= riskHighMin:
		return RiskHigh
	case confidence >= riskMediumMin:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DuplicatePair is a scored candidate duplicate between two leads.
// Primary is always the earlier-created (or higher-score) record at
// detection time. At most one non-terminal pair exists per unordered
// {primary, duplicate} combination; re-detection updates it in place.
type DuplicatePair struct {
	ID             string     `json:"id" db:"id"`
	PrimaryID      string     `json:"primary_id" db:"primary_id"`
	DuplicateID    string     `json:"duplicate_id" db:"duplicate_id"`
	PerFieldScores ScoreMap   `json:"per_field_scores" db:"per_field_scores"`
	Confidence     int        `json:"confidence" db:"confidence"`
	RiskLevel      RiskLevel  `json:"risk_level" db:"risk_level"`
	MatchedFields  StringList `json:"matched_fields" db:"matched_fields"`
	Status         PairStatus `json:"status" db:"status"`
	DetectedAt     time.Time  `json:"detected_at" db:"detected_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	DecidedBy      *string    `json:"decided_by,omitempty" db:"decided_by"`
}

// ScanRequest triggers an on-demand duplicate scan
type ScanRequest struct {
	MinConfidence *int `json:"min_confidence,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// ScanSummary reports what a scan found
type ScanSummary struct {
	Scanned int               `json:"scanned"`
	Found   int               `json:"found"`
	ByRisk  map[RiskLevel]int `json:"by_risk"`
}

// PairFilter narrows queue listings; criteria intersect (AND semantics)
type PairFilter struct {
	Status     PairStatus
	RiskLevel  RiskLevel
	SearchTerm string
	Limit      int
}

// PairListResponse is the response for listing duplicate pairs
type PairListResponse struct {
	Items      []DuplicatePair `json:"items"`
	TotalCount int             `json:"total_count"`
}
