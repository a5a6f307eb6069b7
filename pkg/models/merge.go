package models

import (
	"encoding/json"
	"time"
)

// MergeStrategyType defines how a pair is collapsed into one canonical lead
type MergeStrategyType string

const (
	// MergeStrategyKeepPrimary keeps the primary's scalar fields
	MergeStrategyKeepPrimary MergeStrategyType = "keep-primary"
	// MergeStrategyKeepDuplicate keeps the duplicate's scalar fields
	MergeStrategyKeepDuplicate MergeStrategyType = "keep-duplicate"
	// MergeStrategyFieldLevel sources each field per explicit overrides
	MergeStrategyFieldLevel MergeStrategyType = "field-level"
)

// MergeRequest is the API payload for merging a pair
type MergeRequest struct {
	Strategy       MergeStrategyType `json:"strategy" validate:"required,oneof=keep-primary keep-duplicate field-level"`
	FieldOverrides map[Field]string  `json:"field_overrides,omitempty"`
}

// MergeDecision records the operator's (or policy's) merge choice
type MergeDecision struct {
	PairID          string            `json:"pair_id"`
	Strategy        MergeStrategyType `json:"strategy"`
	FieldOverrides  map[Field]string  `json:"field_overrides,omitempty"` // field -> source record id
	ResultingLeadID string            `json:"resulting_lead_id"`
	PerformedAt     time.Time         `json:"performed_at"`
	PerformedBy     string            `json:"performed_by"`
}

// MergeResponse is returned by the merge endpoint
type MergeResponse struct {
	ResultingLeadID string `json:"resulting_lead_id"`
}

// AuditAction is the kind of decision an audit entry records
type AuditAction string

const (
	AuditActionMerge      AuditAction = "merge"
	AuditActionIgnore     AuditAction = "ignore"
	AuditActionReevaluate AuditAction = "re_evaluate"
)

// AuditEntry is an immutable, append-only record of a terminal pair decision.
// BeforeSnapshot holds both records as they existed pre-decision;
// AfterSnapshot holds the resulting record, or null for ignore/re-evaluate.
type AuditEntry struct {
	ID             string          `json:"id" db:"id"`
	PairID         string          `json:"pair_id" db:"pair_id"`
	Action         AuditAction     `json:"action" db:"action"`
	BeforeSnapshot json.RawMessage `json:"before_snapshot" db:"before_snapshot"`
	AfterSnapshot  json.RawMessage `json:"after_snapshot,omitempty" db:"after_snapshot"`
	Actor          string          `json:"actor" db:"actor"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// PairSnapshot is the before-image stored on every audit entry
type PairSnapshot struct {
	Primary   LeadRecord `json:"primary"`
	Duplicate LeadRecord `json:"duplicate"`
}
