// Package merging collapses confirmed duplicate pairs into canonical leads
package merging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// LeadStore persists lead records
type LeadStore interface {
	Get(ctx context.Context, id string) (*models.LeadRecord, error)
	Update(ctx context.Context, lead *models.LeadRecord) (*models.LeadRecord, error)
	Tombstone(ctx context.Context, id, canonicalID string) error
	DB() database.DB
}

// PairStore reads and transitions duplicate pairs
type PairStore interface {
	Get(ctx context.Context, id string) (*models.DuplicatePair, error)
	ListOpenByLeadID(ctx context.Context, leadID string) ([]models.DuplicatePair, error)
	UpdateStatus(ctx context.Context, id string, status models.PairStatus, decidedBy string, fromStatuses ...models.PairStatus) error
}

// AuditStore appends decision records
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
}

// MergeEmitter publishes merge events after commit
type MergeEmitter interface {
	EmitLeadMerged(ctx context.Context, pair *models.DuplicatePair, decision *models.MergeDecision, result *models.LeadRecord) error
}

// Engine performs merges. The strategy decides which record becomes
// canonical: keep-primary and field-level keep the primary, keep-duplicate
// keeps the duplicate. Lead updates, the tombstone, the pair transition
// and the audit entry commit in one transaction.
type Engine struct {
	logger  ectologger.Logger
	leads   LeadStore
	pairs   PairStore
	audits  AuditStore
	emitter MergeEmitter
}

// NewEngine creates a new merge engine. The emitter may be nil.
func NewEngine(logger ectologger.Logger, leads LeadStore, pairs PairStore, audits AuditStore, emitter MergeEmitter) *Engine {
	return &Engine{
		logger:  logger,
		leads:   leads,
		pairs:   pairs,
		audits:  audits,
		emitter: emitter,
	}
}

// Merge resolves a pair with the requested strategy and returns the
// decision that was recorded
func (e *Engine) Merge(ctx context.Context, pairID string, req models.MergeRequest, actor string) (*models.MergeDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.Merge")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"pair_id":  pairID,
		"strategy": req.Strategy,
	})

	pair, err := e.pairs.Get(ctx, pairID)
	if err != nil {
		return nil, err
	}

	switch pair.Status {
	case models.PairStatusMerged:
		return nil, fmt.Errorf("pair %s: %w", pairID, models.ErrAlreadyMerged)
	case models.PairStatusIgnored:
		return nil, fmt.Errorf("pair %s is ignored: %w", pairID, models.ErrInvalidState)
	}

	primary, err := e.leads.Get(ctx, pair.PrimaryID)
	if err != nil {
		return nil, err
	}
	duplicate, err := e.leads.Get(ctx, pair.DuplicateID)
	if err != nil {
		return nil, err
	}

	// Either side tombstoned since detection means another merge won
	if primary.IsTombstoned() || duplicate.IsTombstoned() {
		return nil, fmt.Errorf("pair %s references a merged record: %w", pairID, models.ErrAlreadyMerged)
	}

	if err := validateRequest(req, primary, duplicate); err != nil {
		return nil, err
	}

	before, err := json.Marshal(models.PairSnapshot{Primary: *primary, Duplicate: *duplicate})
	if err != nil {
		return nil, err
	}

	survivor, absorbed := primary, duplicate
	if req.Strategy == models.MergeStrategyKeepDuplicate {
		survivor, absorbed = duplicate, primary
	}
	result := buildResult(req, survivor, absorbed)

	ctxTx, tx, err := e.leads.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctxTx)

	updated, err := e.leads.Update(ctxTx, result)
	if err != nil {
		return nil, err
	}

	if err := e.leads.Tombstone(ctxTx, absorbed.ID, updated.ID); err != nil {
		return nil, err
	}

	if err := e.pairs.UpdateStatus(ctxTx, pair.ID, models.PairStatusMerged, actor,
		models.PairStatusPending, models.PairStatusReviewed); err != nil {
		return nil, err
	}

	if err := e.closeCompetingPairs(ctxTx, absorbed.ID, actor); err != nil {
		return nil, err
	}

	after, err := json.Marshal(updated)
	if err != nil {
		return nil, err
	}

	if _, err := e.audits.Append(ctxTx, &models.AuditEntry{
		PairID:         pair.ID,
		Action:         models.AuditActionMerge,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		Actor:          actor,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	decision := &models.MergeDecision{
		PairID:          pair.ID,
		Strategy:        req.Strategy,
		FieldOverrides:  req.FieldOverrides,
		ResultingLeadID: updated.ID,
		PerformedAt:     time.Now().UTC(),
		PerformedBy:     actor,
	}

	log.WithFields(map[string]any{"resulting_lead_id": updated.ID}).Info("Merged duplicate pair")

	if e.emitter != nil {
		if err := e.emitter.EmitLeadMerged(ctx, pair, decision, updated); err != nil {
			log.WithError(err).Warn("Failed to emit merge event")
		}
	}

	return decision, nil
}

// closeCompetingPairs dismisses remaining open pairs referencing the
// absorbed record, each with its own audit entry. A tombstoned record
// can never be merged again, so leaving those pairs queued would only
// produce AlreadyMerged failures for the operator.
func (e *Engine) closeCompetingPairs(ctx context.Context, absorbedID, actor string) error {
	stale, err := e.pairs.ListOpenByLeadID(ctx, absorbedID)
	if err != nil {
		return err
	}

	for i := range stale {
		s := &stale[i]
		stalePrimary, err := e.leads.Get(ctx, s.PrimaryID)
		if err != nil {
			return err
		}
		staleDuplicate, err := e.leads.Get(ctx, s.DuplicateID)
		if err != nil {
			return err
		}
		before, err := json.Marshal(models.PairSnapshot{Primary: *stalePrimary, Duplicate: *staleDuplicate})
		if err != nil {
			return err
		}

		if err := e.pairs.UpdateStatus(ctx, s.ID, models.PairStatusIgnored, actor,
			models.PairStatusPending, models.PairStatusReviewed); err != nil {
			return err
		}
		if _, err := e.audits.Append(ctx, &models.AuditEntry{
			PairID:         s.ID,
			Action:         models.AuditActionIgnore,
			BeforeSnapshot: before,
			Actor:          actor,
		}); err != nil {
			return err
		}
	}
	return nil
}

func validateRequest(req models.MergeRequest, primary, duplicate *models.LeadRecord) error {
	switch req.Strategy {
	case models.MergeStrategyKeepPrimary, models.MergeStrategyKeepDuplicate:
		return nil
	case models.MergeStrategyFieldLevel:
	default:
		return fmt.Errorf("unknown merge strategy %q: %w", req.Strategy, models.ErrValidation)
	}

	for field, sourceID := range req.FieldOverrides {
		if !isComparable(field) {
			return fmt.Errorf("field %q cannot be overridden: %w", field, models.ErrValidation)
		}
		if sourceID != primary.ID && sourceID != duplicate.ID {
			return fmt.Errorf("override for %q references unknown record %q: %w", field, sourceID, models.ErrValidation)
		}
	}
	return nil
}

func isComparable(field models.Field) bool {
	for _, f := range models.ComparableFields {
		if f == field {
			return true
		}
	}
	return false
}

// buildResult computes the canonical record. It keeps the survivor's id
// and created_at; lead score is the max of the two and the absorbed
// record's full merge lineage is folded in.
func buildResult(req models.MergeRequest, survivor, absorbed *models.LeadRecord) *models.LeadRecord {
	result := *survivor

	if req.Strategy == models.MergeStrategyFieldLevel {
		for _, field := range models.ComparableFields {
			// No override keeps the survivor's value
			if sourceID, ok := req.FieldOverrides[field]; ok && sourceID == absorbed.ID {
				result.SetFieldValue(field, absorbed.FieldValue(field))
			}
		}
	}

	if absorbed.LeadScore > result.LeadScore {
		result.LeadScore = absorbed.LeadScore
	}

	result.MergedFromIDs = appendLineage(result.MergedFromIDs, absorbed)
	result.LastContactAt = latestContact(survivor.LastContactAt, absorbed.LastContactAt)

	return &result
}

func appendLineage(lineage models.StringList, absorbed *models.LeadRecord) models.StringList {
	seen := make(map[string]bool, len(lineage)+1)
	out := make(models.StringList, 0, len(lineage)+len(absorbed.MergedFromIDs)+1)
	for _, id := range lineage {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range append(models.StringList{absorbed.ID}, absorbed.MergedFromIDs...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func latestContact(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}
