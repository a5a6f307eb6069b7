// Package review backs the admin console's duplicate review queue
package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// PairStore reads and transitions duplicate pairs
type PairStore interface {
	Get(ctx context.Context, id string) (*models.DuplicatePair, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.DuplicatePair, error)
	GetLatestByLeadPair(ctx context.Context, leadAID, leadBID string) (*models.DuplicatePair, error)
	List(ctx context.Context, filter models.PairFilter) ([]models.DuplicatePair, error)
	Create(ctx context.Context, pair *models.DuplicatePair) (*models.DuplicatePair, error)
	UpdateStatus(ctx context.Context, id string, status models.PairStatus, decidedBy string, fromStatuses ...models.PairStatus) error
	DB() database.DB
}

// LeadStore reads lead records for snapshots and display names
type LeadStore interface {
	Get(ctx context.Context, id string) (*models.LeadRecord, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.LeadRecord, error)
}

// AuditStore appends and lists decision records
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
	ListByPair(ctx context.Context, pairID string) ([]models.AuditEntry, error)
}

// IgnoreEmitter publishes ignore events
type IgnoreEmitter interface {
	EmitPairIgnored(ctx context.Context, pair *models.DuplicatePair, actor string) error
}

// Service implements review queue operations
type Service struct {
	logger  ectologger.Logger
	pairs   PairStore
	leads   LeadStore
	audits  AuditStore
	emitter IgnoreEmitter
}

// NewService creates a new review service. The emitter may be nil.
func NewService(logger ectologger.Logger, pairs PairStore, leads LeadStore, audits AuditStore, emitter IgnoreEmitter) *Service {
	return &Service{
		logger:  logger,
		pairs:   pairs,
		leads:   leads,
		audits:  audits,
		emitter: emitter,
	}
}

// List returns pairs matching the filter. Filters intersect; an empty
// filter returns the newest pairs by confidence.
func (s *Service) List(ctx context.Context, filter models.PairFilter) (*models.PairListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.List")
	defer span.End()

	pairs, err := s.pairs.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &models.PairListResponse{
		Items:      pairs,
		TotalCount: len(pairs),
	}, nil
}

// Get returns one pair by id
func (s *Service) Get(ctx context.Context, id string) (*models.DuplicatePair, error) {
	return s.pairs.Get(ctx, id)
}

// MarkReviewed flags a pending pair as looked at without deciding it
func (s *Service) MarkReviewed(ctx context.Context, id, actor string) error {
	ctx, span := tracing.StartSpan(ctx, "review.Service.MarkReviewed")
	defer span.End()

	if _, err := s.pairs.Get(ctx, id); err != nil {
		return err
	}

	return s.pairs.UpdateStatus(ctx, id, models.PairStatusReviewed, actor, models.PairStatusPending)
}

// Ignore dismisses a pair as a false positive. The decision and its
// before-image commit atomically.
func (s *Service) Ignore(ctx context.Context, id, actor string) error {
	ctx, span := tracing.StartSpan(ctx, "review.Service.Ignore")
	defer span.End()

	pair, err := s.pairs.Get(ctx, id)
	if err != nil {
		return err
	}
	if pair.Status.IsTerminal() {
		return fmt.Errorf("pair %s is already decided: %w", id, models.ErrInvalidState)
	}

	before, err := s.snapshotPair(ctx, pair)
	if err != nil {
		return err
	}

	ctxTx, tx, err := s.pairs.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := s.pairs.UpdateStatus(ctxTx, id, models.PairStatusIgnored, actor,
		models.PairStatusPending, models.PairStatusReviewed); err != nil {
		return err
	}

	// Ignored pairs have no resulting record, so no after image
	if _, err := s.audits.Append(ctxTx, &models.AuditEntry{
		PairID:         pair.ID,
		Action:         models.AuditActionIgnore,
		BeforeSnapshot: before,
		Actor:          actor,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return err
	}

	if s.emitter != nil {
		if err := s.emitter.EmitPairIgnored(ctx, pair, actor); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to emit ignore event")
		}
	}

	return nil
}

// Reevaluate reverses an ignore decision. Terminal pairs are never
// reopened in place: a fresh pending pair with a new id is created for
// the same records, and the reversal is recorded on the ignored pair's
// trail with the fresh pair as the after image.
func (s *Service) Reevaluate(ctx context.Context, id, actor string) (*models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.Reevaluate")
	defer span.End()

	pair, err := s.pairs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pair.Status != models.PairStatusIgnored {
		return nil, fmt.Errorf("pair %s is not ignored: %w", id, models.ErrInvalidState)
	}

	// A newer pair for the same records may already be open, either from
	// a re-scan or an earlier re-evaluate
	latest, err := s.pairs.GetLatestByLeadPair(ctx, pair.PrimaryID, pair.DuplicateID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if latest != nil && !latest.Status.IsTerminal() {
		return nil, fmt.Errorf("records of pair %s already have open pair %s: %w", id, latest.ID, models.ErrInvalidState)
	}

	before, err := s.snapshotPair(ctx, pair)
	if err != nil {
		return nil, err
	}

	reopened := &models.DuplicatePair{
		PrimaryID:      pair.PrimaryID,
		DuplicateID:    pair.DuplicateID,
		PerFieldScores: pair.PerFieldScores,
		Confidence:     pair.Confidence,
		RiskLevel:      pair.RiskLevel,
		MatchedFields:  pair.MatchedFields,
		Status:         models.PairStatusPending,
	}

	ctxTx, tx, err := s.pairs.DB().GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctxTx)

	created, err := s.pairs.Create(ctxTx, reopened)
	if err != nil {
		return nil, err
	}

	after, err := json.Marshal(created)
	if err != nil {
		return nil, err
	}

	if _, err := s.audits.Append(ctxTx, &models.AuditEntry{
		PairID:         pair.ID,
		Action:         models.AuditActionReevaluate,
		BeforeSnapshot: before,
		AfterSnapshot:  after,
		Actor:          actor,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctxTx); err != nil {
		return nil, err
	}

	return created, nil
}

// AuditTrail returns a pair's decision history, oldest first
func (s *Service) AuditTrail(ctx context.Context, pairID string) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.AuditTrail")
	defer span.End()

	if _, err := s.pairs.Get(ctx, pairID); err != nil {
		return nil, err
	}

	return s.audits.ListByPair(ctx, pairID)
}

func (s *Service) snapshotPair(ctx context.Context, pair *models.DuplicatePair) (json.RawMessage, error) {
	primary, err := s.leads.Get(ctx, pair.PrimaryID)
	if err != nil {
		return nil, err
	}
	duplicate, err := s.leads.Get(ctx, pair.DuplicateID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.PairSnapshot{Primary: *primary, Duplicate: *duplicate})
}
