// Package duplicatepair persists scored duplicate pairs and their lifecycle
package duplicatepair

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var pairColumns = []string{
	"id", "primary_id", "duplicate_id", "per_field_scores", "confidence",
	"risk_level", "matched_fields", "status", "detected_at", "updated_at",
	"decided_at", "decided_by",
}

// Repository handles duplicate pair persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new duplicate pair repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Create inserts a new pending pair
func (r *Repository) Create(ctx context.Context, pair *models.DuplicatePair) (*models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.Create")
	defer span.End()

	if pair.ID == "" {
		pair.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	pair.DetectedAt = now
	pair.UpdatedAt = now
	if pair.Status == "" {
		pair.Status = models.PairStatusPending
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("duplicate_pairs")
	sb.Cols(pairColumns...)
	sb.Values(
		pair.ID, pair.PrimaryID, pair.DuplicateID, pair.PerFieldScores,
		pair.Confidence, pair.RiskLevel, pair.MatchedFields, pair.Status,
		pair.DetectedAt, pair.UpdatedAt, pair.DecidedAt, pair.DecidedBy,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create duplicate pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create duplicate pair")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":           pair.ID,
		"primary_id":   pair.PrimaryID,
		"duplicate_id": pair.DuplicateID,
		"confidence":   pair.Confidence,
	}).Info("Created duplicate pair")
	return pair, nil
}

// Get retrieves a pair by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(pairColumns...)
	sb.From("duplicate_pairs")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var pair models.DuplicatePair
	if err := r.db.GetContext(ctx, &pair, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("duplicate pair %s: %w", id, models.ErrNotFound)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get duplicate pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate pair")
	}

	return &pair, nil
}

// GetByIDs retrieves multiple pairs at once, preserving no particular order
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(pairColumns...)
	sb.From("duplicate_pairs")
	sb.Where(sb.In("id", sqlbuilder.List(ids)))

	query, args := sb.Build()
	var pairs []models.DuplicatePair
	if err := r.db.SelectContext(ctx, &pairs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get duplicate pairs by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate pairs")
	}

	return pairs, nil
}

// GetLatestByLeadPair finds the most recent pair for an unordered lead id
// combination, regardless of status
func (r *Repository) GetLatestByLeadPair(ctx context.Context, leadAID, leadBID string) (*models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.GetLatestByLeadPair")
	defer span.End()

	query := `
		SELECT ` + columnList() + `
		FROM duplicate_pairs
		WHERE ((primary_id = $1 AND duplicate_id = $2) OR (primary_id = $2 AND duplicate_id = $1))
		ORDER BY detected_at DESC
		LIMIT 1`

	var pair models.DuplicatePair
	if err := r.db.GetContext(ctx, &pair, query, leadAID, leadBID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pair for leads %s/%s: %w", leadAID, leadBID, models.ErrNotFound)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get pair by lead pair")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get duplicate pair")
	}

	return &pair, nil
}

// List returns pairs matching the filter. All filter criteria intersect;
// the search term matches either lead's name or email.
func (r *Repository) List(ctx context.Context, filter models.PairFilter) ([]models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.List")
	defer span.End()

	query, args := listQuery(filter)
	var pairs []models.DuplicatePair
	if err := r.db.SelectContext(ctx, &pairs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list duplicate pairs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate pairs")
	}

	return pairs, nil
}

// ListOpenByMinConfidence returns pending pairs at or above a confidence
// floor, used by the auto-merge policy
func (r *Repository) ListOpenByMinConfidence(ctx context.Context, minConfidence, limit int) ([]models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.ListOpenByMinConfidence")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(pairColumns...)
	sb.From("duplicate_pairs")
	sb.Where(
		sb.Equal("status", models.PairStatusPending),
		sb.GreaterEqualThan("confidence", minConfidence),
	)
	sb.OrderBy("confidence").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var pairs []models.DuplicatePair
	if err := r.db.SelectContext(ctx, &pairs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list auto-merge candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate pairs")
	}

	return pairs, nil
}

// ListOpenByLeadID returns non-terminal pairs referencing a lead on either side
func (r *Repository) ListOpenByLeadID(ctx context.Context, leadID string) ([]models.DuplicatePair, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.ListOpenByLeadID")
	defer span.End()

	query := `
		SELECT ` + columnList() + `
		FROM duplicate_pairs
		WHERE (primary_id = $1 OR duplicate_id = $1)
		  AND status IN ($2, $3)`

	var pairs []models.DuplicatePair
	err := r.db.SelectContext(ctx, &pairs, query, leadID, models.PairStatusPending, models.PairStatusReviewed)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pairs by lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate pairs")
	}

	return pairs, nil
}

// UpdateScores refreshes an open pair's scoring in place after a re-scan
func (r *Repository) UpdateScores(ctx context.Context, pair *models.DuplicatePair) error {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.UpdateScores")
	defer span.End()

	pair.UpdatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("duplicate_pairs")
	sb.Set(
		sb.Assign("per_field_scores", pair.PerFieldScores),
		sb.Assign("confidence", pair.Confidence),
		sb.Assign("risk_level", pair.RiskLevel),
		sb.Assign("matched_fields", pair.MatchedFields),
		sb.Assign("updated_at", pair.UpdatedAt),
	)
	sb.Where(
		sb.Equal("id", pair.ID),
		sb.In("status", models.PairStatusPending, models.PairStatusReviewed),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update pair scores")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update duplicate pair")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("duplicate pair %s is not open: %w", pair.ID, models.ErrInvalidState)
	}

	return nil
}

// UpdateStatus transitions a pair's lifecycle state. The fromStatuses guard
// makes illegal transitions fail instead of silently overwriting.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.PairStatus, decidedBy string, fromStatuses ...models.PairStatus) error {
	ctx, span := tracing.StartSpan(ctx, "duplicatepair.Repository.UpdateStatus")
	defer span.End()

	now := time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("duplicate_pairs")
	assigns := []string{
		sb.Assign("status", status),
		sb.Assign("updated_at", now),
	}
	if status.IsTerminal() {
		assigns = append(assigns,
			sb.Assign("decided_at", now),
			sb.Assign("decided_by", decidedBy),
		)
	} else {
		// Reopening clears the previous decision
		assigns = append(assigns,
			sb.Assign("decided_at", nil),
			sb.Assign("decided_by", nil),
		)
	}
	sb.Set(assigns...)

	sb.Where(sb.Equal("id", id))
	if len(fromStatuses) > 0 {
		from := make([]interface{}, len(fromStatuses))
		for i, s := range fromStatuses {
			from[i] = s
		}
		sb.Where(sb.In("status", from...))
	}

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update pair status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update duplicate pair")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("duplicate pair %s cannot transition to %s: %w", id, status, models.ErrInvalidState)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     id,
		"status": status,
	}).Info("Updated duplicate pair status")
	return nil
}

// listQuery builds the queue listing query for a filter. Criteria
// intersect; the search term compares case-insensitively against both
// leads' names and emails.
func listQuery(filter models.PairFilter) (string, []interface{}) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(prefixed("dp", pairColumns)...)
	sb.From("duplicate_pairs dp")

	if filter.Status != "" {
		sb.Where(sb.Equal("dp.status", filter.Status))
	}
	if filter.RiskLevel != "" {
		sb.Where(sb.Equal("dp.risk_level", filter.RiskLevel))
	}
	if filter.SearchTerm != "" {
		sb.Join("leads lp", "lp.id = dp.primary_id")
		sb.Join("leads ld", "ld.id = dp.duplicate_id")
		pattern := "%" + filter.SearchTerm + "%"
		sb.Where(sb.Or(
			sb.ILike("lp.name", pattern),
			sb.ILike("ld.name", pattern),
			sb.ILike("lp.email", pattern),
			sb.ILike("ld.email", pattern),
		))
	}

	sb.OrderBy("dp.confidence").Desc()
	sb.OrderBy("dp.detected_at").Desc()
	sb.Limit(limit)

	return sb.Build()
}

func columnList() string {
	list := ""
	for i, c := range pairColumns {
		if i > 0 {
			list += ", "
		}
		list += c
	}
	return list
}

func prefixed(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return out
}
