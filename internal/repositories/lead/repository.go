// Package lead persists lead records and their tombstones
package lead

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var leadColumns = []string{
	"id", "name", "email", "phone", "location", "region", "source_channel",
	"lead_score", "merged_from_ids", "fingerprint", "created_at",
	"last_contact_at", "updated_at", "tombstoned_at", "canonical_id",
}

// Repository handles lead record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new lead repository
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

// Create inserts a new lead record
func (r *Repository) Create(ctx context.Context, lead *models.LeadRecord) (*models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.MergedFromIDs == nil {
		lead.MergedFromIDs = models.StringList{}
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("leads")
	sb.Cols(leadColumns...)
	sb.Values(
		lead.ID, lead.Name, lead.Email, lead.Phone, lead.Location, lead.Region,
		lead.SourceChannel, lead.LeadScore, lead.MergedFromIDs, lead.Fingerprint,
		lead.CreatedAt, lead.LastContactAt, lead.UpdatedAt, lead.TombstonedAt,
		lead.CanonicalID,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create lead")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": lead.ID}).Info("Created lead")
	return lead, nil
}

// Update rewrites a lead's mutable columns
func (r *Repository) Update(ctx context.Context, lead *models.LeadRecord) (*models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Update")
	defer span.End()

	lead.UpdatedAt = time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("leads")
	sb.Set(
		sb.Assign("name", lead.Name),
		sb.Assign("email", lead.Email),
		sb.Assign("phone", lead.Phone),
		sb.Assign("location", lead.Location),
		sb.Assign("region", lead.Region),
		sb.Assign("source_channel", lead.SourceChannel),
		sb.Assign("lead_score", lead.LeadScore),
		sb.Assign("merged_from_ids", lead.MergedFromIDs),
		sb.Assign("fingerprint", lead.Fingerprint),
		sb.Assign("last_contact_at", lead.LastContactAt),
		sb.Assign("updated_at", lead.UpdatedAt),
	)
	sb.Where(sb.Equal("id", lead.ID))

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update lead")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("lead %s: %w", lead.ID, models.ErrNotFound)
	}

	return lead, nil
}

// Get retrieves a lead by ID, tombstoned or not
func (r *Repository) Get(ctx context.Context, id string) (*models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns...)
	sb.From("leads")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var lead models.LeadRecord
	if err := r.db.GetContext(ctx, &lead, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lead %s: %w", id, models.ErrNotFound)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get lead")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get lead")
	}

	return &lead, nil
}

// GetByIDs retrieves multiple leads at once
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.GetByIDs")
	defer span.End()

	if len(ids) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns...)
	sb.From("leads")
	sb.Where(sb.In("id", sqlbuilder.List(ids)))

	query, args := sb.Build()
	var leads []models.LeadRecord
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get leads by ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get leads")
	}

	return leads, nil
}

// ListActive returns all non-tombstoned leads, oldest first
func (r *Repository) ListActive(ctx context.Context) ([]models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.ListActive")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns...)
	sb.From("leads")
	sb.Where(sb.IsNull("tombstoned_at"))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var leads []models.LeadRecord
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list active leads")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list leads")
	}

	return leads, nil
}

// List returns a page of leads for the admin console
func (r *Repository) List(ctx context.Context, limit, offset int, includeTombstoned bool) ([]models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.List")
	defer span.End()

	if limit <= 0 || limit > 500 {
		limit = 100
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumns...)
	sb.From("leads")
	if !includeTombstoned {
		sb.Where(sb.IsNull("tombstoned_at"))
	}
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)
	sb.Offset(offset)

	query, args := sb.Build()
	var leads []models.LeadRecord
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list leads")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list leads")
	}

	return leads, nil
}

// Tombstone marks a lead as absorbed into the canonical record. The row is
// kept so stale links keep resolving.
func (r *Repository) Tombstone(ctx context.Context, id, canonicalID string) error {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Tombstone")
	defer span.End()

	now := time.Now().UTC()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("leads")
	sb.Set(
		sb.Assign("tombstoned_at", now),
		sb.Assign("canonical_id", canonicalID),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("tombstoned_at"),
	)

	query, args := sb.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to tombstone lead")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to tombstone lead")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("lead %s: %w", id, models.ErrAlreadyMerged)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":           id,
		"canonical_id": canonicalID,
	}).Info("Tombstoned lead")
	return nil
}

// ResolveCanonical follows tombstone redirects until it reaches a live
// record. Chains are short in practice; the cap only guards against cycles.
func (r *Repository) ResolveCanonical(ctx context.Context, id string) (*models.LeadRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.ResolveCanonical")
	defer span.End()

	const maxHops = 16
	for i := 0; i < maxHops; i++ {
		lead, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !lead.IsTombstoned() || lead.CanonicalID == nil {
			return lead, nil
		}
		id = *lead.CanonicalID
	}

	return nil, httperror.NewHTTPError(http.StatusInternalServerError, "canonical redirect chain too long")
}

// Count returns the number of leads, counting tombstones only when asked
func (r *Repository) Count(ctx context.Context, includeTombstoned bool) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Repository.Count")
	defer span.End()

	var count int
	if err := r.db.GetContext(ctx, &count, countQuery(includeTombstoned)); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count leads")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count leads")
	}
	return count, nil
}

func countQuery(includeTombstoned bool) string {
	query := "SELECT COUNT(*) FROM leads"
	if !includeTombstoned {
		query += " WHERE tombstoned_at IS NULL"
	}
	return query
}
