// Package audit stores the append-only decision log for duplicate pairs
package audit

import (
	"context"
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

var auditColumns = []string{
	"id", "pair_id", "action", "before_snapshot", "after_snapshot", "actor", "timestamp",
}

// Repository handles audit entry persistence. Entries are append-only;
// there is deliberately no update or delete.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new audit repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Append writes a new audit entry
func (r *Repository) Append(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.Append")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("audit_entries")
	sb.Cols(auditColumns...)
	sb.Values(
		entry.ID, entry.PairID, entry.Action, []byte(entry.BeforeSnapshot),
		nullableJSON(entry.AfterSnapshot), entry.Actor, entry.Timestamp,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to append audit entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to append audit entry")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":      entry.ID,
		"pair_id": entry.PairID,
		"action":  entry.Action,
	}).Info("Appended audit entry")
	return entry, nil
}

// ListByPair returns a pair's audit trail, oldest first
func (r *Repository) ListByPair(ctx context.Context, pairID string) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.ListByPair")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(auditColumns...)
	sb.From("audit_entries")
	sb.Where(sb.Equal("pair_id", pairID))
	sb.OrderBy("timestamp").Asc()

	query, args := sb.Build()
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list audit entries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list audit entries")
	}

	return entries, nil
}

// ignore/re-evaluate entries carry no after image
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
