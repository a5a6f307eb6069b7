// Package leads exposes lead record lookup for the admin console
package leads

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	leadrepo "github.com/Ramsey-B/fern/internal/repositories/lead"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/processor"
)

// Register registers lead routes
func Register(g *echo.Group) {
	g.GET("", ListLeads)
	g.POST("", IngestLead)
	g.GET("/:id", GetLead)
}

// ListLeads returns a page of leads, newest first
func ListLeads(c echo.Context) error {
	ctx := c.Request().Context()

	limit, offset := 100, 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return httperror.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
		offset = n
	}
	includeTombstoned := c.QueryParam("include_tombstoned") == "true"

	ctx, repo, err := ectoinject.GetContext[*leadrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := repo.List(ctx, limit, offset, includeTombstoned)
	if err != nil {
		return err
	}
	// The count honors the same tombstone filter as the page itself
	total, err := repo.Count(ctx, includeTombstoned)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.LeadListResponse{Items: items, TotalCount: total})
}

// GetLead returns a lead by id. Requests for a tombstoned lead redirect
// to its canonical record so stale CRM links keep working.
func GetLead(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, repo, err := ectoinject.GetContext[*leadrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	id := c.Param("id")
	lead, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if lead.IsTombstoned() {
		canonical, err := repo.ResolveCanonical(ctx, id)
		if err != nil {
			return err
		}
		if c.QueryParam("follow") == "false" {
			return c.JSON(http.StatusOK, lead)
		}
		c.Response().Header().Set("X-Canonical-Lead-Id", canonical.ID)
		return c.JSON(http.StatusOK, canonical)
	}

	return c.JSON(http.StatusOK, lead)
}

// IngestLead creates or updates a lead directly, mirroring what the
// Kafka feed does. Used for backfills and manual corrections.
func IngestLead(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.IngestLeadRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid lead payload")
	}
	if req.ID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	if req.Name == "" || req.SourceChannel == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "name and source_channel are required")
	}

	ctx, proc, err := ectoinject.GetContext[*processor.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	lead, err := proc.Ingest(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, lead)
}
