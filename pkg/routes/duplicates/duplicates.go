// Package duplicates exposes the duplicate review queue API
package duplicates

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/requestcontext"
	"github.com/Ramsey-B/fern/pkg/review"
	"github.com/Ramsey-B/fern/pkg/scanner"
)

// Register registers duplicate pair routes
func Register(g *echo.Group) {
	g.POST("/scan", TriggerScan)
	g.GET("", ListPairs)
	g.GET("/export", ExportPairs)
	g.GET("/:id", GetPair)
	g.GET("/:id/audit", GetAuditTrail)
	g.POST("/:id/merge", MergePair)
	g.POST("/:id/ignore", IgnorePair)
	g.POST("/:id/review", MarkReviewed)
	g.POST("/:id/reevaluate", ReevaluatePair)
}

// TriggerScan runs an on-demand duplicate scan
func TriggerScan(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.ScanRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid scan request")
	}
	if req.MinConfidence != nil && (*req.MinConfidence < 0 || *req.MinConfidence > 100) {
		return httperror.NewHTTPError(http.StatusBadRequest, "min_confidence must be between 0 and 100")
	}

	ctx, engine, err := ectoinject.GetContext[*scanner.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	summary, err := engine.Scan(ctx, req.MinConfidence)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, summary)
}

// ListPairs lists duplicate pairs with optional status, risk and search
// filters; filters combine with AND semantics
func ListPairs(c echo.Context) error {
	ctx := c.Request().Context()

	filter := models.PairFilter{
		Status:     models.PairStatus(c.QueryParam("status")),
		RiskLevel:  models.RiskLevel(c.QueryParam("risk")),
		SearchTerm: strings.TrimSpace(c.QueryParam("search")),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		filter.Limit = n
	}

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := svc.List(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetPair returns one duplicate pair
func GetPair(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	pair, err := svc.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, pair)
}

// GetAuditTrail returns a pair's decision history
func GetAuditTrail(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entries, err := svc.AuditTrail(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entries)
}

// MergePair resolves a pair with the requested strategy
func MergePair(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.MergeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid merge request")
	}

	ctx, engine, err := ectoinject.GetContext[*merging.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	decision, err := engine.Merge(ctx, c.Param("id"), req, actor(ctx))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.MergeResponse{ResultingLeadID: decision.ResultingLeadID})
}

// IgnorePair dismisses a pair as a false positive
func IgnorePair(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.Ignore(ctx, c.Param("id"), actor(ctx)); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// MarkReviewed flags a pending pair as seen
func MarkReviewed(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.MarkReviewed(ctx, c.Param("id"), actor(ctx)); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// ReevaluatePair reverses an ignore decision and returns the fresh
// pending pair opened for the same records
func ReevaluatePair(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	reopened, err := svc.Reevaluate(ctx, c.Param("id"), actor(ctx))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, reopened)
}

// ExportPairs downloads the selected pairs as CSV
func ExportPairs(c echo.Context) error {
	ctx := c.Request().Context()

	raw := strings.TrimSpace(c.QueryParam("ids"))
	if raw == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "ids query parameter is required")
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	ctx, svc, err := ectoinject.GetContext[*review.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	data, err := svc.ExportCSV(ctx, ids)
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="duplicate-pairs.csv"`)
	return c.Blob(http.StatusOK, "text/csv", data)
}

func actor(ctx context.Context) string {
	if a := requestcontext.GetActor(ctx); a != "" {
		return a
	}
	return "unknown"
}
