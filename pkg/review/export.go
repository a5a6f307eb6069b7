package review

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// exportHeader is the column layout the admin console's spreadsheet
// download expects
var exportHeader = []string{"Primary Name", "Duplicate Name", "Confidence", "Reason", "Status"}

// ExportCSV renders the selected pairs as CSV. Unknown ids are a
// validation error rather than silently dropped rows.
func (s *Service) ExportCSV(ctx context.Context, pairIDs []string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "review.Service.ExportCSV")
	defer span.End()

	if len(pairIDs) == 0 {
		return nil, fmt.Errorf("no pair ids given: %w", models.ErrValidation)
	}

	pairs, err := s.pairs.GetByIDs(ctx, pairIDs)
	if err != nil {
		return nil, err
	}
	if len(pairs) != len(uniqueIDs(pairIDs)) {
		return nil, fmt.Errorf("one or more pairs not found: %w", models.ErrNotFound)
	}

	leadIDs := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		leadIDs = append(leadIDs, p.PrimaryID, p.DuplicateID)
	}
	leads, err := s.leads.GetByIDs(ctx, uniqueIDs(leadIDs))
	if err != nil {
		return nil, err
	}
	namesByID := make(map[string]string, len(leads))
	for _, l := range leads {
		namesByID[l.ID] = l.Name
	}

	// Preserve the caller's selection order
	pairsByID := make(map[string]models.DuplicatePair, len(pairs))
	for _, p := range pairs {
		pairsByID[p.ID] = p
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(pairIDs))
	for _, id := range pairIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		p := pairsByID[id]
		record := []string{
			namesByID[p.PrimaryID],
			namesByID[p.DuplicateID],
			strconv.Itoa(p.Confidence),
			reason(p),
			string(p.Status),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// reason names the fields that drove the match, strongest first
func reason(p models.DuplicatePair) string {
	if len(p.MatchedFields) == 0 {
		return "weak partial match"
	}
	return strings.Join(p.MatchedFields, ", ")
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
