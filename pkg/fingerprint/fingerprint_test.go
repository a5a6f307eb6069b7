package fingerprint

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestGenerate_KeyOrderDoesNotMatter(t *testing.T) {
	a := map[string]any{"name": "Sarah", "email": "s@example.com", "phone": "5551234567"}
	b := map[string]any{"phone": "5551234567", "email": "s@example.com", "name": "Sarah"}

	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerate_VolatileFieldsExcluded(t *testing.T) {
	base := map[string]any{"name": "Sarah", "email": "s@example.com"}
	withVolatile := map[string]any{
		"name":            "Sarah",
		"email":           "s@example.com",
		"id":              "lead-1",
		"lead_score":      float64(80),
		"updated_at":      "2026-01-01T00:00:00Z",
		"merged_from_ids": []any{"lead-2"},
	}

	assert.Equal(t, Generate(base), Generate(withVolatile))
}

func TestGenerate_ContentChangeChangesFingerprint(t *testing.T) {
	a := map[string]any{"name": "Sarah", "email": "s@example.com"}
	b := map[string]any{"name": "Sarah", "email": "sarah@example.com"}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGenerateWithExclusions_NestedPaths(t *testing.T) {
	data := map[string]any{
		"name": "Sarah",
		"meta": map[string]any{"synced_at": "now", "origin": "web"},
	}
	other := map[string]any{
		"name": "Sarah",
		"meta": map[string]any{"synced_at": "later", "origin": "web"},
	}

	exclusions := map[string]bool{"meta.synced_at": true}
	assert.Equal(t,
		GenerateWithExclusions(data, exclusions),
		GenerateWithExclusions(other, exclusions),
	)
}

func TestFromJSON(t *testing.T) {
	fp, err := FromJSON(json.RawMessage(`{"name": "Sarah", "id": "x"}`))
	require.NoError(t, err)

	fp2, err := FromJSON(json.RawMessage(`{"id": "y", "name": "Sarah"}`))
	require.NoError(t, err)

	assert.Equal(t, fp, fp2)

	_, err = FromJSON(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestLead_StableAcrossVolatileChanges(t *testing.T) {
	now := time.Now()
	lead := &models.LeadRecord{
		ID:            "lead-1",
		Name:          "Sarah Johnson",
		Email:         "sarah@example.com",
		Phone:         "5551234567",
		Location:      "Austin, TX",
		SourceChannel: "web",
		LeadScore:     50,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	fp1 := Lead(lead)
	require.NotEmpty(t, fp1)

	lead.LeadScore = 90
	lead.UpdatedAt = now.Add(time.Hour)
	assert.Equal(t, fp1, Lead(lead))

	lead.Email = "sarah.j@example.com"
	assert.NotEqual(t, fp1, Lead(lead))
}

func TestHasChanged(t *testing.T) {
	assert.True(t, HasChanged("a", "b"))
	assert.False(t, HasChanged("a", "a"))
}
