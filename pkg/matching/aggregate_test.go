package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestAggregator_Aggregate(t *testing.T) {
	agg := NewAggregator(nil)

	t.Run("all fields perfect", func(t *testing.T) {
		confidence, matched := agg.Aggregate(map[models.Field]float64{
			models.FieldPhone:    1.0,
			models.FieldEmail:    1.0,
			models.FieldName:     1.0,
			models.FieldLocation: 1.0,
		})
		assert.Equal(t, 100, confidence)
		assert.Len(t, matched, 4)
	})

	t.Run("missing fields renormalize instead of penalizing", func(t *testing.T) {
		// Phone and email absent on one record: name and location carry
		// the whole score
		confidence, matched := agg.Aggregate(map[models.Field]float64{
			models.FieldName:     1.0,
			models.FieldLocation: 1.0,
		})
		assert.Equal(t, 100, confidence)
		assert.ElementsMatch(t, []models.Field{models.FieldName, models.FieldLocation}, matched)
	})

	t.Run("weighted blend", func(t *testing.T) {
		// 0.35*1.0 + 0.30*0.0 + 0.25*0.6 + 0.10*0.5 = 0.55
		confidence, _ := agg.Aggregate(map[models.Field]float64{
			models.FieldPhone:    1.0,
			models.FieldEmail:    0.0,
			models.FieldName:     0.6,
			models.FieldLocation: 0.5,
		})
		assert.Equal(t, 55, confidence)
	})

	t.Run("exact phone with corroborating name floors at high risk", func(t *testing.T) {
		// The weighted mean alone would be 61; the shared number wins
		confidence, _ := agg.Aggregate(map[models.Field]float64{
			models.FieldPhone: 1.0,
			models.FieldEmail: 0.0,
			models.FieldName:  0.8,
		})
		assert.Equal(t, 90, confidence)
		assert.Equal(t, models.RiskHigh, models.RiskLevelFor(confidence))
	})

	t.Run("exact phone without name corroboration keeps the weighted mean", func(t *testing.T) {
		// 0.35*1.0 + 0.30*0.0 + 0.25*0.4 over 0.90 total weight
		confidence, _ := agg.Aggregate(map[models.Field]float64{
			models.FieldPhone: 1.0,
			models.FieldEmail: 0.0,
			models.FieldName:  0.4,
		})
		assert.Equal(t, 50, confidence)
	})

	t.Run("matched fields ordered by weighted contribution", func(t *testing.T) {
		_, matched := agg.Aggregate(map[models.Field]float64{
			models.FieldPhone: 0.0,
			models.FieldEmail: 1.0,  // 0.30
			models.FieldName:  0.95, // 0.2375
		})
		assert.Equal(t, []models.Field{models.FieldEmail, models.FieldName}, matched)
	})

	t.Run("fields below cutoff are not matched", func(t *testing.T) {
		_, matched := agg.Aggregate(map[models.Field]float64{
			models.FieldEmail: 1.0,
			models.FieldName:  0.59,
		})
		assert.Equal(t, []models.Field{models.FieldEmail}, matched)
	})

	t.Run("no scored fields", func(t *testing.T) {
		confidence, matched := agg.Aggregate(map[models.Field]float64{})
		assert.Equal(t, 0, confidence)
		assert.Empty(t, matched)
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		confidence, matched := agg.Aggregate(map[models.Field]float64{
			models.Field("company"): 1.0,
		})
		assert.Equal(t, 0, confidence)
		assert.Empty(t, matched)
	})
}

func TestAggregator_CustomWeights(t *testing.T) {
	agg := NewAggregator(Weights{
		models.FieldEmail: 1.0,
	})

	confidence, _ := agg.Aggregate(map[models.Field]float64{
		models.FieldEmail: 0.5,
		models.FieldName:  1.0, // not weighted, ignored
	})
	assert.Equal(t, 50, confidence)
}

func TestAggregate_SamePhoneDifferentEmailAddresses(t *testing.T) {
	// One person captured twice: identical number, shortened name, and a
	// second email address. The pair must land in the high-risk bucket.
	scorer := NewScorer()
	agg := NewAggregator(nil)

	scores := map[models.Field]float64{
		models.FieldName: scorer.FieldScore(models.FieldName,
			nv(models.FieldName, "Sarah Johnson"), nv(models.FieldName, "Sarah J.")),
		models.FieldPhone: scorer.FieldScore(models.FieldPhone,
			nv(models.FieldPhone, "+64 21 123 4567"), nv(models.FieldPhone, "+64 21 123 4567")),
		models.FieldEmail: scorer.FieldScore(models.FieldEmail,
			nv(models.FieldEmail, "sarah.j@email.com"), nv(models.FieldEmail, "sarah.johnson@email.com")),
	}

	confidence, matched := agg.Aggregate(scores)
	assert.GreaterOrEqual(t, confidence, 90)
	assert.Equal(t, models.RiskHigh, models.RiskLevelFor(confidence))
	assert.Equal(t, []models.Field{models.FieldPhone, models.FieldName}, matched)
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		confidence int
		expected   models.RiskLevel
	}{
		{confidence: 100, expected: models.RiskHigh},
		{confidence: 90, expected: models.RiskHigh},
		{confidence: 89, expected: models.RiskMedium},
		{confidence: 70, expected: models.RiskMedium},
		{confidence: 69, expected: models.RiskLow},
		{confidence: 0, expected: models.RiskLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, models.RiskLevelFor(tt.confidence), "confidence %d", tt.confidence)
	}
}
