package matching

import (
	"math"
	"sort"

	"github.com/Ramsey-B/fern/pkg/models"
)

// matchedFieldCutoff is the per-field score at or above which a field is
// reported as contributing to the match
const matchedFieldCutoff = 0.6

// exactIdentifierFloor is the minimum confidence for a pair whose phone
// or email matches exactly with a corroborating name. A shared number or
// address is near-conclusive identity evidence; the weighted mean alone
// would let a second, different email address drag such a pair below the
// high-risk bucket.
const exactIdentifierFloor = 90

// corroboratingNameScore is the name similarity required before an exact
// identifier match is trusted on its own
const corroboratingNameScore = 0.7

// Weights maps each comparable field to its share of the confidence score.
// Weights for fields missing on either record are redistributed across the
// fields that are present, so a pair is never penalized for sparse data.
type Weights map[models.Field]float64

// DefaultWeights returns the standard field weighting
func DefaultWeights() Weights {
	return Weights{
		models.FieldPhone:    0.35,
		models.FieldEmail:    0.30,
		models.FieldName:     0.25,
		models.FieldLocation: 0.10,
	}
}

// Aggregator combines per-field scores into a single confidence value
type Aggregator struct {
	weights Weights
}

// NewAggregator creates an Aggregator. A nil or empty weights map falls
// back to DefaultWeights.
func NewAggregator(weights Weights) *Aggregator {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	return &Aggregator{weights: weights}
}

// Aggregate computes the 0-100 confidence and the list of matched fields
// for a pair. Only fields present in scores participate; the caller omits
// fields that are empty on either record. Matched fields are those scoring
// at or above the cutoff, ordered by descending weighted contribution.
func (a *Aggregator) Aggregate(scores map[models.Field]float64) (int, []models.Field) {
	var weightSum, weighted float64
	for field, score := range scores {
		w, ok := a.weights[field]
		if !ok {
			continue
		}
		weightSum += w
		weighted += w * score
	}
	if weightSum == 0 {
		return 0, nil
	}

	confidence := int(math.Round(100 * weighted / weightSum))
	if confidence < exactIdentifierFloor &&
		a.hasExactIdentifier(scores) && scores[models.FieldName] >= corroboratingNameScore {
		confidence = exactIdentifierFloor
	}

	matched := make([]models.Field, 0, len(scores))
	for field, score := range scores {
		if score >= matchedFieldCutoff {
			if _, ok := a.weights[field]; ok {
				matched = append(matched, field)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		ci := scores[matched[i]] * a.weights[matched[i]]
		cj := scores[matched[j]] * a.weights[matched[j]]
		if ci != cj {
			return ci > cj
		}
		// Stable output for equal contributions
		return matched[i] < matched[j]
	})

	return confidence, matched
}

// hasExactIdentifier reports whether a weighted high-precision field
// (phone or email) matched exactly
func (a *Aggregator) hasExactIdentifier(scores map[models.Field]float64) bool {
	for _, field := range []models.Field{models.FieldPhone, models.FieldEmail} {
		if _, ok := a.weights[field]; !ok {
			continue
		}
		if scores[field] == 1.0 {
			return true
		}
	}
	return false
}

// RiskFor is a convenience passthrough to the model-level bucketing
func (a *Aggregator) RiskFor(confidence int) models.RiskLevel {
	return models.RiskLevelFor(confidence)
}
