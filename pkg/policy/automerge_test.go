package policy

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeCandidateSource struct {
	candidates []models.DuplicatePair
	minSeen    int
	limitSeen  int
}

func (f *fakeCandidateSource) ListOpenByMinConfidence(ctx context.Context, minConfidence, limit int) ([]models.DuplicatePair, error) {
	f.minSeen = minConfidence
	f.limitSeen = limit
	return f.candidates, nil
}

type fakeMerger struct {
	merged []string
	actors []string
	errs   map[string]error
}

func (f *fakeMerger) Merge(ctx context.Context, pairID string, req models.MergeRequest, actor string) (*models.MergeDecision, error) {
	if err, ok := f.errs[pairID]; ok {
		return nil, err
	}
	if req.Strategy != models.MergeStrategyKeepPrimary {
		return nil, fmt.Errorf("unexpected strategy %s: %w", req.Strategy, models.ErrValidation)
	}
	f.merged = append(f.merged, pairID)
	f.actors = append(f.actors, actor)
	return &models.MergeDecision{PairID: pairID}, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func candidate(id string, confidence int) models.DuplicatePair {
	return models.DuplicatePair{
		ID:         id,
		Confidence: confidence,
		RiskLevel:  models.RiskLevelFor(confidence),
		Status:     models.PairStatusPending,
	}
}

func TestAutoMerger_RunOnce(t *testing.T) {
	source := &fakeCandidateSource{candidates: []models.DuplicatePair{
		candidate("pair-1", 97),
		candidate("pair-2", 95),
	}}
	merger := &fakeMerger{}

	am := NewAutoMerger(testLogger(), source, merger, Config{
		Enabled:       true,
		MinConfidence: 95,
	})

	merged, err := am.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, merged)
	assert.Equal(t, []string{"pair-1", "pair-2"}, merger.merged)
	assert.Equal(t, []string{AutoMergeActor, AutoMergeActor}, merger.actors)
	assert.Equal(t, 95, source.minSeen)
	assert.Equal(t, 100, source.limitSeen, "default batch limit applies")
}

func TestAutoMerger_RunOnce_SkipsBelowHighRisk(t *testing.T) {
	// A low floor can surface medium-risk pairs; the policy still refuses
	// to merge anything a human should look at
	source := &fakeCandidateSource{candidates: []models.DuplicatePair{
		candidate("pair-1", 96),
		candidate("pair-2", 85),
	}}
	merger := &fakeMerger{}

	am := NewAutoMerger(testLogger(), source, merger, Config{
		Enabled:       true,
		MinConfidence: 80,
	})

	merged, err := am.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, merged)
	assert.Equal(t, []string{"pair-1"}, merger.merged)
}

func TestAutoMerger_RunOnce_ToleratesCompetingDecisions(t *testing.T) {
	source := &fakeCandidateSource{candidates: []models.DuplicatePair{
		candidate("pair-1", 97),
		candidate("pair-2", 96),
		candidate("pair-3", 95),
	}}
	merger := &fakeMerger{errs: map[string]error{
		"pair-1": fmt.Errorf("pair pair-1: %w", models.ErrAlreadyMerged),
		"pair-2": fmt.Errorf("pair pair-2: %w", models.ErrInvalidState),
	}}

	am := NewAutoMerger(testLogger(), source, merger, Config{
		Enabled:       true,
		MinConfidence: 95,
	})

	merged, err := am.RunOnce(context.Background())
	require.NoError(t, err, "races with human decisions are not failures")
	assert.Equal(t, 1, merged)
	assert.Equal(t, []string{"pair-3"}, merger.merged)
}
