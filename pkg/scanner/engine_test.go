package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeLeadSource struct {
	leads []models.LeadRecord
}

func (f *fakeLeadSource) ListActive(ctx context.Context) ([]models.LeadRecord, error) {
	return f.leads, nil
}

type fakePairStore struct {
	mu      sync.Mutex
	pairs   map[string]*models.DuplicatePair
	creates int
	updates int
}

func newFakePairStore() *fakePairStore {
	return &fakePairStore{pairs: make(map[string]*models.DuplicatePair)}
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func (f *fakePairStore) Create(ctx context.Context, pair *models.DuplicatePair) (*models.DuplicatePair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pair.ID = uuid.New().String()
	pair.DetectedAt = time.Now()
	copied := *pair
	f.pairs[pairKey(pair.PrimaryID, pair.DuplicateID)] = &copied
	f.creates++
	return pair, nil
}

func (f *fakePairStore) GetLatestByLeadPair(ctx context.Context, leadAID, leadBID string) (*models.DuplicatePair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pair, ok := f.pairs[pairKey(leadAID, leadBID)]
	if !ok {
		return nil, fmt.Errorf("pair for %s and %s: %w", leadAID, leadBID, models.ErrNotFound)
	}
	copied := *pair
	return &copied, nil
}

func (f *fakePairStore) UpdateScores(ctx context.Context, pair *models.DuplicatePair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *pair
	f.pairs[pairKey(pair.PrimaryID, pair.DuplicateID)] = &copied
	f.updates++
	return nil
}

func (f *fakePairStore) all() []*models.DuplicatePair {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.DuplicatePair, 0, len(f.pairs))
	for _, p := range f.pairs {
		out = append(out, p)
	}
	return out
}

type fakeDetectionEmitter struct {
	mu       sync.Mutex
	detected []string
}

func (f *fakeDetectionEmitter) EmitPairDetected(ctx context.Context, pair *models.DuplicatePair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detected = append(f.detected, pair.PrimaryID+"|"+pair.DuplicateID)
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func lead(id, name, email, phone, location string, createdAt time.Time) models.LeadRecord {
	return models.LeadRecord{
		ID:            id,
		Name:          name,
		Email:         email,
		Phone:         phone,
		Location:      location,
		SourceChannel: "web",
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func newTestEngine(leads *fakeLeadSource, pairs *fakePairStore, emitter DetectionEmitter) *Engine {
	return NewEngine(testLogger(), leads, pairs, matching.NewAggregator(nil), emitter, Config{
		MinConfidence:    50,
		WorkerCount:      2,
		PartitionTimeout: 5 * time.Second,
		WriteRetries:     1,
	})
}

func TestEngine_Scan_DetectsObviousDuplicate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	leads := &fakeLeadSource{leads: []models.LeadRecord{
		lead("lead-1", "Sarah Johnson", "sarah.j@example.com", "(555) 123-4567", "Austin, TX", base),
		lead("lead-2", "Sarah J.", "sarah.j@example.com", "+1 555 123 4567", "Austin", base.Add(time.Hour)),
		lead("lead-3", "Mike Williams", "mike@other.com", "555-999-0000", "Dallas, TX", base),
	}}
	pairs := newFakePairStore()
	emitter := &fakeDetectionEmitter{}

	engine := newTestEngine(leads, pairs, emitter)
	summary, err := engine.Scan(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 1, summary.ByRisk[models.RiskHigh])

	stored := pairs.all()
	require.Len(t, stored, 1)
	pair := stored[0]
	assert.Equal(t, "lead-1", pair.PrimaryID, "older record becomes primary")
	assert.Equal(t, "lead-2", pair.DuplicateID)
	assert.GreaterOrEqual(t, pair.Confidence, 90)
	assert.Equal(t, models.PairStatusPending, pair.Status)
	assert.Contains(t, pair.MatchedFields, "email")
	assert.Contains(t, pair.MatchedFields, "phone")
	assert.Len(t, emitter.detected, 1)
}

func TestEngine_Scan_IdempotentAcrossRuns(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	leads := &fakeLeadSource{leads: []models.LeadRecord{
		lead("lead-1", "Sarah Johnson", "sarah.j@example.com", "5551234567", "Austin", base),
		lead("lead-2", "Sarah Johnson", "sarah.j@example.com", "5551234567", "Austin", base.Add(time.Hour)),
	}}
	pairs := newFakePairStore()
	emitter := &fakeDetectionEmitter{}

	engine := newTestEngine(leads, pairs, emitter)

	_, err := engine.Scan(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, pairs.creates)

	firstID := pairs.all()[0].ID
	firstDetected := pairs.all()[0].DetectedAt

	_, err = engine.Scan(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, pairs.creates, "second scan must not create a new pair")
	assert.Equal(t, 1, pairs.updates, "second scan refreshes scores in place")
	assert.Equal(t, firstID, pairs.all()[0].ID)
	assert.Equal(t, firstDetected, pairs.all()[0].DetectedAt)
	assert.Len(t, emitter.detected, 1, "detection event fires only on first sighting")
}

func TestEngine_Scan_SkipsDecidedPairs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	leads := &fakeLeadSource{leads: []models.LeadRecord{
		lead("lead-1", "Sarah Johnson", "sarah.j@example.com", "5551234567", "Austin", base),
		lead("lead-2", "Sarah Johnson", "sarah.j@example.com", "5551234567", "Austin", base.Add(time.Hour)),
	}}
	pairs := newFakePairStore()
	pairs.pairs[pairKey("lead-1", "lead-2")] = &models.DuplicatePair{
		ID:          "existing",
		PrimaryID:   "lead-1",
		DuplicateID: "lead-2",
		Status:      models.PairStatusIgnored,
	}

	engine := newTestEngine(leads, pairs, nil)
	summary, err := engine.Scan(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Found, "ignored pair is not re-reported")
	assert.Equal(t, 0, pairs.creates)
	assert.Equal(t, 0, pairs.updates)
	assert.Equal(t, models.PairStatusIgnored, pairs.all()[0].Status)
}

func TestEngine_Scan_MinConfidenceOverride(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Same phone, different everything else: a medium-strength signal
	leads := &fakeLeadSource{leads: []models.LeadRecord{
		lead("lead-1", "Sarah Johnson", "sarah.j@example.com", "5551234567", "Austin", base),
		lead("lead-2", "S Thompson", "st@other.com", "5551234567", "Dallas", base.Add(time.Hour)),
	}}

	t.Run("found at a low floor", func(t *testing.T) {
		pairs := newFakePairStore()
		engine := newTestEngine(leads, pairs, nil)
		floor := 20
		summary, err := engine.Scan(context.Background(), &floor)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Found)
	})

	t.Run("filtered at a high floor", func(t *testing.T) {
		pairs := newFakePairStore()
		engine := newTestEngine(leads, pairs, nil)
		floor := 90
		summary, err := engine.Scan(context.Background(), &floor)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Found)
		assert.Empty(t, pairs.all())
	})
}

func TestEngine_Scan_BlockingStillCatchesSpellingVariant(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// No shared email or phone; the phonetic surname key has to bucket them
	leads := &fakeLeadSource{leads: []models.LeadRecord{
		lead("lead-1", "Sarah Johnson", "", "", "Austin, TX", base),
		lead("lead-2", "Sarah Jonson", "", "", "Austin, TX", base.Add(time.Hour)),
	}}
	pairs := newFakePairStore()

	engine := newTestEngine(leads, pairs, nil)
	floor := 50
	summary, err := engine.Scan(context.Background(), &floor)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Found)
}

func TestEngine_Scan_EmptyDataset(t *testing.T) {
	engine := newTestEngine(&fakeLeadSource{}, newFakePairStore(), nil)
	summary, err := engine.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Scanned)
	assert.Equal(t, 0, summary.Found)
}

func TestPickPrimary(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("older record wins", func(t *testing.T) {
		a := &scanLead{lead: lead("b-lead", "A", "", "", "", base)}
		b := &scanLead{lead: lead("a-lead", "B", "", "", "", base.Add(time.Hour))}
		primary, duplicate := pickPrimary(a, b)
		assert.Equal(t, "b-lead", primary.lead.ID)
		assert.Equal(t, "a-lead", duplicate.lead.ID)
	})

	t.Run("same age falls back to lead score", func(t *testing.T) {
		a := &scanLead{lead: lead("a-lead", "A", "", "", "", base)}
		b := &scanLead{lead: lead("b-lead", "B", "", "", "", base)}
		b.lead.LeadScore = 90
		primary, _ := pickPrimary(a, b)
		assert.Equal(t, "b-lead", primary.lead.ID)
	})

	t.Run("full tie falls back to id", func(t *testing.T) {
		a := &scanLead{lead: lead("b-lead", "A", "", "", "", base)}
		b := &scanLead{lead: lead("a-lead", "B", "", "", "", base)}
		primary, _ := pickPrimary(a, b)
		assert.Equal(t, "a-lead", primary.lead.ID)
	})
}

func TestChunkPairs(t *testing.T) {
	pairs := make([]candidatePair, 10)
	chunks := chunkPairs(pairs, 4)
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.Equal(t, 10, total)
	assert.Nil(t, chunkPairs(nil, 4))
}
