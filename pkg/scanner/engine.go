// Package scanner walks the active lead set and records scored duplicate
// pairs for review
package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// LeadSource provides the records to scan
type LeadSource interface {
	ListActive(ctx context.Context) ([]models.LeadRecord, error)
}

// PairStore persists detected pairs
type PairStore interface {
	Create(ctx context.Context, pair *models.DuplicatePair) (*models.DuplicatePair, error)
	GetLatestByLeadPair(ctx context.Context, leadAID, leadBID string) (*models.DuplicatePair, error)
	UpdateScores(ctx context.Context, pair *models.DuplicatePair) error
}

// DetectionEmitter publishes pair.detected events; emission failure never
// fails a scan
type DetectionEmitter interface {
	EmitPairDetected(ctx context.Context, pair *models.DuplicatePair) error
}

// Config contains scan tuning knobs
type Config struct {
	MinConfidence    int
	WorkerCount      int
	PartitionTimeout time.Duration
	WriteRetries     int
}

// DefaultConfig returns default scanner configuration
func DefaultConfig() Config {
	return Config{
		MinConfidence:    50,
		WorkerCount:      4,
		PartitionTimeout: 30 * time.Second,
		WriteRetries:     2,
	}
}

// Engine runs duplicate scans. Scans are idempotent: re-detecting an open
// pair refreshes its scores in place, and decided pairs are left alone.
type Engine struct {
	logger     ectologger.Logger
	leads      LeadSource
	pairs      PairStore
	scorer     *matching.Scorer
	aggregator *matching.Aggregator
	emitter    DetectionEmitter
	config     Config
}

// NewEngine creates a new scan engine. The emitter may be nil.
func NewEngine(
	logger ectologger.Logger,
	leads LeadSource,
	pairs PairStore,
	aggregator *matching.Aggregator,
	emitter DetectionEmitter,
	config Config,
) *Engine {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.PartitionTimeout <= 0 {
		config.PartitionTimeout = DefaultConfig().PartitionTimeout
	}
	return &Engine{
		logger:     logger,
		leads:      leads,
		pairs:      pairs,
		scorer:     matching.NewScorer(),
		aggregator: aggregator,
		emitter:    emitter,
		config:     config,
	}
}

// scanLead carries a lead with its normalized comparison values so each
// field is normalized exactly once per scan
type scanLead struct {
	lead   models.LeadRecord
	values map[models.Field]normalizers.Value
}

type candidatePair struct {
	a, b *scanLead
}

// Scan compares all active leads and upserts duplicate pairs at or above
// the confidence floor. minConfidence overrides the configured floor when
// non-nil.
func (e *Engine) Scan(ctx context.Context, minConfidence *int) (*models.ScanSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "scanner.Engine.Scan")
	defer span.End()

	floor := e.config.MinConfidence
	if minConfidence != nil {
		floor = *minConfidence
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{"min_confidence": floor})
	log.Info("Starting duplicate scan")

	records, err := e.leads.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	prepared := make([]*scanLead, len(records))
	for i := range records {
		prepared[i] = e.prepare(&records[i])
	}

	partitions := e.partition(prepared)
	candidates := dedupePairs(partitions)

	log.WithFields(map[string]any{
		"leads":      len(prepared),
		"partitions": len(partitions),
		"candidates": len(candidates),
	}).Debug("Built scan partitions")

	summary := &models.ScanSummary{
		Scanned: len(prepared),
		ByRisk:  map[models.RiskLevel]int{},
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan []candidatePair)

	for i := 0; i < e.config.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range work {
				e.processChunk(ctx, chunk, floor, summary, &mu)
			}
		}()
	}

	for _, chunk := range chunkPairs(candidates, e.config.WorkerCount) {
		work <- chunk
	}
	close(work)
	wg.Wait()

	log.WithFields(map[string]any{
		"scanned": summary.Scanned,
		"found":   summary.Found,
	}).Info("Duplicate scan complete")

	return summary, nil
}

func (e *Engine) prepare(lead *models.LeadRecord) *scanLead {
	values := make(map[models.Field]normalizers.Value, len(models.ComparableFields))
	for _, field := range models.ComparableFields {
		values[field] = normalizers.LeadField(field, lead.FieldValue(field))
	}
	return &scanLead{lead: *lead, values: values}
}

// partition buckets leads by cheap blocking keys so scoring stays near
// linear instead of comparing every lead against every other. A pair only
// gets scored when the two leads share at least one key.
func (e *Engine) partition(leads []*scanLead) map[string][]*scanLead {
	partitions := make(map[string][]*scanLead)

	add := func(key string, l *scanLead) {
		if key == "" {
			return
		}
		partitions[key] = append(partitions[key], l)
	}

	for _, l := range leads {
		if phone := l.values[models.FieldPhone]; !phone.Unparseable && phone.Canonical != "" {
			key := phone.Canonical
			// Index by national suffix so country-prefixed variants land
			// in the same bucket
			if len(key) > 9 {
				key = key[len(key)-9:]
			}
			add("phone:"+key, l)
		}
		if email := l.values[models.FieldEmail]; !email.Unparseable && email.Canonical != "" {
			add("email:"+email.Canonical, l)
		}
		name := l.values[models.FieldName]
		if len(name.Tokens) > 0 {
			// Phonetic last-name key catches spelling variants
			last := name.Tokens[len(name.Tokens)-1]
			key := "name:" + e.scorer.Soundex(last)
			if loc := l.values[models.FieldLocation]; len(loc.Tokens) > 0 {
				key += ":" + loc.Tokens[0]
			}
			add(key, l)
		}
	}

	return partitions
}

// dedupePairs expands partitions into a unique candidate pair list.
// Leads sharing several keys are still compared once.
func dedupePairs(partitions map[string][]*scanLead) []candidatePair {
	keys := make([]string, 0, len(partitions))
	for k := range partitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool)
	var out []candidatePair
	for _, key := range keys {
		bucket := partitions[key]
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				if a.lead.ID == b.lead.ID {
					continue
				}
				pairKey := orderedKey(a.lead.ID, b.lead.ID)
				if seen[pairKey] {
					continue
				}
				seen[pairKey] = true
				out = append(out, candidatePair{a: a, b: b})
			}
		}
	}
	return out
}

func orderedKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

func chunkPairs(pairs []candidatePair, workers int) [][]candidatePair {
	if len(pairs) == 0 {
		return nil
	}
	size := (len(pairs) + workers - 1) / workers
	var chunks [][]candidatePair
	for start := 0; start < len(pairs); start += size {
		end := start + size
		if end > len(pairs) {
			end = len(pairs)
		}
		chunks = append(chunks, pairs[start:end])
	}
	return chunks
}

func (e *Engine) processChunk(ctx context.Context, chunk []candidatePair, floor int, summary *models.ScanSummary, mu *sync.Mutex) {
	chunkCtx, cancel := context.WithTimeout(ctx, e.config.PartitionTimeout)
	defer cancel()

	for _, cand := range chunk {
		if chunkCtx.Err() != nil {
			e.logger.WithContext(ctx).Warn("Scan partition timed out")
			return
		}

		pair, ok := e.scorePair(cand.a, cand.b)
		if !ok || pair.Confidence < floor {
			continue
		}

		created, skipped, err := e.persistPair(chunkCtx, pair)
		if err != nil {
			e.logger.WithContext(chunkCtx).WithError(err).WithFields(map[string]any{
				"primary_id":   pair.PrimaryID,
				"duplicate_id": pair.DuplicateID,
			}).Error("Failed to persist duplicate pair")
			continue
		}
		if skipped {
			continue
		}
		if created && e.emitter != nil {
			if err := e.emitter.EmitPairDetected(chunkCtx, pair); err != nil {
				e.logger.WithContext(chunkCtx).WithError(err).Warn("Failed to emit detection event")
			}
		}

		mu.Lock()
		summary.Found++
		summary.ByRisk[pair.RiskLevel]++
		mu.Unlock()
	}
}

// scorePair scores one candidate pair. Fields empty on either side are
// left out so the aggregator can renormalize the remaining weights.
func (e *Engine) scorePair(a, b *scanLead) (*models.DuplicatePair, bool) {
	scores := make(map[models.Field]float64)
	for _, field := range models.ComparableFields {
		va, vb := a.values[field], b.values[field]
		if va.IsEmpty() || vb.IsEmpty() {
			continue
		}
		scores[field] = e.scorer.FieldScore(field, va, vb)
	}
	if len(scores) == 0 {
		return nil, false
	}

	confidence, matched := e.aggregator.Aggregate(scores)

	primary, duplicate := pickPrimary(a, b)

	scoreMap := make(models.ScoreMap, len(scores))
	for f, s := range scores {
		scoreMap[f] = s
	}
	matchedFields := make(models.StringList, len(matched))
	for i, f := range matched {
		matchedFields[i] = string(f)
	}

	return &models.DuplicatePair{
		PrimaryID:      primary.lead.ID,
		DuplicateID:    duplicate.lead.ID,
		PerFieldScores: scoreMap,
		Confidence:     confidence,
		RiskLevel:      models.RiskLevelFor(confidence),
		MatchedFields:  matchedFields,
		Status:         models.PairStatusPending,
	}, true
}

// pickPrimary chooses the record to keep by default: the older one, with
// lead score then id as tie breakers so the choice is deterministic
func pickPrimary(a, b *scanLead) (*scanLead, *scanLead) {
	if a.lead.CreatedAt.Before(b.lead.CreatedAt) {
		return a, b
	}
	if b.lead.CreatedAt.Before(a.lead.CreatedAt) {
		return b, a
	}
	if a.lead.LeadScore != b.lead.LeadScore {
		if a.lead.LeadScore > b.lead.LeadScore {
			return a, b
		}
		return b, a
	}
	if a.lead.ID < b.lead.ID {
		return a, b
	}
	return b, a
}

// persistPair upserts a pair with bounded retries. Reports whether a new
// row was created and whether the pair was skipped because it is already
// decided.
func (e *Engine) persistPair(ctx context.Context, pair *models.DuplicatePair) (created, skipped bool, err error) {
	for attempt := 0; attempt <= e.config.WriteRetries; attempt++ {
		created, skipped, err = e.upsertPair(ctx, pair)
		if err == nil {
			return created, skipped, nil
		}
	}
	return false, false, err
}

func (e *Engine) upsertPair(ctx context.Context, pair *models.DuplicatePair) (bool, bool, error) {
	existing, err := e.pairs.GetLatestByLeadPair(ctx, pair.PrimaryID, pair.DuplicateID)
	if err != nil {
		if !isNotFound(err) {
			return false, false, err
		}
		_, err := e.pairs.Create(ctx, pair)
		return err == nil, false, err
	}

	// Decided pairs stay decided; re-evaluation reopens them explicitly
	if existing.Status.IsTerminal() {
		return false, true, nil
	}

	pair.ID = existing.ID
	pair.Status = existing.Status
	pair.DetectedAt = existing.DetectedAt
	return false, false, e.pairs.UpdateScores(ctx, pair)
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
