package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeDB struct{}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (f *fakeDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return nil
}
func (f *fakeDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}
func (f *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, noopTx{}, nil
}
func (f *fakeDB) Unsafe() database.DB            { return f }
func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

type noopTx struct{}

func (noopTx) Commit(ctx context.Context) error   { return nil }
func (noopTx) Rollback(ctx context.Context) error { return nil }

type fakePairStore struct {
	pairs map[string]*models.DuplicatePair
	// listFilter records the filter passed to List so tests can assert
	// it is forwarded untouched
	listFilter *models.PairFilter
	listResult []models.DuplicatePair
}

func (f *fakePairStore) Get(ctx context.Context, id string) (*models.DuplicatePair, error) {
	pair, ok := f.pairs[id]
	if !ok {
		return nil, fmt.Errorf("pair %s: %w", id, models.ErrNotFound)
	}
	copied := *pair
	return &copied, nil
}

func (f *fakePairStore) GetByIDs(ctx context.Context, ids []string) ([]models.DuplicatePair, error) {
	// Like the real repository's IN-clause query, duplicate ids yield one row
	seen := make(map[string]bool, len(ids))
	var out []models.DuplicatePair
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if pair, ok := f.pairs[id]; ok {
			out = append(out, *pair)
		}
	}
	return out, nil
}

func (f *fakePairStore) GetLatestByLeadPair(ctx context.Context, leadAID, leadBID string) (*models.DuplicatePair, error) {
	var latest *models.DuplicatePair
	for _, pair := range f.pairs {
		sameOrder := pair.PrimaryID == leadAID && pair.DuplicateID == leadBID
		flipped := pair.PrimaryID == leadBID && pair.DuplicateID == leadAID
		if !sameOrder && !flipped {
			continue
		}
		if latest == nil || pair.DetectedAt.After(latest.DetectedAt) {
			latest = pair
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("pair for %s/%s: %w", leadAID, leadBID, models.ErrNotFound)
	}
	copied := *latest
	return &copied, nil
}

func (f *fakePairStore) List(ctx context.Context, filter models.PairFilter) ([]models.DuplicatePair, error) {
	f.listFilter = &filter
	return f.listResult, nil
}

func (f *fakePairStore) Create(ctx context.Context, pair *models.DuplicatePair) (*models.DuplicatePair, error) {
	if pair.ID == "" {
		pair.ID = fmt.Sprintf("pair-%d", len(f.pairs)+1)
	}
	pair.DetectedAt = time.Now()
	copied := *pair
	f.pairs[pair.ID] = &copied
	return pair, nil
}

func (f *fakePairStore) UpdateStatus(ctx context.Context, id string, status models.PairStatus, decidedBy string, fromStatuses ...models.PairStatus) error {
	pair, ok := f.pairs[id]
	if !ok {
		return fmt.Errorf("pair %s: %w", id, models.ErrNotFound)
	}
	allowed := false
	for _, from := range fromStatuses {
		if pair.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return fmt.Errorf("pair %s in status %s: %w", id, pair.Status, models.ErrInvalidState)
	}
	pair.Status = status
	pair.DecidedBy = &decidedBy
	return nil
}

func (f *fakePairStore) DB() database.DB { return &fakeDB{} }

type fakeLeadStore struct {
	leads map[string]*models.LeadRecord
}

func (f *fakeLeadStore) Get(ctx context.Context, id string) (*models.LeadRecord, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, fmt.Errorf("lead %s: %w", id, models.ErrNotFound)
	}
	copied := *lead
	return &copied, nil
}

func (f *fakeLeadStore) GetByIDs(ctx context.Context, ids []string) ([]models.LeadRecord, error) {
	var out []models.LeadRecord
	for _, id := range ids {
		if lead, ok := f.leads[id]; ok {
			out = append(out, *lead)
		}
	}
	return out, nil
}

type fakeAuditStore struct {
	entries []*models.AuditEntry
}

func (f *fakeAuditStore) Append(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	copied := *entry
	copied.Timestamp = time.Now()
	f.entries = append(f.entries, &copied)
	return &copied, nil
}

func (f *fakeAuditStore) ListByPair(ctx context.Context, pairID string) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for _, e := range f.entries {
		if e.PairID == pairID {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeIgnoreEmitter struct {
	ignored []string
}

func (f *fakeIgnoreEmitter) EmitPairIgnored(ctx context.Context, pair *models.DuplicatePair, actor string) error {
	f.ignored = append(f.ignored, pair.ID+":"+actor)
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testFixture(status models.PairStatus) (*Service, *fakePairStore, *fakeAuditStore, *fakeIgnoreEmitter) {
	pairs := &fakePairStore{pairs: map[string]*models.DuplicatePair{
		"pair-1": {
			ID:            "pair-1",
			PrimaryID:     "lead-1",
			DuplicateID:   "lead-2",
			Confidence:    92,
			RiskLevel:     models.RiskHigh,
			MatchedFields: models.StringList{"email", "phone"},
			Status:        status,
		},
	}}
	leads := &fakeLeadStore{leads: map[string]*models.LeadRecord{
		"lead-1": {ID: "lead-1", Name: "Sarah Johnson"},
		"lead-2": {ID: "lead-2", Name: "Sarah J."},
	}}
	audits := &fakeAuditStore{}
	emitter := &fakeIgnoreEmitter{}
	return NewService(testLogger(), pairs, leads, audits, emitter), pairs, audits, emitter
}

func TestService_List_ForwardsFilter(t *testing.T) {
	svc, pairs, _, _ := testFixture(models.PairStatusPending)
	pairs.listResult = []models.DuplicatePair{*pairs.pairs["pair-1"]}

	filter := models.PairFilter{
		Status:     models.PairStatusPending,
		RiskLevel:  models.RiskHigh,
		SearchTerm: "sarah",
		Limit:      25,
	}
	resp, err := svc.List(context.Background(), filter)
	require.NoError(t, err)

	assert.Equal(t, 1, resp.TotalCount)
	require.NotNil(t, pairs.listFilter)
	assert.Equal(t, filter, *pairs.listFilter, "all criteria reach the store together")
}

func TestService_MarkReviewed(t *testing.T) {
	t.Run("pending pair", func(t *testing.T) {
		svc, pairs, _, _ := testFixture(models.PairStatusPending)
		require.NoError(t, svc.MarkReviewed(context.Background(), "pair-1", "alice"))
		assert.Equal(t, models.PairStatusReviewed, pairs.pairs["pair-1"].Status)
	})

	t.Run("already reviewed pair", func(t *testing.T) {
		svc, _, _, _ := testFixture(models.PairStatusReviewed)
		err := svc.MarkReviewed(context.Background(), "pair-1", "alice")
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("unknown pair", func(t *testing.T) {
		svc, _, _, _ := testFixture(models.PairStatusPending)
		err := svc.MarkReviewed(context.Background(), "missing", "alice")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestService_Ignore(t *testing.T) {
	t.Run("pending pair", func(t *testing.T) {
		svc, pairs, audits, emitter := testFixture(models.PairStatusPending)
		require.NoError(t, svc.Ignore(context.Background(), "pair-1", "alice"))

		assert.Equal(t, models.PairStatusIgnored, pairs.pairs["pair-1"].Status)
		assert.Equal(t, []string{"pair-1:alice"}, emitter.ignored)

		require.Len(t, audits.entries, 1)
		entry := audits.entries[0]
		assert.Equal(t, models.AuditActionIgnore, entry.Action)
		assert.Equal(t, "alice", entry.Actor)
		assert.Nil(t, entry.AfterSnapshot, "ignoring produces no resulting record")

		var before models.PairSnapshot
		require.NoError(t, json.Unmarshal(entry.BeforeSnapshot, &before))
		assert.Equal(t, "Sarah Johnson", before.Primary.Name)
	})

	t.Run("reviewed pair can be ignored", func(t *testing.T) {
		svc, pairs, _, _ := testFixture(models.PairStatusReviewed)
		require.NoError(t, svc.Ignore(context.Background(), "pair-1", "alice"))
		assert.Equal(t, models.PairStatusIgnored, pairs.pairs["pair-1"].Status)
	})

	t.Run("merged pair cannot be ignored", func(t *testing.T) {
		svc, _, audits, _ := testFixture(models.PairStatusMerged)
		err := svc.Ignore(context.Background(), "pair-1", "alice")
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.Empty(t, audits.entries)
	})

	t.Run("ignoring twice fails", func(t *testing.T) {
		svc, _, audits, _ := testFixture(models.PairStatusPending)
		require.NoError(t, svc.Ignore(context.Background(), "pair-1", "alice"))
		err := svc.Ignore(context.Background(), "pair-1", "bob")
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.Len(t, audits.entries, 1)
	})
}

func TestService_Reevaluate(t *testing.T) {
	t.Run("ignored pair opens a fresh pending pair", func(t *testing.T) {
		svc, pairs, audits, _ := testFixture(models.PairStatusIgnored)
		reopened, err := svc.Reevaluate(context.Background(), "pair-1", "alice")
		require.NoError(t, err)

		assert.NotEqual(t, "pair-1", reopened.ID, "the ignored pair's id is never reused")
		assert.Equal(t, models.PairStatusPending, reopened.Status)
		assert.Equal(t, "lead-1", reopened.PrimaryID)
		assert.Equal(t, "lead-2", reopened.DuplicateID)
		assert.Equal(t, 92, reopened.Confidence, "scores carry over until the next scan refreshes them")

		assert.Equal(t, models.PairStatusIgnored, pairs.pairs["pair-1"].Status, "the original stays terminal")

		require.Len(t, audits.entries, 1)
		entry := audits.entries[0]
		assert.Equal(t, "pair-1", entry.PairID)
		assert.Equal(t, models.AuditActionReevaluate, entry.Action)

		var after models.DuplicatePair
		require.NoError(t, json.Unmarshal(entry.AfterSnapshot, &after))
		assert.Equal(t, reopened.ID, after.ID, "the trail points at the fresh pair")
	})

	t.Run("re-evaluating twice fails while the fresh pair is open", func(t *testing.T) {
		svc, _, audits, _ := testFixture(models.PairStatusIgnored)
		_, err := svc.Reevaluate(context.Background(), "pair-1", "alice")
		require.NoError(t, err)

		_, err = svc.Reevaluate(context.Background(), "pair-1", "bob")
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.Len(t, audits.entries, 1)
	})

	t.Run("pending pair cannot be re-evaluated", func(t *testing.T) {
		svc, _, _, _ := testFixture(models.PairStatusPending)
		_, err := svc.Reevaluate(context.Background(), "pair-1", "alice")
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("merged pair cannot be re-evaluated", func(t *testing.T) {
		svc, _, _, _ := testFixture(models.PairStatusMerged)
		_, err := svc.Reevaluate(context.Background(), "pair-1", "alice")
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})
}

func TestService_AuditTrail(t *testing.T) {
	t.Run("returns entries in order", func(t *testing.T) {
		svc, _, _, _ := testFixture(models.PairStatusPending)
		require.NoError(t, svc.Ignore(context.Background(), "pair-1", "alice"))
		_, err := svc.Reevaluate(context.Background(), "pair-1", "alice")
		require.NoError(t, err)

		entries, err := svc.AuditTrail(context.Background(), "pair-1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, models.AuditActionIgnore, entries[0].Action)
		assert.Equal(t, models.AuditActionReevaluate, entries[1].Action)
	})

	t.Run("unknown pair", func(t *testing.T) {
		svc, _, _, _ := testFixture(models.PairStatusPending)
		_, err := svc.AuditTrail(context.Background(), "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
