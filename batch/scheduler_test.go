package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/budget"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	sptest "github.com/signalpress/signalpress/internal/testing"
)

// fakeEngine analyzes every article with a fixed cost; IDs listed in fail
// always error.
type fakeEngine struct {
	mu             sync.Mutex
	costPer        float64
	fail           map[string]bool
	analyzed       []string
	signalStrength float64
	validateErr    error
	validateCalls  int
}

func (f *fakeEngine) Analyze(ctx context.Context, article inference.Article) (*inference.Analysis, *inference.Usage, error) {
	f.mu.Lock()
	f.analyzed = append(f.analyzed, article.ID)
	f.mu.Unlock()

	usage := &inference.Usage{TotalTokens: 100, CostUSD: f.costPer}
	if f.fail[article.ID] {
		return nil, usage, errors.Wrapf(errors.ErrAgentFailure, "analysis of %s", article.ID)
	}
	strength := f.signalStrength
	if strength == 0 {
		strength = 0.8
	}
	return &inference.Analysis{
		SignalStrength: strength,
		Uniqueness:     0.75,
		Confidence:     0.9,
		Summary:        "summary of " + article.ID,
	}, usage, nil
}

func (f *fakeEngine) Select(context.Context, []inference.Candidate) (*inference.Selection, *inference.Usage, error) {
	return nil, nil, errors.New("not implemented")
}

func (f *fakeEngine) Synthesize(context.Context, []inference.Candidate) (*inference.Synthesis, *inference.Usage, error) {
	return nil, nil, errors.New("not implemented")
}

func (f *fakeEngine) Write(context.Context, inference.Synthesis) (*inference.Draft, *inference.Usage, error) {
	return nil, nil, errors.New("not implemented")
}

func (f *fakeEngine) Validate(context.Context, inference.Candidate) (*inference.Validation, *inference.Usage, error) {
	f.mu.Lock()
	f.validateCalls++
	f.mu.Unlock()

	usage := &inference.Usage{TotalTokens: 50, CostUSD: f.costPer}
	if f.validateErr != nil {
		return nil, usage, f.validateErr
	}
	return &inference.Validation{Status: "VALIDATED"}, usage, nil
}

func batchTestConfig() config.BatchConfig {
	return config.BatchConfig{
		Size:               2,
		Workers:            2,
		ItemTimeoutSeconds: 300,
		MinContentLength:   100,
		MaxRetries:         1, // no in-test backoff sleeps
	}
}

func seedArticles(t *testing.T, store *articles.Store, n int) {
	t.Helper()
	content := make([]byte, 500)
	for i := range content {
		content[i] = 'x'
	}
	for i := 0; i < n; i++ {
		require.NoError(t, store.InsertArticle(&articles.Article{
			ID:          fmt.Sprintf("art-%02d", i),
			Title:       fmt.Sprintf("Article %d", i),
			URL:         fmt.Sprintf("https://example.com/%d", i),
			Content:     string(content),
			PublishedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}))
	}
}

func newTestScheduler(t *testing.T, engine inference.Engine, budgetCfg config.BudgetConfig) (*Scheduler, *Store, *articles.Store, *budget.Governor) {
	t.Helper()
	db := sptest.CreateTestDB(t)
	store := NewStore(db)
	articleStore := articles.NewStore(db)
	governor := budget.NewGovernor(db, budgetCfg, nil)
	sched := NewScheduler(store, articleStore, governor, engine, nil, batchTestConfig())
	return sched, store, articleStore, governor
}

func TestStartSessionPartitionsAndOpensLedger(t *testing.T) {
	engine := &fakeEngine{costPer: 0.001}
	sched, store, articleStore, governor := newTestScheduler(t, engine, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	})
	seedArticles(t, articleStore, 5)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, session.TotalItemCount)
	assert.Equal(t, 3, session.TotalBatches) // ceil(5/2)
	assert.InDelta(t, 5*0.0013, session.EstimatedCost, 1e-9)

	batches, err := store.ListBatches(session.ID)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].ItemIDs, 2)
	assert.Len(t, batches[2].ItemIDs, 1)

	ledger, err := governor.Status(session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ledger.Ceiling, 1e-9)
}

func TestStartSessionWithNothingToAnalyze(t *testing.T) {
	engine := &fakeEngine{}
	sched, _, _, _ := newTestScheduler(t, engine, config.BudgetConfig{MaxTotalUSD: 1.0, PerItemUSD: 0.0013})

	_, err := sched.StartSession(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInsufficientContent(err))
}

func TestRunAnalyzesAllItems(t *testing.T) {
	engine := &fakeEngine{costPer: 0.001}
	sched, store, articleStore, governor := newTestScheduler(t, engine, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	})
	seedArticles(t, articleStore, 5)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), session.ID))

	final, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, final.Status)
	assert.Equal(t, 5, final.ItemsSucceeded)
	assert.Equal(t, 0, final.ItemsFailed)
	assert.InDelta(t, 5*0.001, final.ActualCost, 1e-9)

	// every reservation settled: nothing left reserved
	ledger, err := governor.Status(session.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, ledger.Reserved, 1e-9)
	assert.InDelta(t, 5*0.001, ledger.Spent, 1e-9)

	// results persisted for the pipeline to pick up
	analyzed, err := articleStore.LatestAnalyses(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, analyzed, 5)
}

func TestRunRecordsPartialOutcome(t *testing.T) {
	engine := &fakeEngine{costPer: 0.001, fail: map[string]bool{"art-01": true}}
	sched, store, articleStore, _ := newTestScheduler(t, engine, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	})
	seedArticles(t, articleStore, 4)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), session.ID))

	// one failed item leaves the session terminal-COMPLETED with counts
	final, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, final.Status)
	assert.Equal(t, 3, final.ItemsSucceeded)
	assert.Equal(t, 1, final.ItemsFailed)

	batches, err := store.ListBatches(session.ID)
	require.NoError(t, err)
	for _, b := range batches {
		assert.Equal(t, BatchCompleted, b.Status)
	}
}

func TestBudgetDenialCancelsUndispatchedBatches(t *testing.T) {
	engine := &fakeEngine{costPer: 0.001}
	// ceiling covers only the first reservation of 2 x 0.0013
	sched, store, articleStore, _ := newTestScheduler(t, engine, config.BudgetConfig{
		MaxTotalUSD: 0.003, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	})
	seedArticles(t, articleStore, 6)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), session.ID))

	final, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, final.Status)
	assert.Equal(t, "budget ceiling reached", final.Error)
	assert.Less(t, final.ItemsSucceeded, 6)
	assert.Greater(t, final.ItemsSucceeded, 0)

	batches, err := store.ListBatches(session.ID)
	require.NoError(t, err)
	var cancelled int
	for _, b := range batches {
		if b.Status == BatchCancelled {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0)
}

// completePriorBatch simulates a batch a previous process finished before
// crashing: its analyses are persisted and its record is COMPLETED, but the
// session never reached a terminal status.
func completePriorBatch(t *testing.T, store *Store, articleStore *articles.Store, rec Record, costPer float64) {
	t.Helper()
	for _, id := range rec.ItemIDs {
		require.NoError(t, articleStore.SaveAnalysis(&articles.AnalysisResult{
			ArticleID:      id,
			SignalStrength: 0.7,
			Uniqueness:     0.75,
			Confidence:     0.9,
			Cost:           costPer,
			ProducedAt:     time.Now(),
		}))
	}
	cost := costPer * float64(len(rec.ItemIDs))
	require.NoError(t, store.UpdateBatch(rec.SessionID, rec.BatchNumber, BatchCompleted, 0, cost, ""))
	require.NoError(t, store.MarkSessionStarted(rec.SessionID))
}

func TestResumedSessionKeepsPriorBatchOutcomes(t *testing.T) {
	engine := &fakeEngine{costPer: 0.001}
	sched, store, articleStore, _ := newTestScheduler(t, engine, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	})
	seedArticles(t, articleStore, 4)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)

	batches, err := store.ListBatches(session.ID)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	completePriorBatch(t, store, articleStore, batches[0], 0.001)

	require.NoError(t, sched.Run(context.Background(), session.ID))

	// the resume only analyzed the second batch's items
	assert.Len(t, engine.analyzed, 2)

	final, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, final.Status)
	assert.Equal(t, 4, final.ItemsSucceeded)
	assert.Equal(t, 0, final.ItemsFailed)

	// session cost covers the prior batch too: equal to the sum over
	// batch records, not just what this Run call spent
	resumed, err := store.ListBatches(session.ID)
	require.NoError(t, err)
	var sum float64
	for _, b := range resumed {
		sum += b.ActualCost
	}
	assert.InDelta(t, sum, final.ActualCost, 1e-9)
	assert.InDelta(t, 4*0.001, final.ActualCost, 1e-9)
}

func TestResumeWithFailingRemainderStaysCompleted(t *testing.T) {
	// the items of the not-yet-run second batch all fail on resume
	engine := &fakeEngine{costPer: 0.001, fail: map[string]bool{"art-02": true, "art-03": true}}
	sched, store, articleStore, _ := newTestScheduler(t, engine, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	})
	seedArticles(t, articleStore, 4)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)

	batches, err := store.ListBatches(session.ID)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	completePriorBatch(t, store, articleStore, batches[0], 0.001)

	require.NoError(t, sched.Run(context.Background(), session.ID))

	// the prior batch's successes keep the session out of FAILED
	final, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, final.Status)
	assert.Equal(t, 2, final.ItemsSucceeded)
	assert.Equal(t, 2, final.ItemsFailed)
}

func TestRunIsIdempotentOnTerminalSession(t *testing.T) {
	engine := &fakeEngine{costPer: 0.001}
	sched, store, articleStore, _ := newTestScheduler(t, engine, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	})
	seedArticles(t, articleStore, 2)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), session.ID))

	analyzedOnce := len(engine.analyzed)
	require.NoError(t, sched.Run(context.Background(), session.ID))
	assert.Equal(t, analyzedOnce, len(engine.analyzed))

	final, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, final.Status)
}

func TestStrongSignalsGetValidated(t *testing.T) {
	engine := &fakeEngine{costPer: 0.001, signalStrength: 0.9}
	db := sptest.CreateTestDB(t)
	store := NewStore(db)
	articleStore := articles.NewStore(db)
	governor := budget.NewGovernor(db, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	}, nil)

	cfg := batchTestConfig()
	cfg.ValidationSignalThreshold = 0.8
	sched := NewScheduler(store, articleStore, governor, engine, nil, cfg)
	seedArticles(t, articleStore, 2)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), session.ID))

	assert.Equal(t, 2, engine.validateCalls)

	analyzed, err := articleStore.LatestAnalyses(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, analyzed, 2)
	for _, item := range analyzed {
		assert.Equal(t, articles.ValidationValidated, item.Analysis.ValidationStatus)
	}
}

func TestValidationTimeoutRetriesOnceThenInconclusive(t *testing.T) {
	engine := &fakeEngine{
		costPer:        0.001,
		signalStrength: 0.9,
		validateErr:    errors.Wrap(errors.ErrValidationTimeout, "validation timed out"),
	}
	db := sptest.CreateTestDB(t)
	store := NewStore(db)
	articleStore := articles.NewStore(db)
	governor := budget.NewGovernor(db, config.BudgetConfig{
		MaxTotalUSD: 1.0, PerItemUSD: 0.0013, WarningThreshold: 0.67, CriticalThreshold: 0.83,
	}, nil)

	cfg := batchTestConfig()
	cfg.ValidationSignalThreshold = 0.8
	sched := NewScheduler(store, articleStore, governor, engine, nil, cfg)
	seedArticles(t, articleStore, 1)

	session, err := sched.StartSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sched.Run(context.Background(), session.ID))

	// one retry after the first timeout, then give up
	assert.Equal(t, 2, engine.validateCalls)

	// the item itself still counts as analyzed
	final, err := store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionCompleted, final.Status)
	assert.Equal(t, 1, final.ItemsSucceeded)

	analyzed, err := articleStore.LatestAnalyses(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, analyzed, 1)
	assert.Equal(t, articles.ValidationInconclusive, analyzed[0].Analysis.ValidationStatus)
}

func TestClaimRetriggerFiresOnce(t *testing.T) {
	db := sptest.CreateTestDB(t)
	store := NewStore(db)

	session := &Session{ID: "sess-1", TotalItemCount: 2, TotalBatches: 1}
	require.NoError(t, store.CreateSession(session, []Record{{BatchNumber: 1, ItemIDs: []string{"a", "b"}}}))

	claimed, err := store.ClaimRetrigger("sess-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.ClaimRetrigger("sess-1")
	require.NoError(t, err)
	assert.False(t, claimed)
}
