package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	sptest "github.com/signalpress/signalpress/internal/testing"
)

// stageEngine scripts the three generation stages; per-stage errors can be
// injected and calls are counted to verify resume behavior.
type stageEngine struct {
	selectCalls     int
	synthesizeCalls int
	writeCalls      int

	selectErr     error
	synthesizeErr error
	writeErr      error

	synthesisConfidence float64
	draft               inference.Draft
}

func (e *stageEngine) Analyze(context.Context, inference.Article) (*inference.Analysis, *inference.Usage, error) {
	return nil, nil, errors.New("not used")
}

func (e *stageEngine) Select(ctx context.Context, candidates []inference.Candidate) (*inference.Selection, *inference.Usage, error) {
	e.selectCalls++
	if e.selectErr != nil {
		return nil, nil, e.selectErr
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ArticleID)
	}
	return &inference.Selection{ArticleIDs: ids, Rationale: "all strong"}, nil, nil
}

func (e *stageEngine) Synthesize(context.Context, []inference.Candidate) (*inference.Synthesis, *inference.Usage, error) {
	e.synthesizeCalls++
	if e.synthesizeErr != nil {
		return nil, nil, e.synthesizeErr
	}
	confidence := e.synthesisConfidence
	if confidence == 0 {
		confidence = 0.85
	}
	return &inference.Synthesis{
		Themes:     []string{"acceleration"},
		Insights:   []string{"cross-source agreement"},
		Narrative:  "the week in signals",
		Confidence: confidence,
	}, nil, nil
}

func (e *stageEngine) Write(context.Context, inference.Synthesis) (*inference.Draft, *inference.Usage, error) {
	e.writeCalls++
	if e.writeErr != nil {
		return nil, nil, e.writeErr
	}
	draft := e.draft
	if draft.Title == "" {
		draft = inference.Draft{
			Title:            "Weekly signal digest",
			ExecutiveSummary: "what mattered",
			Sections:         []inference.DraftSection{{Heading: "Lead", Body: "..."}},
			Citations:        []string{"https://example.com/a"},
			ReadTimeMinutes:  6,
			EditorialQuality: 0.85,
			Coherence:        0.8,
			Uniqueness:       0.9,
		}
	}
	return &draft, nil, nil
}

func (e *stageEngine) Validate(context.Context, inference.Candidate) (*inference.Validation, *inference.Usage, error) {
	return nil, nil, errors.New("not used")
}

func selectionConfig() config.SelectionConfig {
	return config.SelectionConfig{
		MinSignalStrength: 0.6,
		MinUniqueness:     0.7,
		MinConfidence:     0.75,
		MinItems:          3,
		MaxItems:          8,
		LookbackHours:     24,
		Weights:           config.SelectionWeights{Signal: 0.4, Uniqueness: 0.35, Relevance: 0.25},
	}
}

func newTestRunner(t *testing.T, engine inference.Engine) (*Runner, *Store, *articles.Store) {
	t.Helper()
	db := sptest.CreateTestDB(t)
	store := NewStore(db)
	articleStore := articles.NewStore(db)
	runner := NewRunner(store, articleStore, engine, nil, selectionConfig(), gateConfig())
	return runner, store, articleStore
}

func seedAnalyzed(t *testing.T, store *articles.Store, n int, signal, uniq, conf float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("art-%02d", i)
		require.NoError(t, store.InsertArticle(&articles.Article{
			ID:          id,
			Title:       "Article " + id,
			URL:         "https://example.com/" + id,
			Content:     "body",
			PublishedAt: time.Now(),
		}))
		require.NoError(t, store.SaveAnalysis(&articles.AnalysisResult{
			ArticleID:      id,
			SignalStrength: signal,
			Uniqueness:     uniq,
			Confidence:     conf,
			Summary:        "summary " + id,
		}))
	}
}

func TestExecuteRunsAllStagesAndPassesGate(t *testing.T) {
	engine := &stageEngine{}
	runner, store, articleStore := newTestRunner(t, engine)
	seedAnalyzed(t, articleStore, 5, 0.8, 0.85, 0.9)

	run, err := runner.StartRun("daily_brief", "2026-08-31", false)
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.ID))

	final, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageComplete, final.Stage)
	assert.Equal(t, PublishReview, final.PublishStatus)
	assert.False(t, final.RequiresManualReview)
	assert.Len(t, final.SelectedItemIDs, 5)
	assert.Equal(t, "Weekly signal digest", final.DraftTitle)
	assert.False(t, final.Degraded)
}

func TestExecuteHoldsDraftWhenGateFails(t *testing.T) {
	engine := &stageEngine{draft: inference.Draft{
		Title:            "Thin digest",
		EditorialQuality: 0.65, // below 0.7 gate threshold
		Coherence:        0.8,
		Uniqueness:       0.9,
	}}
	runner, store, articleStore := newTestRunner(t, engine)
	seedAnalyzed(t, articleStore, 4, 0.8, 0.85, 0.9)

	run, err := runner.StartRun("daily_brief", "2026-08-31", false)
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.ID))

	final, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageComplete, final.Stage)
	assert.Equal(t, PublishDraft, final.PublishStatus)
	assert.True(t, final.RequiresManualReview)
	require.Len(t, final.GateFailures, 1)
	assert.Contains(t, final.GateFailures[0], "editorial_quality")
}

func TestExecuteFailsFastOnInsufficientContent(t *testing.T) {
	engine := &stageEngine{}
	runner, store, articleStore := newTestRunner(t, engine)
	// only 2 qualifying items; selection needs 3
	seedAnalyzed(t, articleStore, 2, 0.8, 0.85, 0.9)

	run, err := runner.StartRun("daily_brief", "2026-08-31", false)
	require.NoError(t, err)

	err = runner.Execute(context.Background(), run.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInsufficientContent(err))

	// no downstream stage ran, so no downstream cost
	assert.Equal(t, 0, engine.selectCalls)
	assert.Equal(t, 0, engine.synthesizeCalls)

	final, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageFailed, final.Stage)
	assert.NotEmpty(t, final.Error)
}

func TestExecuteResumesFromRecordedStage(t *testing.T) {
	engine := &stageEngine{synthesizeErr: errors.Wrap(errors.ErrAgentFailure, "synthesis crashed")}
	runner, store, articleStore := newTestRunner(t, engine)
	seedAnalyzed(t, articleStore, 4, 0.8, 0.85, 0.9)

	run, err := runner.StartRun("daily_brief", "2026-08-31", false)
	require.NoError(t, err)
	require.Error(t, runner.Execute(context.Background(), run.ID))
	assert.Equal(t, 1, engine.selectCalls)

	// selection was durably recorded before synthesis started
	midway, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Len(t, midway.SelectedItemIDs, 4)

	// recover the failed run and resume: selection is not repeated
	engine.synthesizeErr = nil
	require.NoError(t, store.RecoverRun(run.ID))
	require.NoError(t, runner.Execute(context.Background(), run.ID))

	assert.Equal(t, 1, engine.selectCalls)
	// one failed attempt before recovery, one successful on resume
	assert.Equal(t, 2, engine.synthesizeCalls)
	assert.Equal(t, 1, engine.writeCalls)

	final, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StageComplete, final.Stage)
}

func TestLowSynthesisConfidenceDegradesButCompletes(t *testing.T) {
	engine := &stageEngine{synthesisConfidence: 0.72}
	runner, store, articleStore := newTestRunner(t, engine)
	seedAnalyzed(t, articleStore, 4, 0.8, 0.85, 0.9)

	run, err := runner.StartRun("daily_brief", "2026-08-31", false)
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.ID))

	final, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.True(t, final.Degraded)
	assert.Equal(t, StageComplete, final.Stage)
	// 0.72 >= 0.7 gate threshold: degraded runs can still pass
	assert.Equal(t, PublishReview, final.PublishStatus)
}

func TestStartRunConflictsUnlessForced(t *testing.T) {
	engine := &stageEngine{}
	runner, store, articleStore := newTestRunner(t, engine)
	seedAnalyzed(t, articleStore, 4, 0.8, 0.85, 0.9)

	run, err := runner.StartRun("daily_brief", "2026-08-31", false)
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.ID))

	_, err = runner.StartRun("daily_brief", "2026-08-31", false)
	require.Error(t, err)
	assert.True(t, errors.IsAlreadyExists(err))

	// another slot is unaffected
	_, err = runner.StartRun("daily_brief", "2026-09-01", false)
	require.NoError(t, err)

	// force resets the occupied slot back to selection
	forced, err := runner.StartRun("daily_brief", "2026-08-31", true)
	require.NoError(t, err)
	assert.Equal(t, run.ID, forced.ID)
	assert.Equal(t, StageSelecting, forced.Stage)
	assert.Empty(t, forced.SelectedItemIDs)

	fetched, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, PublishDraft, fetched.PublishStatus)
}

func TestStartRunRejectsBadDate(t *testing.T) {
	engine := &stageEngine{}
	runner, _, _ := newTestRunner(t, engine)

	_, err := runner.StartRun("daily_brief", "31-08-2026", false)
	assert.Error(t, err)
}

func TestPublishTransitions(t *testing.T) {
	engine := &stageEngine{}
	runner, store, articleStore := newTestRunner(t, engine)
	seedAnalyzed(t, articleStore, 4, 0.8, 0.85, 0.9)

	run, err := runner.StartRun("daily_brief", "2026-08-31", false)
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.ID))

	// REVIEW -> PUBLISHED -> ARCHIVED is the only forward path
	require.NoError(t, store.SetPublishStatus(run.ID, PublishPublished))
	require.NoError(t, store.SetPublishStatus(run.ID, PublishArchived))

	err = store.SetPublishStatus(run.ID, PublishReview)
	assert.Error(t, err)
}
