package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/alert"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
)

// degradedConfidenceThreshold flags a run whose synthesis confidence is low
// without aborting it. Distinct from the gate threshold: degraded runs can
// still pass the gate if the draft scores hold up.
const degradedConfidenceThreshold = 0.75

// Runner executes generation runs stage by stage
type Runner struct {
	store     *Store
	articles  *articles.Store
	engine    inference.Engine
	notifier  alert.Notifier
	selection config.SelectionConfig
	gate      config.GateConfig
	logger    *zap.SugaredLogger
}

// NewRunner creates a pipeline runner
func NewRunner(
	store *Store,
	articleStore *articles.Store,
	engine inference.Engine,
	notifier alert.Notifier,
	selection config.SelectionConfig,
	gate config.GateConfig,
) *Runner {
	if notifier == nil {
		notifier = alert.NewLogNotifier(nil)
	}
	return &Runner{
		store:     store,
		articles:  articleStore,
		engine:    engine,
		notifier:  notifier,
		selection: selection,
		gate:      gate,
		logger:    logger.Named("pipeline"),
	}
}

// StartRun claims the publication slot and returns the run handle. If a run
// already occupies the slot: without force, ErrAlreadyExists unless the
// existing run is terminal-FAILED (failed slots may be retried); with
// force, the existing run is reset and rerun from selection.
func (r *Runner) StartRun(publicationType, targetDate string, force bool) (*Run, error) {
	if _, err := time.Parse(DateFormat, targetDate); err != nil {
		return nil, errors.Newf("invalid target date %q, want YYYY-MM-DD", targetDate)
	}

	existing, err := r.store.FindBySlot(publicationType, targetDate)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	if existing != nil {
		if !force && existing.Stage != StageFailed {
			return nil, errors.NewAlreadyExists("generation run %s for %s on %s",
				existing.ID, publicationType, targetDate)
		}
		if err := r.store.ResetRun(existing.ID); err != nil {
			return nil, err
		}
		return r.store.GetRun(existing.ID)
	}

	run := &Run{
		ID:              uuid.New().String(),
		PublicationType: publicationType,
		TargetDate:      targetDate,
	}
	if err := r.store.CreateRun(run); err != nil {
		return nil, err
	}

	r.logger.Infow("Generation run created",
		"run_id", run.ID,
		"publication_type", publicationType,
		"target_date", targetDate)
	return run, nil
}

// Execute drives a run from its current stage to a terminal state. Safe to
// call on a run that crashed mid-flight: completed stages are skipped
// because each stage's output was recorded before the next started.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	run, err := r.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return nil
	}

	log := r.logger.With("run_id", run.ID, "publication_type", run.PublicationType)
	engine := inference.Scoped(r.engine, "generation_run", run.ID)

	if run.Stage == StageSelecting {
		if err := r.runSelection(ctx, engine, run); err != nil {
			return r.fail(run, err)
		}
		run, err = r.store.GetRun(runID)
		if err != nil {
			return err
		}
	}

	if run.Stage == StageSynthesizing {
		if err := r.runSynthesis(ctx, engine, run); err != nil {
			return r.fail(run, err)
		}
		run, err = r.store.GetRun(runID)
		if err != nil {
			return err
		}
	}

	if run.Stage == StageWriting {
		if err := r.runWriting(ctx, engine, run); err != nil {
			return r.fail(run, err)
		}
		run, err = r.store.GetRun(runID)
		if err != nil {
			return err
		}
	}

	if run.Stage == StageGate {
		verdict := Evaluate(Scores{
			EditorialQuality:    run.EditorialQuality,
			Uniqueness:          run.Uniqueness,
			Coherence:           run.Coherence,
			SynthesisConfidence: run.SynthesisConfidence,
		}, r.gate)

		if err := r.store.RecordGate(run.ID, verdict); err != nil {
			return err
		}

		if verdict.Passed {
			log.Infow("Run passed quality gate", "publish_status", PublishReview)
		} else {
			log.Warnw("Run held at quality gate",
				"failures", verdict.Failures,
				"requires_manual_review", true)
		}
	}

	return nil
}

func (r *Runner) runSelection(ctx context.Context, engine inference.Engine, run *Run) error {
	lookback := time.Duration(r.selection.LookbackHours) * time.Hour
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}

	analyzed, err := r.articles.LatestAnalyses(time.Now().Add(-lookback))
	if err != nil {
		return err
	}

	chosen, err := selectStories(ctx, engine, analyzed, r.selection)
	if err != nil {
		return err
	}

	ids := make([]string, len(chosen))
	for i, c := range chosen {
		ids[i] = c.ArticleID
	}

	r.logger.Infow("Selection recorded",
		"run_id", run.ID,
		"selected", len(ids))
	return r.store.RecordSelection(run.ID, ids)
}

func (r *Runner) runSynthesis(ctx context.Context, engine inference.Engine, run *Run) error {
	candidates, err := r.candidatesFor(run.SelectedItemIDs)
	if err != nil {
		return err
	}

	synthesis, _, err := engine.Synthesize(ctx, candidates)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(synthesis)
	if err != nil {
		return errors.Wrap(err, "failed to encode synthesis")
	}

	degraded := synthesis.Confidence < degradedConfidenceThreshold
	if degraded {
		r.logger.Warnw("Synthesis confidence low, run degraded",
			"run_id", run.ID,
			"confidence", synthesis.Confidence)
	}

	return r.store.RecordSynthesis(run.ID, string(encoded), synthesis.Confidence, degraded)
}

func (r *Runner) runWriting(ctx context.Context, engine inference.Engine, run *Run) error {
	synthesis, err := run.Synthesis()
	if err != nil {
		return errors.Wrap(err, "corrupt synthesis record")
	}
	if synthesis == nil {
		return errors.Newf("run %s reached writing with no synthesis", run.ID)
	}

	draft, _, err := engine.Write(ctx, *synthesis)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(draft)
	if err != nil {
		return errors.Wrap(err, "failed to encode draft")
	}

	return r.store.RecordDraft(run.ID, draft.Title, string(encoded),
		draft.EditorialQuality, draft.Coherence, draft.Uniqueness)
}

// candidatesFor rebuilds stage input from the recorded selection
func (r *Runner) candidatesFor(ids []string) ([]inference.Candidate, error) {
	out := make([]inference.Candidate, 0, len(ids))
	// selection is small (3-8 items); per-item lookups keep this simple
	analyzed, err := r.articles.LatestAnalyses(time.Time{})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]articles.Analyzed, len(analyzed))
	for _, item := range analyzed {
		byID[item.Article.ID] = item
	}

	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, errors.NewNotFound("analysis for selected article %s", id)
		}
		out = append(out, inference.Candidate{
			ArticleID:      item.Article.ID,
			Title:          item.Article.Title,
			Summary:        item.Analysis.Summary,
			SignalStrength: item.Analysis.SignalStrength,
			Uniqueness:     item.Analysis.Uniqueness,
			Confidence:     item.Analysis.Confidence,
			CompositeScore: CompositeScore(item.Analysis, r.selection.Weights),
		})
	}
	return out, nil
}

// fail records the failure on this run only and notifies. Other slots'
// runs are never touched.
func (r *Runner) fail(run *Run, cause error) error {
	r.logger.Errorw("Generation run failed",
		"run_id", run.ID,
		"stage", run.Stage,
		"error", cause)

	if err := r.store.FailRun(run.ID, cause.Error()); err != nil {
		return errors.WithSecondaryError(err, cause)
	}
	r.notifier.RunFailed(run.ID, run.PublicationType, cause.Error())
	return cause
}
