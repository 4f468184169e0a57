package schedule

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/signalpress/signalpress/batch"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
	"github.com/signalpress/signalpress/pipeline"
)

// minBatchGap is the minimum spacing between automatic analysis sessions
const minBatchGap = time.Hour

// Ticker fires the scheduled triggers in serve mode: analysis sessions for
// backlog and generation runs at each profile's recommended hour. Every
// firing is recorded in schedule_executions.
type Ticker struct {
	store     *Store
	adviser   *Adviser
	scheduler *batch.Scheduler
	sessions  *batch.Store
	runner    *pipeline.Runner
	runs      *pipeline.Store
	cfg       config.ScheduleConfig
	logger    *zap.SugaredLogger

	now func() time.Time
}

// NewTicker creates the trigger ticker
func NewTicker(
	store *Store,
	adviser *Adviser,
	scheduler *batch.Scheduler,
	sessions *batch.Store,
	runner *pipeline.Runner,
	runs *pipeline.Store,
	cfg config.ScheduleConfig,
) *Ticker {
	return &Ticker{
		store:     store,
		adviser:   adviser,
		scheduler: scheduler,
		sessions:  sessions,
		runner:    runner,
		runs:      runs,
		cfg:       cfg,
		logger:    logger.Named("ticker"),
		now:       time.Now,
	}
}

// Start ticks once a minute until ctx is cancelled
func (t *Ticker) Start(ctx context.Context) {
	refreshEvery := time.Duration(t.cfg.RefreshIntervalMins) * time.Minute
	if refreshEvery <= 0 {
		refreshEvery = 6 * time.Hour
	}

	t.refreshProfiles()
	lastRefresh := t.now()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	t.logger.Infow("Schedule ticker started",
		"publication_types", t.cfg.PublicationTypes)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Schedule ticker stopped")
			return
		case <-ticker.C:
			if t.now().Sub(lastRefresh) >= refreshEvery {
				t.refreshProfiles()
				lastRefresh = t.now()
			}
			t.tick(ctx)
		}
	}
}

func (t *Ticker) refreshProfiles() {
	for _, pubType := range t.cfg.PublicationTypes {
		if _, err := t.adviser.Refresh(pubType); err != nil {
			t.logger.Errorw("Profile refresh failed",
				"publication_type", pubType, "error", err)
		}
	}
}

// tick evaluates both trigger kinds once
func (t *Ticker) tick(ctx context.Context) {
	t.maybeStartAnalysis(ctx)
	t.maybeStartGeneration(ctx)
}

// maybeStartAnalysis starts a batch session when backlog exists, no session
// is active, and the last automatic session is old enough.
func (t *Ticker) maybeStartAnalysis(ctx context.Context) {
	active, err := t.sessions.ListSessionsByStatus(batch.SessionInitiated, batch.SessionProcessing)
	if err != nil {
		t.logger.Errorw("Active session check failed", "error", err)
		return
	}
	if len(active) > 0 {
		return
	}

	if last, err := t.store.LastExecution(KindBatchAnalysis); err == nil {
		if t.now().Sub(last.StartedAt) < minBatchGap {
			return
		}
	} else if !errors.IsNotFound(err) {
		t.logger.Errorw("Last execution lookup failed", "error", err)
		return
	}

	session, err := t.scheduler.StartSession(ctx)
	if err != nil {
		if errors.IsInsufficientContent(err) {
			return // nothing to analyze; try again next tick
		}
		t.logger.Errorw("Scheduled analysis failed to start", "error", err)
		return
	}

	exec, err := t.store.StartExecution(KindBatchAnalysis, session.ID)
	if err != nil {
		t.logger.Errorw("Failed to record execution", "error", err)
	}

	t.logger.Infow("Scheduled analysis session triggered", "session_id", session.ID)
	runErr := t.scheduler.Run(ctx, session.ID)
	t.closeExecution(exec, runErr)
}

// maybeStartGeneration fires each publication type's run at its recommended
// hour, once per slot per day.
func (t *Ticker) maybeStartGeneration(ctx context.Context) {
	now := t.now()
	today := now.Format(pipeline.DateFormat)

	for _, pubType := range t.cfg.PublicationTypes {
		profile, err := t.store.GetProfile(pubType)
		if err != nil {
			if !errors.IsNotFound(err) {
				t.logger.Errorw("Profile lookup failed",
					"publication_type", pubType, "error", err)
			}
			continue
		}
		if now.Hour() != profile.RecommendedTriggerHour {
			continue
		}

		hasRun, err := t.runs.SlotHasRun(pubType, today)
		if err != nil {
			t.logger.Errorw("Slot check failed",
				"publication_type", pubType, "error", err)
			continue
		}
		if hasRun {
			continue
		}

		run, err := t.runner.StartRun(pubType, today, false)
		if err != nil {
			if errors.IsAlreadyExists(err) {
				continue
			}
			t.logger.Errorw("Scheduled generation failed to start",
				"publication_type", pubType, "error", err)
			continue
		}

		exec, err := t.store.StartExecution(KindGeneration, run.ID)
		if err != nil {
			t.logger.Errorw("Failed to record execution", "error", err)
		}

		t.logger.Infow("Scheduled generation triggered",
			"publication_type", pubType,
			"run_id", run.ID)
		runErr := t.runner.Execute(ctx, run.ID)
		t.closeExecution(exec, runErr)
	}
}

func (t *Ticker) closeExecution(exec *Execution, runErr error) {
	if exec == nil {
		return
	}

	status := ExecutionCompleted
	errMsg := ""
	if runErr != nil {
		status = ExecutionFailed
		errMsg = runErr.Error()
	}
	if err := t.store.FinishExecution(exec.ID, status, errMsg); err != nil {
		t.logger.Errorw("Failed to close execution", "execution_id", exec.ID, "error", err)
	}
}
