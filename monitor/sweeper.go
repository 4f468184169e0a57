// Package monitor runs the fixed-interval recovery sweep: stalled batch
// sessions get one bounded re-trigger, missed publication slots get a
// recovery generation run, and inconclusive validations are re-queued.
package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/batch"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
	"github.com/signalpress/signalpress/pipeline"
)

// memoryWarnPercent is the used-memory level that triggers a warning log
const memoryWarnPercent = 90.0

// Sweeper performs the periodic recovery sweep
type Sweeper struct {
	sessions  *batch.Store
	scheduler *batch.Scheduler
	runs      *pipeline.Store
	runner    *pipeline.Runner
	articles  *articles.Store
	engine    inference.Engine
	cfg       config.MonitorConfig
	selection config.SelectionConfig
	types     []string
	logger    *zap.SugaredLogger

	now func() time.Time
}

// NewSweeper creates a recovery sweeper
func NewSweeper(
	sessions *batch.Store,
	scheduler *batch.Scheduler,
	runs *pipeline.Store,
	runner *pipeline.Runner,
	articleStore *articles.Store,
	engine inference.Engine,
	cfg config.MonitorConfig,
	selection config.SelectionConfig,
	publicationTypes []string,
) *Sweeper {
	return &Sweeper{
		sessions:  sessions,
		scheduler: scheduler,
		runs:      runs,
		runner:    runner,
		articles:  articleStore,
		engine:    engine,
		cfg:       cfg,
		selection: selection,
		types:     publicationTypes,
		logger:    logger.Named("monitor"),
		now:       time.Now,
	}
}

// Start sweeps at the configured interval until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infow("Recovery sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Recovery sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full recovery pass. Each concern recovers independently;
// one failing does not block the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.recoverStalledSessions(ctx)
	s.recoverMissedSlots(ctx)
	s.requeueInconclusive(ctx)
	s.logMemoryStats()
}

// recoverStalledSessions re-triggers PROCESSING sessions with no heartbeat
// past the stall timeout. The re-trigger latch in the session row bounds
// recovery to a single attempt per session.
func (s *Sweeper) recoverStalledSessions(ctx context.Context) {
	stallTimeout := time.Duration(s.cfg.StallTimeoutMinutes) * time.Minute
	if stallTimeout <= 0 {
		stallTimeout = 30 * time.Minute
	}

	stalled, err := s.sessions.ListStalled(s.now().Add(-stallTimeout))
	if err != nil {
		s.logger.Errorw("Stall scan failed", "error", err)
		return
	}

	for _, sess := range stalled {
		claimed, err := s.sessions.ClaimRetrigger(sess.ID)
		if err != nil {
			s.logger.Errorw("Failed to claim re-trigger", "session_id", sess.ID, "error", err)
			continue
		}
		if !claimed {
			// already re-triggered once; leave it for operators
			s.logger.Warnw("Session stalled again after re-trigger, giving up",
				"session_id", sess.ID)
			continue
		}

		s.logger.Warnw("Re-triggering stalled session", "session_id", sess.ID)
		if err := s.scheduler.Run(ctx, sess.ID); err != nil {
			s.logger.Errorw("Stalled session recovery failed",
				"session_id", sess.ID, "error", err)
		}
	}
}

// recoverMissedSlots generates for past publication slots that have enough
// qualifying content but no run. Idempotent: slots that already have a run
// in any state are skipped.
func (s *Sweeper) recoverMissedSlots(ctx context.Context) {
	lookback := s.cfg.MissedSlotLookback
	if lookback <= 0 {
		lookback = 3
	}

	for _, pubType := range s.types {
		for daysAgo := 1; daysAgo <= lookback; daysAgo++ {
			date := s.now().AddDate(0, 0, -daysAgo).Format(pipeline.DateFormat)

			hasRun, err := s.runs.SlotHasRun(pubType, date)
			if err != nil {
				s.logger.Errorw("Missed slot check failed",
					"publication_type", pubType, "target_date", date, "error", err)
				continue
			}
			if hasRun {
				continue
			}

			if !s.slotHasContent(date) {
				continue
			}

			s.logger.Warnw("Recovering missed publication slot",
				"publication_type", pubType, "target_date", date)

			run, err := s.runner.StartRun(pubType, date, false)
			if err != nil {
				if errors.IsAlreadyExists(err) {
					continue // raced with another trigger; the slot is covered
				}
				s.logger.Errorw("Missed slot recovery failed to start",
					"publication_type", pubType, "target_date", date, "error", err)
				continue
			}
			if err := s.runner.Execute(ctx, run.ID); err != nil {
				s.logger.Errorw("Missed slot recovery run failed",
					"run_id", run.ID, "error", err)
			}
		}
	}
}

// slotHasContent reports whether the day had enough qualifying analyzed
// content to have supported a run.
func (s *Sweeper) slotHasContent(date string) bool {
	day, err := time.Parse(pipeline.DateFormat, date)
	if err != nil {
		return false
	}

	analyzed, err := s.articles.LatestAnalyses(day)
	if err != nil {
		s.logger.Errorw("Content check failed", "target_date", date, "error", err)
		return false
	}

	qualifying := pipeline.FilterAndRank(analyzed, s.selection)
	return len(qualifying) >= s.selection.MinItems
}

// requeueInconclusive retries validation for INCONCLUSIVE items, bounded by
// the per-item retry limit. Items that failed analysis outright have no
// result row and re-enter naturally through the next session's backlog scan.
func (s *Sweeper) requeueInconclusive(ctx context.Context) {
	maxRetries := s.cfg.MaxItemRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	pending, err := s.articles.ListInconclusive(maxRetries)
	if err != nil {
		s.logger.Errorw("Inconclusive scan failed", "error", err)
		return
	}

	for _, result := range pending {
		validation, _, err := s.engine.Validate(ctx, inference.Candidate{
			ArticleID:      result.ArticleID,
			Summary:        result.Summary,
			SignalStrength: result.SignalStrength,
			Uniqueness:     result.Uniqueness,
			Confidence:     result.Confidence,
		})

		status := articles.ValidationInconclusive
		switch {
		case err == nil && validation.Status == "VALIDATED":
			status = articles.ValidationValidated
		case err == nil:
			status = articles.ValidationFailed
		case !errors.Is(err, errors.ErrValidationTimeout):
			status = articles.ValidationFailed
		}

		if err := s.articles.MarkValidationAttempt(result.ID, status); err != nil {
			s.logger.Errorw("Failed to record re-validation",
				"article_id", result.ArticleID, "error", err)
			continue
		}

		s.logger.Infow("Re-validated inconclusive item",
			"article_id", result.ArticleID,
			"status", status,
			"retries", result.ValidationRetries+1)
	}
}

// logMemoryStats surfaces memory pressure in the sweep log
func (s *Sweeper) logMemoryStats() {
	stats, err := mem.VirtualMemory()
	if err != nil {
		s.logger.Debugw("Memory stats unavailable", "error", err)
		return
	}

	if stats.UsedPercent >= memoryWarnPercent {
		s.logger.Warnw("Memory pressure high",
			"used_percent", stats.UsedPercent,
			"used_mb", stats.Used/1024/1024,
			"total_mb", stats.Total/1024/1024)
		return
	}

	s.logger.Debugw("Sweep memory stats",
		"used_percent", stats.UsedPercent,
		"used_mb", stats.Used/1024/1024)
}
