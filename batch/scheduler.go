package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/alert"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/budget"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
)

// maxSessionItems caps how many articles one session will take on
const maxSessionItems = 500

// Scheduler partitions pending articles into batches and runs them through
// the AI service under budget governance.
type Scheduler struct {
	store    *Store
	articles *articles.Store
	governor *budget.Governor
	engine   inference.Engine
	notifier alert.Notifier
	cfg      config.BatchConfig
	policy   RetryPolicy
	logger   *zap.SugaredLogger
}

// NewScheduler creates a batch scheduler
func NewScheduler(
	store *Store,
	articleStore *articles.Store,
	governor *budget.Governor,
	engine inference.Engine,
	notifier alert.Notifier,
	cfg config.BatchConfig,
) *Scheduler {
	if notifier == nil {
		notifier = alert.NewLogNotifier(nil)
	}
	return &Scheduler{
		store:    store,
		articles: articleStore,
		governor: governor,
		engine:   engine,
		notifier: notifier,
		cfg:      cfg,
		policy:   PolicyFromConfig(cfg),
		logger:   logger.Named("batch"),
	}
}

// StartSession creates a new analysis session over all currently unanalyzed
// articles. The session and its partition are persisted atomically and the
// budget ledger is opened, but no batch runs yet; call Run to execute.
func (s *Scheduler) StartSession(ctx context.Context) (*Session, error) {
	pending, err := s.articles.ListUnanalyzed(s.cfg.MinContentLength, maxSessionItems)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, errors.Wrap(errors.ErrInsufficientContent, "no unanalyzed articles")
	}

	itemIDs := make([]string, len(pending))
	for i, a := range pending {
		itemIDs[i] = a.ID
	}

	parts := Partition(itemIDs, s.cfg.Size)
	records := make([]Record, len(parts))
	var estimated float64
	for i, part := range parts {
		cost := s.governor.EstimateCost(len(part))
		estimated += cost
		records[i] = Record{
			BatchNumber:   i + 1,
			ItemIDs:       part,
			EstimatedCost: cost,
		}
	}

	session := &Session{
		ID:             uuid.New().String(),
		TotalItemCount: len(itemIDs),
		TotalBatches:   len(parts),
		EstimatedCost:  estimated,
		Status:         SessionInitiated,
	}

	if err := s.store.CreateSession(session, records); err != nil {
		return nil, err
	}
	if err := s.governor.OpenLedger(session.ID); err != nil {
		return nil, err
	}

	s.logger.Infow("Batch session created",
		"session_id", session.ID,
		"items", session.TotalItemCount,
		"batches", session.TotalBatches,
		"estimated_cost_usd", estimated)

	return session, nil
}

// sessionProgress carries the budget-denial latch across batch workers.
// Item and cost outcomes live in the batch records and analysis rows, so a
// resumed session settles on the same numbers as an uninterrupted one.
type sessionProgress struct {
	mu           sync.Mutex
	budgetDenied bool
}

func (p *sessionProgress) denyBudget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.budgetDenied = true
}

func (p *sessionProgress) denied() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budgetDenied
}

// Run executes a session's pending batches. It is safe to call on a session
// that already ran: completed batches are skipped, so the monitor can use
// the same path to resume a crashed or stalled session.
func (s *Scheduler) Run(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session.Terminal() {
		return nil
	}

	if err := s.store.MarkSessionStarted(sessionID); err != nil {
		return err
	}

	all, err := s.store.ListBatches(sessionID)
	if err != nil {
		return err
	}

	var pending []Record
	for _, r := range all {
		if r.Status == BatchPending || r.Status == BatchProcessing {
			pending = append(pending, r)
		}
	}

	engine := inference.Scoped(s.engine, "batch_session", sessionID)
	progress := &sessionProgress{}

	sem := make(chan struct{}, s.workers())
	var wg sync.WaitGroup

	for _, rec := range pending {
		if ctx.Err() != nil || progress.denied() {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(rec Record) {
			defer wg.Done()
			defer func() { <-sem }()
			s.runBatch(ctx, engine, sessionID, rec, progress)
		}(rec)

		// pace dispatch so the gateway is not hit with a thundering herd
		if err := sleep(ctx, s.cfg.InterBatchDelay()); err != nil {
			break
		}
	}

	wg.Wait()

	return s.finishSession(sessionID, progress)
}

func (s *Scheduler) workers() int {
	if s.cfg.Workers > 0 {
		return s.cfg.Workers
	}
	return 1
}

// runBatch reserves budget, analyzes each item, and settles the reservation
// against real spend. Failed items are retried within the batch per the
// retry policy before the batch goes terminal.
func (s *Scheduler) runBatch(ctx context.Context, engine inference.Engine, sessionID string, rec Record, progress *sessionProgress) {
	log := s.logger.With("session_id", sessionID, "batch", rec.BatchNumber)

	if err := s.governor.Reserve(sessionID, rec.EstimatedCost); err != nil {
		if errors.IsBudgetExceeded(err) {
			progress.denyBudget()
			log.Warnw("Budget reservation denied, batch cancelled", "error", err)
			if uerr := s.store.UpdateBatch(sessionID, rec.BatchNumber, BatchCancelled, rec.RetryCount, 0, "budget ceiling reached"); uerr != nil {
				log.Errorw("Failed to cancel batch", "error", uerr)
			}
			return
		}
		log.Errorw("Budget reservation failed", "error", err)
		return
	}

	if err := s.store.UpdateBatch(sessionID, rec.BatchNumber, BatchProcessing, rec.RetryCount, 0, ""); err != nil {
		log.Errorw("Failed to mark batch processing", "error", err)
	}

	var batchCost float64
	succeeded := make(map[string]bool, len(rec.ItemIDs))
	remaining := rec.ItemIDs
	attempt := rec.RetryCount
	var lastErr string

	for {
		var failedItems []string
		for _, itemID := range remaining {
			if ctx.Err() != nil {
				break
			}

			cost, err := s.analyzeItem(ctx, engine, itemID)
			batchCost += cost
			if err != nil {
				lastErr = err.Error()
				failedItems = append(failedItems, itemID)
				log.Warnw("Item analysis failed",
					"article_id", itemID,
					"attempt", attempt+1,
					"error", err)
			} else {
				succeeded[itemID] = true
			}

			// heartbeat for the stall sweeper
			if err := s.store.TouchSession(sessionID); err != nil {
				log.Warnw("Failed to touch session", "error", err)
			}
		}

		if len(failedItems) == 0 || ctx.Err() != nil {
			break
		}

		attempt++
		if s.policy.Exhausted(attempt) {
			remaining = failedItems
			break
		}

		backoff := s.policy.BackoffFor(attempt)
		log.Infow("Retrying failed items",
			"failed", len(failedItems),
			"attempt", attempt+1,
			"backoff", backoff)
		if err := sleep(ctx, backoff); err != nil {
			remaining = failedItems
			break
		}
		remaining = failedItems
	}

	if err := s.governor.Reconcile(sessionID, rec.EstimatedCost, batchCost); err != nil {
		log.Errorw("Budget reconciliation failed", "error", err)
	}

	okCount := len(succeeded)
	failCount := len(rec.ItemIDs) - okCount

	// a batch fails only when nothing in it succeeded; item failures are
	// recorded in the counts and never fail the batch on their own
	status := BatchCompleted
	if okCount == 0 {
		status = BatchFailed
	}
	if err := s.store.UpdateBatch(sessionID, rec.BatchNumber, status, attempt, batchCost, lastErr); err != nil {
		log.Errorw("Failed to record batch outcome", "error", err)
	}

	log.Infow("Batch finished",
		"status", status,
		"succeeded", okCount,
		"failed", failCount,
		"cost_usd", batchCost)
}

// analyzeItem runs one article through analysis under the per-item timeout
// and persists the result. Returns the real cost of the call even on failure
// so partial spend is reconciled.
func (s *Scheduler) analyzeItem(ctx context.Context, engine inference.Engine, itemID string) (float64, error) {
	timeout := s.cfg.ItemTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	article, err := s.articles.GetArticle(itemID)
	if err != nil {
		return 0, err
	}

	analysis, usage, err := engine.Analyze(itemCtx, inference.Article{
		ID:           article.ID,
		Title:        article.Title,
		Content:      article.Content,
		SourceDomain: article.SourceDomain,
		PublishedAt:  article.PublishedAt,
	})

	var cost float64
	if usage != nil {
		cost = usage.CostUSD
	}
	if err != nil {
		return cost, err
	}

	result := &articles.AnalysisResult{
		ArticleID:      article.ID,
		SignalStrength: analysis.SignalStrength,
		Uniqueness:     analysis.Uniqueness,
		Confidence:     analysis.Confidence,
		Summary:        analysis.Summary,
		Cost:           cost,
	}

	strong := s.cfg.ValidationSignalThreshold > 0 &&
		analysis.SignalStrength >= s.cfg.ValidationSignalThreshold
	if strong {
		result.ValidationStatus = articles.ValidationPending
	}

	if err := s.articles.SaveAnalysis(result); err != nil {
		return cost, err
	}

	if strong {
		cost += s.validateSignal(itemCtx, engine, result)
	}

	return cost, nil
}

// validateSignal runs the research-validation pass for a strong signal.
// A timeout is retried once; a second timeout marks the item INCONCLUSIVE
// and processing continues. Validation failures never fail the item.
func (s *Scheduler) validateSignal(ctx context.Context, engine inference.Engine, result *articles.AnalysisResult) float64 {
	log := s.logger.With("article_id", result.ArticleID)

	candidate := inference.Candidate{
		ArticleID:      result.ArticleID,
		Summary:        result.Summary,
		SignalStrength: result.SignalStrength,
		Uniqueness:     result.Uniqueness,
		Confidence:     result.Confidence,
	}

	var totalCost float64
	for attempt := 0; attempt < 2; attempt++ {
		validation, usage, err := engine.Validate(ctx, candidate)
		if usage != nil {
			totalCost += usage.CostUSD
		}
		if err == nil {
			status := articles.ValidationValidated
			if validation.Status != "VALIDATED" {
				status = articles.ValidationFailed
			}
			if serr := s.articles.MarkValidationAttempt(result.ID, status); serr != nil {
				log.Errorw("Failed to record validation verdict", "error", serr)
			}
			return totalCost
		}
		if !errors.Is(err, errors.ErrValidationTimeout) {
			log.Warnw("Signal validation failed", "error", err)
			if serr := s.articles.MarkValidationAttempt(result.ID, articles.ValidationFailed); serr != nil {
				log.Errorw("Failed to record validation failure", "error", serr)
			}
			return totalCost
		}
		log.Warnw("Signal validation timed out", "attempt", attempt+1)
	}

	if serr := s.articles.MarkValidationAttempt(result.ID, articles.ValidationInconclusive); serr != nil {
		log.Errorw("Failed to mark validation inconclusive", "error", serr)
	}
	return totalCost
}

// finishSession cancels what could not run and records the terminal status.
// Terminal counters are derived from persisted state, not the in-process
// progress of this Run call: a resumed session must credit the batches a
// previous process already completed, so actual_cost is summed over batch
// records and the success count comes from the analysis rows themselves.
func (s *Scheduler) finishSession(sessionID string, progress *sessionProgress) error {
	if progress.denied() {
		cancelled, err := s.store.CancelPendingBatches(sessionID, "budget ceiling reached")
		if err != nil {
			return err
		}
		if cancelled > 0 {
			s.logger.Warnw("Undispatched batches cancelled after budget denial",
				"session_id", sessionID,
				"cancelled", cancelled)
		}
	}

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	batches, err := s.store.ListBatches(sessionID)
	if err != nil {
		return err
	}

	var actualCost float64
	var itemIDs []string
	for _, b := range batches {
		actualCost += b.ActualCost
		itemIDs = append(itemIDs, b.ItemIDs...)
	}

	// sessions only ever take unanalyzed articles, so any analysis row for
	// a session item was produced by this session (first run or resume)
	succeeded, err := s.articles.CountAnalyzed(itemIDs)
	if err != nil {
		return err
	}
	failed := session.TotalItemCount - succeeded

	// partial completion is terminal COMPLETED with counts; FAILED is
	// reserved for sessions where nothing was analyzed at all
	status := SessionCompleted
	errMsg := ""
	switch {
	case succeeded == 0 && session.TotalItemCount > 0:
		status = SessionFailed
		errMsg = "no items analyzed"
	case succeeded < session.TotalItemCount && progress.denied():
		errMsg = "budget ceiling reached"
	}

	if err := s.store.FinishSession(sessionID, status, succeeded, failed, actualCost, errMsg); err != nil {
		return err
	}

	if status == SessionFailed {
		s.notifier.SessionFailed(sessionID, errMsg)
	}

	s.logger.Infow("Batch session finished",
		"session_id", sessionID,
		"status", status,
		"succeeded", succeeded,
		"failed", failed,
		"actual_cost_usd", actualCost)

	return nil
}
