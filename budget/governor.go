// Package budget enforces the per-session cost ceiling. All reservations go
// through a single guarded UPDATE so concurrent workers can never jointly
// exceed the ceiling, even across process restarts.
package budget

import (
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signalpress/signalpress/alert"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
)

// Ledger is the budget state of one batch session
type Ledger struct {
	SessionID  string     `json:"session_id" db:"session_id"`
	Ceiling    float64    `json:"ceiling" db:"ceiling"`
	Reserved   float64    `json:"reserved" db:"reserved"`
	Spent      float64    `json:"spent" db:"spent"`
	WarnedAt   *time.Time `json:"warned_at,omitempty" db:"warned_at"`
	CriticalAt *time.Time `json:"critical_at,omitempty" db:"critical_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Utilization returns spent as a fraction of the ceiling
func (l *Ledger) Utilization() float64 {
	if l.Ceiling <= 0 {
		return 0
	}
	return l.Spent / l.Ceiling
}

// Available returns the headroom left for new reservations
func (l *Ledger) Available() float64 {
	return l.Ceiling - l.Spent - l.Reserved
}

// Governor owns the budget ledger for batch sessions
type Governor struct {
	db       *sql.DB
	mu       sync.RWMutex
	cfg      config.BudgetConfig
	notifier alert.Notifier
	logger   *zap.SugaredLogger
}

// NewGovernor creates a budget governor. notifier may be nil.
func NewGovernor(db *sql.DB, cfg config.BudgetConfig, notifier alert.Notifier) *Governor {
	if notifier == nil {
		notifier = alert.NewLogNotifier(nil)
	}
	return &Governor{
		db:       db,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.Named("budget"),
	}
}

// UpdateConfig swaps in new budget limits. Applies to ledgers opened after
// the call; existing sessions keep the ceiling they started with.
func (g *Governor) UpdateConfig(cfg config.BudgetConfig) {
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
	g.logger.Infow("Budget limits updated",
		"max_total_usd", cfg.MaxTotalUSD,
		"per_item_usd", cfg.PerItemUSD)
}

func (g *Governor) config() config.BudgetConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// EstimateCost projects the cost of analyzing n items at the configured
// per-item estimate.
func (g *Governor) EstimateCost(itemCount int) float64 {
	return float64(itemCount) * g.config().PerItemUSD
}

// OpenLedger creates the ledger row for a new session with the configured
// ceiling. A session has exactly one ledger for its whole life.
func (g *Governor) OpenLedger(sessionID string) error {
	now := time.Now()
	_, err := g.db.Exec(`
		INSERT INTO budget_ledger (session_id, ceiling, reserved, spent, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?)`,
		sessionID, g.config().MaxTotalUSD, now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to open ledger for session %s", sessionID)
	}
	return nil
}

// Reserve atomically reserves amount against the session ceiling. The check
// and the increment are one statement: if the guarded UPDATE matches no row,
// either the ledger is missing or the reservation would breach the ceiling.
// Settled spend counts against the ceiling alongside open reservations.
func (g *Governor) Reserve(sessionID string, amount float64) error {
	if amount < 0 {
		return errors.Newf("negative reservation: %f", amount)
	}

	res, err := g.db.Exec(`
		UPDATE budget_ledger
		SET reserved = reserved + ?, updated_at = ?
		WHERE session_id = ? AND spent + reserved + ? <= ceiling`,
		amount, time.Now(), sessionID, amount,
	)
	if err != nil {
		return errors.Wrap(err, "failed to reserve budget")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read reservation result")
	}
	if n > 0 {
		return nil
	}

	ledger, statusErr := g.Status(sessionID)
	if statusErr != nil {
		return statusErr
	}

	err = errors.Wrapf(errors.ErrBudgetExceeded,
		"session %s: reserving $%.4f would exceed ceiling", sessionID, amount)
	return errors.WithDetailf(err, "spent=$%.4f reserved=$%.4f ceiling=$%.4f",
		ledger.Spent, ledger.Reserved, ledger.Ceiling)
}

// Reconcile settles a reservation against actual spend: the reservation is
// released and the real cost is added to spent. Threshold alerts fire here,
// once per level per session.
func (g *Governor) Reconcile(sessionID string, reserved, actual float64) error {
	res, err := g.db.Exec(`
		UPDATE budget_ledger
		SET reserved = MAX(reserved - ?, 0), spent = spent + ?, updated_at = ?
		WHERE session_id = ?`,
		reserved, actual, time.Now(), sessionID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to reconcile budget")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("budget ledger for session %s", sessionID)
	}

	return g.checkThresholds(sessionID)
}

// Status returns the current ledger for a session
func (g *Governor) Status(sessionID string) (*Ledger, error) {
	var l Ledger
	err := g.db.QueryRow(`
		SELECT session_id, ceiling, reserved, spent, warned_at, critical_at, created_at, updated_at
		FROM budget_ledger WHERE session_id = ?`, sessionID,
	).Scan(&l.SessionID, &l.Ceiling, &l.Reserved, &l.Spent,
		&l.WarnedAt, &l.CriticalAt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("budget ledger for session %s", sessionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load budget ledger")
	}
	return &l, nil
}

// checkThresholds fires warning/critical alerts when spend crosses the
// configured utilization levels. The timestamp columns double as
// once-per-level latches: the guarded UPDATE only matches when the level has
// not fired yet, so concurrent reconcilers alert exactly once.
func (g *Governor) checkThresholds(sessionID string) error {
	ledger, err := g.Status(sessionID)
	if err != nil {
		return err
	}

	cfg := g.config()
	util := ledger.Utilization()

	if util >= cfg.CriticalThreshold && ledger.CriticalAt == nil {
		res, err := g.db.Exec(`
			UPDATE budget_ledger SET critical_at = ? WHERE session_id = ? AND critical_at IS NULL`,
			time.Now(), sessionID)
		if err != nil {
			return errors.Wrap(err, "failed to latch critical alert")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			g.logger.Errorw("Budget critical",
				"session_id", sessionID,
				"utilization", util)
			g.notifier.BudgetCritical(sessionID, ledger.Spent, ledger.Ceiling)
		}
	}

	if util >= cfg.WarningThreshold && ledger.WarnedAt == nil {
		res, err := g.db.Exec(`
			UPDATE budget_ledger SET warned_at = ? WHERE session_id = ? AND warned_at IS NULL`,
			time.Now(), sessionID)
		if err != nil {
			return errors.Wrap(err, "failed to latch warning alert")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			g.logger.Warnw("Budget warning",
				"session_id", sessionID,
				"utilization", util)
			g.notifier.BudgetWarning(sessionID, ledger.Spent, ledger.Ceiling)
		}
	}

	return nil
}
