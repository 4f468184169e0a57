// Package alert fans operational notifications out to interested parties.
package alert

import "go.uber.org/zap"

// Notifier receives operational alerts. Implementations must not block;
// slow sinks should buffer internally.
type Notifier interface {
	// BudgetWarning fires once per session when utilization crosses the
	// warning threshold.
	BudgetWarning(sessionID string, spent, ceiling float64)

	// BudgetCritical fires once per session when utilization crosses the
	// critical threshold.
	BudgetCritical(sessionID string, spent, ceiling float64)

	// SessionFailed fires when a batch session ends in FAILED.
	SessionFailed(sessionID string, reason string)

	// RunFailed fires when a generation run ends in FAILED.
	RunFailed(runID string, publicationType string, reason string)
}

// LogNotifier writes alerts to the structured log. It is the default sink;
// richer sinks (websocket broadcast) wrap or replace it.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier creates a Notifier backed by the given logger
func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) BudgetWarning(sessionID string, spent, ceiling float64) {
	n.logger.Warnw("Budget warning threshold crossed",
		"session_id", sessionID,
		"spent_usd", spent,
		"ceiling_usd", ceiling)
}

func (n *LogNotifier) BudgetCritical(sessionID string, spent, ceiling float64) {
	n.logger.Errorw("Budget critical threshold crossed",
		"session_id", sessionID,
		"spent_usd", spent,
		"ceiling_usd", ceiling)
}

func (n *LogNotifier) SessionFailed(sessionID string, reason string) {
	n.logger.Errorw("Batch session failed",
		"session_id", sessionID,
		"reason", reason)
}

func (n *LogNotifier) RunFailed(runID string, publicationType string, reason string) {
	n.logger.Errorw("Generation run failed",
		"run_id", runID,
		"publication_type", publicationType,
		"reason", reason)
}

// Multi fans one alert out to several notifiers
type Multi []Notifier

func (m Multi) BudgetWarning(sessionID string, spent, ceiling float64) {
	for _, n := range m {
		n.BudgetWarning(sessionID, spent, ceiling)
	}
}

func (m Multi) BudgetCritical(sessionID string, spent, ceiling float64) {
	for _, n := range m {
		n.BudgetCritical(sessionID, spent, ceiling)
	}
}

func (m Multi) SessionFailed(sessionID string, reason string) {
	for _, n := range m {
		n.SessionFailed(sessionID, reason)
	}
}

func (m Multi) RunFailed(runID string, publicationType string, reason string) {
	for _, n := range m {
		n.RunFailed(runID, publicationType, reason)
	}
}
