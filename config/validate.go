package config

import (
	"github.com/signalpress/signalpress/errors"
)

// Validate rejects configurations the orchestrator cannot run safely with.
func Validate(c *Config) error {
	if c.Budget.MaxTotalUSD <= 0 {
		return errors.Newf("budget.max_total_usd must be positive, got %.4f", c.Budget.MaxTotalUSD)
	}
	if c.Budget.PerItemUSD <= 0 {
		return errors.Newf("budget.per_item_usd must be positive, got %.4f", c.Budget.PerItemUSD)
	}
	if c.Budget.WarningThreshold >= c.Budget.CriticalThreshold {
		return errors.Newf("budget.warning_threshold (%.2f) must be below critical_threshold (%.2f)",
			c.Budget.WarningThreshold, c.Budget.CriticalThreshold)
	}

	if c.Batch.Size <= 0 {
		return errors.Newf("batch.size must be positive, got %d", c.Batch.Size)
	}
	if c.Batch.Workers <= 0 {
		return errors.Newf("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	if len(c.Batch.RetryBackoffsMinutes) < c.Batch.MaxRetries-1 {
		return errors.Newf("batch.retry_backoffs_minutes needs at least %d entries for %d retries",
			c.Batch.MaxRetries-1, c.Batch.MaxRetries)
	}
	// Backoff schedule must be strictly increasing
	for i := 1; i < len(c.Batch.RetryBackoffsMinutes); i++ {
		if c.Batch.RetryBackoffsMinutes[i] <= c.Batch.RetryBackoffsMinutes[i-1] {
			return errors.Newf("batch.retry_backoffs_minutes must be strictly increasing, got %v",
				c.Batch.RetryBackoffsMinutes)
		}
	}

	if c.Selection.MinItems < 1 || c.Selection.MaxItems < c.Selection.MinItems {
		return errors.Newf("selection item bounds invalid: min=%d max=%d",
			c.Selection.MinItems, c.Selection.MaxItems)
	}

	total := c.Selection.Weights.Signal + c.Selection.Weights.Uniqueness + c.Selection.Weights.Relevance
	if total <= 0 {
		return errors.New("selection.weights must sum to a positive value")
	}

	return nil
}
