// Package config manages signalpress configuration: TOML file, environment
// overrides, defaults, validation, and hot reload of budget limits.
package config

import "time"

// Config represents the core signalpress configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Inference InferenceConfig `mapstructure:"inference"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Selection SelectionConfig `mapstructure:"selection"`
	Gate      GateConfig      `mapstructure:"gate"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the signalpress HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// InferenceConfig configures the AI inference client
type InferenceConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Temperature       float64 `mapstructure:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	ValidationTimeout int     `mapstructure:"validation_timeout_seconds"`
}

// BudgetConfig configures the cost governor
type BudgetConfig struct {
	MaxTotalUSD       float64 `mapstructure:"max_total_usd"`        // hard ceiling per batch session
	PerItemUSD        float64 `mapstructure:"per_item_usd"`         // estimated cost of analyzing one item
	WarningThreshold  float64 `mapstructure:"warning_threshold"`    // utilization fraction (default 0.67)
	CriticalThreshold float64 `mapstructure:"critical_threshold"`   // utilization fraction (default 0.83)
}

// BatchConfig configures the batch scheduler
type BatchConfig struct {
	Size                 int `mapstructure:"size"`                    // items per batch
	Workers              int `mapstructure:"workers"`                 // concurrent batch workers
	InterBatchDelayMS    int `mapstructure:"inter_batch_delay_ms"`    // dispatch pacing
	ItemTimeoutSeconds   int `mapstructure:"item_timeout_seconds"`    // per-item analysis timeout (default 300)
	MinContentLength     int `mapstructure:"min_content_length"`      // articles shorter than this are skipped
	MaxRetries           int `mapstructure:"max_retries"`             // batch retry attempts (default 3)
	RetryBackoffsMinutes []int `mapstructure:"retry_backoffs_minutes"` // strictly increasing (default 5,10,20)

	// Signals at or above this strength get a research-validation pass
	ValidationSignalThreshold float64 `mapstructure:"validation_signal_threshold"`
}

// SelectionConfig configures story selection thresholds and ranking weights.
// The composite ranking weights are deliberately named configuration rather
// than constants in code.
type SelectionConfig struct {
	MinSignalStrength float64 `mapstructure:"min_signal_strength"`
	MinUniqueness     float64 `mapstructure:"min_uniqueness"`
	MinConfidence     float64 `mapstructure:"min_confidence"`
	MinItems          int     `mapstructure:"min_items"`
	MaxItems          int     `mapstructure:"max_items"`
	LookbackHours     int     `mapstructure:"lookback_hours"`
	Weights           SelectionWeights `mapstructure:"weights"`
}

// SelectionWeights are the named composite ranking coefficients
type SelectionWeights struct {
	Signal     float64 `mapstructure:"signal"`
	Uniqueness float64 `mapstructure:"uniqueness"`
	Relevance  float64 `mapstructure:"relevance"`
}

// GateConfig configures the quality gate thresholds
type GateConfig struct {
	MinEditorialQuality    float64 `mapstructure:"min_editorial_quality"`
	MinUniqueness          float64 `mapstructure:"min_uniqueness"`
	MinCoherence           float64 `mapstructure:"min_coherence"`
	MinSynthesisConfidence float64 `mapstructure:"min_synthesis_confidence"`
}

// MonitorConfig configures the recovery sweeper
type MonitorConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	StallTimeoutMinutes  int `mapstructure:"stall_timeout_minutes"`
	MissedSlotLookback   int `mapstructure:"missed_slot_lookback_days"`
	MaxItemRetries       int `mapstructure:"max_item_retries"`
}

// ScheduleConfig configures the adaptive scheduler
type ScheduleConfig struct {
	SLAMinutes          int      `mapstructure:"sla_minutes"`           // run must project to finish within this window
	HistoryDays         int      `mapstructure:"history_days"`          // aggregation lookback
	RefreshIntervalMins int      `mapstructure:"refresh_interval_mins"` // how often profiles are recomputed
	PublicationTypes    []string `mapstructure:"publication_types"`     // slots the orchestrator owns
}

// ItemTimeout returns the per-item analysis timeout as a duration.
func (c BatchConfig) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSeconds) * time.Second
}

// InterBatchDelay returns the dispatch pacing delay as a duration.
func (c BatchConfig) InterBatchDelay() time.Duration {
	return time.Duration(c.InterBatchDelayMS) * time.Millisecond
}

// RetryBackoffs returns the batch retry backoff schedule as durations.
func (c BatchConfig) RetryBackoffs() []time.Duration {
	out := make([]time.Duration, 0, len(c.RetryBackoffsMinutes))
	for _, m := range c.RetryBackoffsMinutes {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}
