package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file path (empty = defaults plus
// environment) using Viper. Environment variables use the SIGNALPRESS_
// prefix with dots replaced by underscores, e.g. SIGNALPRESS_BUDGET_MAX_TOTAL_USD.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SIGNALPRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetDefaults installs defaults for every knob so a bare environment works.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "signalpress.db")

	v.SetDefault("server.port", 8710)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8710"})

	v.SetDefault("inference.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("inference.model", "openai/gpt-4o-mini")
	v.SetDefault("inference.temperature", 0.2)
	v.SetDefault("inference.max_tokens", 1500)
	v.SetDefault("inference.requests_per_minute", 30)
	v.SetDefault("inference.validation_timeout_seconds", 30)

	v.SetDefault("budget.max_total_usd", 0.30)
	v.SetDefault("budget.per_item_usd", 0.0013)
	v.SetDefault("budget.warning_threshold", 0.67)
	v.SetDefault("budget.critical_threshold", 0.83)

	v.SetDefault("batch.size", 10)
	v.SetDefault("batch.workers", 2)
	v.SetDefault("batch.inter_batch_delay_ms", 2000)
	v.SetDefault("batch.item_timeout_seconds", 300)
	v.SetDefault("batch.min_content_length", 400)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.retry_backoffs_minutes", []int{5, 10, 20})
	v.SetDefault("batch.validation_signal_threshold", 0.8)

	v.SetDefault("selection.min_signal_strength", 0.6)
	v.SetDefault("selection.min_uniqueness", 0.7)
	v.SetDefault("selection.min_confidence", 0.75)
	v.SetDefault("selection.min_items", 3)
	v.SetDefault("selection.max_items", 8)
	v.SetDefault("selection.lookback_hours", 24)
	v.SetDefault("selection.weights.signal", 0.4)
	v.SetDefault("selection.weights.uniqueness", 0.35)
	v.SetDefault("selection.weights.relevance", 0.25)

	v.SetDefault("gate.min_editorial_quality", 0.7)
	v.SetDefault("gate.min_uniqueness", 0.8)
	v.SetDefault("gate.min_coherence", 0.6)
	v.SetDefault("gate.min_synthesis_confidence", 0.7)

	v.SetDefault("monitor.sweep_interval_seconds", 300)
	v.SetDefault("monitor.stall_timeout_minutes", 30)
	v.SetDefault("monitor.missed_slot_lookback_days", 3)
	v.SetDefault("monitor.max_item_retries", 2)

	v.SetDefault("schedule.sla_minutes", 45)
	v.SetDefault("schedule.history_days", 14)
	v.SetDefault("schedule.refresh_interval_mins", 360)
	v.SetDefault("schedule.publication_types", []string{"daily_brief"})
}
