package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestDefaultsProduceValidConfig(t *testing.T) {
	cfg, err := LoadWithViper(defaultViper())
	require.NoError(t, err)

	assert.Equal(t, 0.30, cfg.Budget.MaxTotalUSD)
	assert.Equal(t, 0.0013, cfg.Budget.PerItemUSD)
	assert.Equal(t, 10, cfg.Batch.Size)
	assert.Equal(t, []int{5, 10, 20}, cfg.Batch.RetryBackoffsMinutes)
	assert.Equal(t, 3, cfg.Selection.MinItems)
	assert.Equal(t, 8, cfg.Selection.MaxItems)
	assert.Equal(t, 0.7, cfg.Gate.MinEditorialQuality)
	assert.Equal(t, 0.8, cfg.Gate.MinUniqueness)
}

func TestValidateRejectsNonIncreasingBackoff(t *testing.T) {
	v := defaultViper()
	v.Set("batch.retry_backoffs_minutes", []int{5, 5, 20})

	_, err := LoadWithViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestValidateRejectsZeroBudget(t *testing.T) {
	v := defaultViper()
	v.Set("budget.max_total_usd", 0.0)

	_, err := LoadWithViper(v)
	require.Error(t, err)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	v := defaultViper()
	v.Set("budget.warning_threshold", 0.9)
	v.Set("budget.critical_threshold", 0.8)

	_, err := LoadWithViper(v)
	require.Error(t, err)
}

func TestBatchDurationHelpers(t *testing.T) {
	cfg, err := LoadWithViper(defaultViper())
	require.NoError(t, err)

	assert.Equal(t, "5m0s", cfg.Batch.RetryBackoffs()[0].String())
	assert.Equal(t, "5m0s", cfg.Batch.ItemTimeout().String())
	assert.Equal(t, "2s", cfg.Batch.InterBatchDelay().String())
}
