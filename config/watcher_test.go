package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsBudgetLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signalpress.toml")
	require.NoError(t, os.WriteFile(path, []byte("[budget]\nmax_total_usd = 0.30\n"), 0o644))

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()

	reloaded := make(chan *Config, 1)
	watcher.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	watcher.Start()

	require.NoError(t, os.WriteFile(path, []byte("[budget]\nmax_total_usd = 0.50\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 0.50, cfg.Budget.MaxTotalUSD)
		// untouched keys keep their defaults
		assert.Equal(t, 0.0013, cfg.Budget.PerItemUSD)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload callback never fired")
	}
}

func TestWatcherKeepsPreviousConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signalpress.toml")
	require.NoError(t, os.WriteFile(path, []byte("[budget]\nmax_total_usd = 0.30\n"), 0o644))

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()

	fired := make(chan struct{}, 1)
	watcher.OnReload(func(*Config) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})
	watcher.Start()

	// invalid budget: validation rejects it and callbacks must not run
	require.NoError(t, os.WriteFile(path, []byte("[budget]\nmax_total_usd = 0.0\n"), 0o644))

	select {
	case <-fired:
		t.Fatal("callback fired for a config that fails validation")
	case <-time.After(1500 * time.Millisecond):
	}
}
