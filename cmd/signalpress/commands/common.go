// Package commands implements the signalpress CLI commands.
package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/db"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
)

// loadConfig reads configuration honoring the persistent --config flag
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to load configuration")
	}
	return cfg, configPath, nil
}

// openDatabase opens the configured SQLite database and applies pending
// migrations. The caller owns the returned handle.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return database, nil
}
