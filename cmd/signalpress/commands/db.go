package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DbCmd manages database operations
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage database operations",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// openDatabase migrates as part of opening
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Migrations applied")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts for the main tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		tables := []string{
			"articles", "analysis_results", "batch_sessions",
			"generation_runs", "budget_ledger", "model_usage",
		}
		for _, table := range tables {
			var count int
			if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
				return err
			}
			fmt.Printf("%-18s %d\n", table, count)
		}
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
