package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalpress/signalpress/cmd/signalpress/commands"
	"github.com/signalpress/signalpress/logger"
)

var rootCmd = &cobra.Command{
	Use:   "signalpress",
	Short: "signalpress - batch analysis and publication orchestrator",
	Long: `signalpress - cost-bounded article analysis and AI publication pipeline.

signalpress ingests analyzed articles, runs budget-governed batch analysis
sessions against an AI gateway, and drives the three-stage generation
pipeline (selection, synthesis, writing) through a deterministic quality
gate.

Available commands:
  serve    - Run the orchestrator: HTTP API, scheduler, and recovery sweeper
  analyze  - Run one batch analysis session over the unanalyzed backlog
  generate - Start a generation run for a publication slot
  status   - Inspect sessions and generation runs
  db       - Manage database operations

Examples:
  signalpress serve                           # Run the full orchestrator
  signalpress analyze                         # One-shot analysis session
  signalpress generate daily_brief --force    # Regenerate today's brief
  signalpress status                          # List active sessions
  signalpress db migrate                      # Apply pending migrations`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (TOML)")
	rootCmd.PersistentFlags().Bool("json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AnalyzeCmd)
	rootCmd.AddCommand(commands.GenerateCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
