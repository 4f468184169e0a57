package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalpress/signalpress/batch"
	"github.com/signalpress/signalpress/budget"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/pipeline"
)

// StatusCmd inspects sessions and generation runs
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect sessions and generation runs",
	RunE:  runStatusOverview,
}

var statusSessionCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "Show one batch session with its batches and budget ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatusSession,
}

var statusRunCmd = &cobra.Command{
	Use:   "run <publication-type> <date>",
	Short: "Show the generation run for a publication slot",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatusRun,
}

func init() {
	StatusCmd.AddCommand(statusSessionCmd)
	StatusCmd.AddCommand(statusRunCmd)
}

func runStatusOverview(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	sessions, err := batch.NewStore(database).ListSessionsByStatus(
		batch.SessionInitiated, batch.SessionProcessing)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No active sessions")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-10s  %d items / %d batches  $%.4f estimated\n",
			s.ID, s.Status, s.TotalItemCount, s.TotalBatches, s.EstimatedCost)
	}
	return nil
}

func runStatusSession(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := batch.NewStore(database)
	session, err := store.GetSession(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s  %s\n", session.ID, session.Status)
	fmt.Printf("  items: %d total, %d succeeded, %d failed\n",
		session.TotalItemCount, session.ItemsSucceeded, session.ItemsFailed)
	fmt.Printf("  cost: $%.4f estimated, $%.4f actual\n",
		session.EstimatedCost, session.ActualCost)
	if session.Error != "" {
		fmt.Printf("  error: %s\n", session.Error)
	}

	governor := budget.NewGovernor(database, cfg.Budget, nil)
	if ledger, err := governor.Status(session.ID); err == nil {
		fmt.Printf("  budget: $%.4f spent / $%.4f ceiling (%.0f%% utilized)\n",
			ledger.Spent, ledger.Ceiling, ledger.Utilization()*100)
	} else if !errors.IsNotFound(err) {
		return err
	}

	records, err := store.ListBatches(session.ID)
	if err != nil {
		return err
	}
	for _, r := range records {
		line := fmt.Sprintf("  batch %d  %-10s  %d items  $%.4f",
			r.BatchNumber, r.Status, len(r.ItemIDs), r.ActualCost)
		if r.RetryCount > 0 {
			line += fmt.Sprintf("  (%d retries)", r.RetryCount)
		}
		fmt.Println(line)
	}
	return nil
}

func runStatusRun(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := pipeline.NewStore(database).FindBySlot(args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Printf("Run %s  %s  publish=%s\n", run.ID, run.Stage, run.PublishStatus)
	fmt.Printf("  selected: %d items\n", len(run.SelectedItemIDs))
	if run.DraftTitle != "" {
		fmt.Printf("  draft: %q\n", run.DraftTitle)
		fmt.Printf("  scores: editorial=%.2f coherence=%.2f uniqueness=%.2f confidence=%.2f\n",
			run.EditorialQuality, run.Coherence, run.Uniqueness, run.SynthesisConfidence)
	}
	if run.Degraded {
		fmt.Println("  degraded synthesis confidence")
	}
	if run.RequiresManualReview {
		fmt.Printf("  gate held: %s\n", strings.Join(run.GateFailures, "; "))
	}
	if run.Error != "" {
		fmt.Printf("  error: %s\n", run.Error)
	}
	return nil
}
