package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/batch"
	"github.com/signalpress/signalpress/budget"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
)

// AnalyzeCmd runs one batch analysis session to completion
var AnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one batch analysis session over the unanalyzed backlog",
	Long: `Partition the unanalyzed backlog into batches and run one cost-bounded
analysis session to completion. Exits zero when the session completes, even
with partial item failures; inspect the printed counts for detail.`,
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	articleStore := articles.NewStore(database)
	sessionStore := batch.NewStore(database)
	governor := budget.NewGovernor(database, cfg.Budget, nil)
	engine := inference.NewClient(cfg.Inference, database, logger.Named("inference"))
	scheduler := batch.NewScheduler(sessionStore, articleStore, governor, engine, nil, cfg.Batch)

	ctx := cmd.Context()

	session, err := scheduler.StartSession(ctx)
	if err != nil {
		if errors.IsInsufficientContent(err) {
			fmt.Println("Nothing to analyze: no unanalyzed articles meet the content threshold")
			return nil
		}
		return err
	}

	fmt.Printf("Session %s: %d items in %d batches, estimated $%.4f\n",
		session.ID, session.TotalItemCount, session.TotalBatches, session.EstimatedCost)

	if err := scheduler.Run(ctx, session.ID); err != nil {
		return err
	}

	final, err := sessionStore.GetSession(session.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s %s: %d succeeded, %d failed, actual $%.4f\n",
		final.ID, final.Status, final.ItemsSucceeded, final.ItemsFailed, final.ActualCost)
	if final.Error != "" {
		fmt.Printf("  note: %s\n", final.Error)
	}
	return nil
}
