package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/errors"
	"github.com/signalpress/signalpress/logger"
	"github.com/signalpress/signalpress/pipeline"
)

// GenerateCmd runs the generation pipeline for one publication slot
var GenerateCmd = &cobra.Command{
	Use:   "generate <publication-type>",
	Short: "Start a generation run for a publication slot",
	Long: `Run the three-stage generation pipeline (selection, synthesis, writing)
for one publication slot and evaluate the quality gate. A slot is one
(publication type, target date) pair; re-running an existing slot requires
--force, which discards the previous run's outputs.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

var (
	generateDate  string
	generateForce bool
)

func init() {
	GenerateCmd.Flags().StringVar(&generateDate, "date", "", "Target date (YYYY-MM-DD, default today)")
	GenerateCmd.Flags().BoolVar(&generateForce, "force", false, "Regenerate even if the slot already has a run")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	pubType := args[0]
	targetDate := generateDate
	if targetDate == "" {
		targetDate = time.Now().Format(pipeline.DateFormat)
	}

	articleStore := articles.NewStore(database)
	runStore := pipeline.NewStore(database)
	engine := inference.NewClient(cfg.Inference, database, logger.Named("inference"))
	runner := pipeline.NewRunner(runStore, articleStore, engine, nil, cfg.Selection, cfg.Gate)

	run, err := runner.StartRun(pubType, targetDate, generateForce)
	if err != nil {
		if errors.IsAlreadyExists(err) {
			return errors.Wrapf(err, "slot %s/%s already has a run (use --force to regenerate)",
				pubType, targetDate)
		}
		return err
	}

	fmt.Printf("Run %s: %s for %s\n", run.ID, pubType, targetDate)

	if err := runner.Execute(cmd.Context(), run.ID); err != nil {
		return err
	}

	final, err := runStore.GetRun(run.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s %s: publish status %s\n", final.ID, final.Stage, final.PublishStatus)
	if final.Degraded {
		fmt.Println("  synthesis confidence was low; draft flagged as degraded")
	}
	if final.RequiresManualReview {
		fmt.Printf("  quality gate held the draft: %s\n", strings.Join(final.GateFailures, "; "))
	}
	return nil
}
