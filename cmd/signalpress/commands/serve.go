package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalpress/signalpress/ai/inference"
	"github.com/signalpress/signalpress/alert"
	"github.com/signalpress/signalpress/articles"
	"github.com/signalpress/signalpress/batch"
	"github.com/signalpress/signalpress/budget"
	"github.com/signalpress/signalpress/config"
	"github.com/signalpress/signalpress/logger"
	"github.com/signalpress/signalpress/monitor"
	"github.com/signalpress/signalpress/pipeline"
	"github.com/signalpress/signalpress/schedule"
	"github.com/signalpress/signalpress/server"
)

// ServeCmd runs the full orchestrator
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run the orchestrator: HTTP API, adaptive scheduler, and recovery sweeper",
	Long: `Run signalpress in serve mode. Starts the HTTP API with the websocket
event channel, the adaptive schedule ticker that fires analysis sessions and
generation runs, and the recovery sweeper that retriggers stalled work.

Budget limits are hot-reloaded from the config file while serving.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.Named("serve")

	articleStore := articles.NewStore(database)
	sessionStore := batch.NewStore(database)
	runStore := pipeline.NewStore(database)
	scheduleStore := schedule.NewStore(database)

	hub := server.NewHub()
	notifier := alert.Multi{alert.NewLogNotifier(logger.Named("alert")), hub}

	governor := budget.NewGovernor(database, cfg.Budget, notifier)
	engine := inference.NewClient(cfg.Inference, database, logger.Named("inference"))
	scheduler := batch.NewScheduler(sessionStore, articleStore, governor, engine, notifier, cfg.Batch)
	runner := pipeline.NewRunner(runStore, articleStore, engine, notifier, cfg.Selection, cfg.Gate)

	sweeper := monitor.NewSweeper(sessionStore, scheduler, runStore, runner,
		articleStore, engine, cfg.Monitor, cfg.Selection, cfg.Schedule.PublicationTypes)
	adviser := schedule.NewAdviser(scheduleStore, cfg.Schedule, cfg.Selection)
	ticker := schedule.NewTicker(scheduleStore, adviser, scheduler, sessionStore,
		runner, runStore, cfg.Schedule)

	srv := server.New(cfg.Server, sessionStore, scheduler, governor, runStore, runner, hub)

	// hot-reload budget limits when the config file changes
	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath)
		if err != nil {
			log.Warnw("Config watcher unavailable, budget limits are fixed",
				"path", configPath, "error", err)
		} else {
			watcher.OnReload(func(next *config.Config) error {
				governor.UpdateConfig(next.Budget)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Start(ctx)
	go ticker.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Infow("Shutdown signal received", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("Shutdown complete")
		return nil
	}
}
