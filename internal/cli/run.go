package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"heartbeat-trader/internal/logging"
	"heartbeat-trader/internal/scheduler"
)

func newRunCmd(app *App) *cobra.Command {
	var syncSeeds bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the heartbeat scheduler and price monitor",
		Long: `Start the engine. Every active trader gets a staggered heartbeat timeline,
and open positions are marked to market on the monitor interval.

Stops on SIGINT or SIGTERM. In-flight heartbeats finish before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEngine(ctx, app, syncSeeds)
		},
	}

	cmd.Flags().BoolVar(&syncSeeds, "sync", true, "upsert trader seeds from the config before starting")
	return cmd
}

func runEngine(ctx context.Context, app *App, syncSeeds bool) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	// the daemon logs to the configured rotating file as well
	app.Logger = logging.NewLoggerWithConfig(cfg.LogConfig())
	if app.Debug {
		logging.SetDebugLevel()
	}

	st, err := app.Store(ctx)
	if err != nil {
		return err
	}
	if syncSeeds {
		if _, err := syncTraders(ctx, st, cfg.Traders); err != nil {
			return err
		}
	}

	orch, err := app.Orchestrator(ctx)
	if err != nil {
		return err
	}
	if _, err := orch.RecoverStale(ctx, cfg.Engine.StaleHeartbeatAfter); err != nil {
		return err
	}

	runner := scheduler.NewRunner(st, orch.Trigger, scheduler.RunnerConfig{
		MaxConcurrent: cfg.Engine.MaxConcurrentHeartbeats,
	}, app.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	if cfg.Monitor.Enabled {
		monitor, err := app.Monitor(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}

	app.Logger.Info().
		Int("readers", len(cfg.Readers)).
		Bool("monitor", cfg.Monitor.Enabled).
		Msg("Engine started")
	err = g.Wait()
	app.Logger.Info().Msg("Engine stopped")
	return err
}
