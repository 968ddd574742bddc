// Package cli provides the command-line interface for the heartbeat engine.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"heartbeat-trader/internal/config"
	"heartbeat-trader/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "heartbeat-trader",
		Short: "Heartbeat Trader - scheduled AI trading agents for leveraged perpetuals",
		Long: `Heartbeat Trader runs autonomous trading agents on staggered heartbeats.

Each heartbeat gathers multi-timeframe market data from readers, asks the
decision oracle for per-timeframe and aggregated decisions, and executes the
result against the leveraged position engine.

Use 'heartbeat-trader run' to start the scheduler and price monitor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.ConfigDir, _ = cmd.Flags().GetString("config")
			app.Debug, _ = cmd.Flags().GetBool("debug")
			if app.Debug {
				logging.SetDebugLevel()
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/heartbeat-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newHeartbeatCmd(app))
	rootCmd.AddCommand(newScheduleCmd(app))
	rootCmd.AddCommand(newTradersCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newRiskCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Heartbeat Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(cfg.Redacted())
			}
			showConfig(output, cfg.Redacted())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.Path(app.ConfigDir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if _, err := app.LoadConfig(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Fee rate:              %.4f%%\n", cfg.Engine.FeeRate*100)
	output.Printf("  Maintenance margin:    %.3f%%\n", cfg.Engine.MaintenanceMarginRatio*100)
	output.Printf("  Reader timeout:        %s\n", cfg.Engine.DefaultReaderTimeout)
	output.Printf("  Max heartbeats:        %d\n", cfg.Engine.MaxConcurrentHeartbeats)
	output.Printf("  Mandatory readers:     %v\n", cfg.Engine.MandatoryReaders)
	output.Printf("  Timezone:              %s\n", cfg.Engine.Timezone)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Driver:                %s\n", cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite" {
		output.Printf("  Path:                  %s\n", cfg.Database.Path)
	}
	output.Printf("  Redis:                 %v (%s)\n", cfg.Redis.Enabled, cfg.Redis.Addr)
	output.Println()

	output.Bold("Oracle")
	output.Printf("  Model:                 %s\n", cfg.Oracle.Model)
	output.Printf("  Timeout:               %s\n", cfg.Oracle.Timeout)
	output.Printf("  API key:               %s\n", cfg.Oracle.APIKey)
	output.Println()

	output.Bold("Monitor")
	output.Printf("  Enabled:               %v\n", cfg.Monitor.Enabled)
	output.Printf("  Interval:              %s\n", cfg.Monitor.Interval)
	output.Println()

	output.Bold("Readers")
	for _, r := range cfg.Readers {
		output.Printf("  %-20s %-8s %s\n", r.ID, r.Kind, r.URL)
	}
	output.Printf("\n%d trader seed(s) configured\n", len(cfg.Traders))
}
