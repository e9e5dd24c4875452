// Package cli provides the command-line interface for the risk engine.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quantrisk/internal/config"
	"quantrisk/internal/logging"
	"quantrisk/internal/metrics"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	rootCmd := &cobra.Command{
		Use:   "quantrisk",
		Short: "Option pricing, portfolio analytics and real-time risk controls",
		Long: `quantrisk prices European options, builds option chains and strategies,
computes portfolio performance and risk metrics, and runs a stop-loss /
take-profit engine against a live tick stream.

Use 'quantrisk <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.prepare(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/quantrisk)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newPriceCmd(app))
	rootCmd.AddCommand(newGreeksCmd(app))
	rootCmd.AddCommand(newIVCmd(app))
	rootCmd.AddCommand(newChainCmd(app))
	rootCmd.AddCommand(newStrategyCmd(app))
	rootCmd.AddCommand(newAnalyticsCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))
	rootCmd.AddCommand(newAlertsCmd(app))

	return rootCmd
}

// prepare reloads configuration when --config points elsewhere and applies --debug.
func (a *App) prepare(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir != "" && dir != a.ConfigDir {
		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}
		a.Config = cfg
		a.ConfigDir = dir
		a.Logger = logging.NewLoggerWithConfig(cfg.Log)
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

func (a *App) configDir() string {
	if a.ConfigDir != "" {
		return a.ConfigDir
	}
	return config.DefaultConfigDir()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("quantrisk v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config.Redacted())
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a commented config.toml template",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path, err := config.WriteTemplate(app.configDir())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Success("Wrote %s", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				_ = output.JSON(map[string]string{"path": app.configDir()})
			} else {
				output.Println(app.configDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Pricing")
	output.Printf("  Risk-free rate:   %s\n", FormatFraction(cfg.Pricing.RiskFreeRate))
	output.Printf("  Dividend yield:   %s\n", FormatFraction(cfg.Pricing.DividendYield))
	output.Printf("  Vol floor:        %s\n", FormatFraction(cfg.Pricing.MinVolatility))
	output.Printf("  IV iterations:    %d (tol %g)\n", cfg.Pricing.IVMaxIterations, cfg.Pricing.IVTolerance)
	output.Println()

	output.Bold("Analytics")
	output.Printf("  Risk-free rate:   %s\n", FormatFraction(cfg.Analytics.RiskFreeRate))
	output.Printf("  Trading days:     %d\n", cfg.Analytics.TradingDays)
	output.Printf("  VaR confidence:   %s\n", FormatFraction(cfg.Analytics.VaRConfidence))
	output.Printf("  Trade matching:   %s\n", cfg.Analytics.TradeMatching)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk budget:      %.1f%%\n", cfg.Risk.RiskBudgetPercent)
	output.Printf("  Max position:     %.1f%%\n", cfg.Risk.MaxPositionPercent)
	output.Printf("  Max sector:       %.1f%%\n", cfg.Risk.MaxSectorPercent)
	output.Printf("  Max leverage:     %.2fx\n", cfg.Risk.MaxLeverage)
	output.Printf("  Default stop:     %.1f%%  target: %.1f%%\n", cfg.Risk.DefaultRiskPercent, cfg.Risk.DefaultRewardPercent)
	output.Printf("  Rule interval:    %s\n", FormatDuration(cfg.Risk.RuleInterval))
	output.Println()

	output.Bold("Storage & notifications")
	output.Printf("  Store:            %v (%s)\n", cfg.Store.Enabled, cfg.Store.Path)
	output.Printf("  Min severity:     %s\n", cfg.Notify.MinSeverity)
	output.Printf("  Redis:            %v (%s)\n", cfg.Notify.Redis.Enabled, cfg.Notify.Redis.Addr)
}
