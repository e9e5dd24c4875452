package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"quantrisk/internal/analytics"
	"quantrisk/internal/models"
)

func newAnalyticsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analytics",
		Aliases: []string{"an"},
		Short:   "Portfolio summary, performance and risk metrics",
		Long: `Compute portfolio analytics from a JSON snapshot.

The snapshot holds positions, a portfolio value history, transactions and an
optional benchmark series. Pass "-" to read it from stdin.`,
	}

	cmd.PersistentFlags().StringP("file", "f", "-", "portfolio snapshot JSON")
	cmd.PersistentFlags().String("matching", "", "trade matching policy: first_available, fifo")

	cmd.AddCommand(newAnalyticsSummaryCmd(app))
	cmd.AddCommand(newAnalyticsPerformanceCmd(app))
	cmd.AddCommand(newAnalyticsRiskCmd(app))

	return cmd
}

// analyzer builds an Analyzer honoring a --matching override.
func (a *App) analyzer(cmd *cobra.Command) (*analytics.Analyzer, error) {
	cfg := a.Config.Analytics
	if m, _ := cmd.Flags().GetString("matching"); m != "" {
		policy, err := analytics.ParseMatchingPolicy(m)
		if err != nil {
			return nil, err
		}
		cfg.TradeMatching = string(policy)
	}
	return analytics.New(cfg), nil
}

func loadPortfolio(cmd *cobra.Command) (*PortfolioInput, error) {
	path, _ := cmd.Flags().GetString("file")
	return readPortfolio(path, cmd.InOrStdin())
}

func newAnalyticsSummaryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Portfolio value, P&L and sector allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			in, err := loadPortfolio(cmd)
			if err != nil {
				return err
			}
			a, err := app.analyzer(cmd)
			if err != nil {
				return err
			}
			s := a.Summary(in.Positions)

			if output.IsJSON() {
				return output.JSON(s)
			}

			output.Bold("Portfolio summary (%d positions)", s.PositionCount)
			output.Printf("  Value:        %s\n", FormatAmount(s.TotalValue))
			output.Printf("  Cost:         %s\n", FormatAmount(s.TotalCost))
			output.Printf("  Unrealized:   %s (%s)\n", output.PnL(s.UnrealizedPnL), output.Percent(s.UnrealizedPnLPercent))
			output.Printf("  Realized:     %s\n", output.PnL(s.RealizedPnL))
			if s.DailyPnLAvailable {
				output.Printf("  Day P&L:      %s (%s)\n", output.PnL(s.DailyPnL), output.Percent(s.DailyPnLPercent))
			} else {
				output.Printf("  Day P&L:      %s\n", output.DimText("unavailable (no previous close)"))
			}

			if len(s.SectorAllocation) > 0 {
				output.Println()
				table := NewTable(output, "Sector", "Allocation")
				for _, sector := range sortedKeys(s.SectorAllocation) {
					table.AddRow(sector, fmt.Sprintf("%.2f%%", s.SectorAllocation[sector]))
				}
				table.Render()
			}
			return nil
		},
	}
}

func newAnalyticsPerformanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Return, ratio, drawdown and trade statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			in, err := loadPortfolio(cmd)
			if err != nil {
				return err
			}
			a, err := app.analyzer(cmd)
			if err != nil {
				return err
			}
			m, err := a.PerformanceMetrics(in.History, in.Transactions, in.Benchmark)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(m)
			}
			renderPerformance(output, m)
			return nil
		},
	}
}

func renderPerformance(output *Output, m models.PerformanceMetrics) {
	output.Bold("Returns (%d periods)", m.Periods)
	output.Printf("  Total return:     %s\n", output.Percent(m.TotalReturn*100))
	output.Printf("  Annualized:       %s\n", output.Percent(m.AnnualizedReturn*100))
	output.Printf("  Volatility:       %s\n", FormatFraction(m.Volatility))
	output.Printf("  Max drawdown:     %s\n", FormatFraction(m.MaxDrawdown))
	output.Printf("  Sharpe:           %.2f\n", m.SharpeRatio)
	output.Printf("  Sortino:          %.2f\n", m.SortinoRatio)
	output.Printf("  Calmar:           %.2f\n", m.CalmarRatio)
	output.Println()

	output.Bold("Trades")
	output.Printf("  Round trips:      %d (%d won, %d lost)\n", m.TotalTrades, m.WinningTrades, m.LosingTrades)
	output.Printf("  Win rate:         %s\n", FormatFraction(m.WinRate))
	output.Printf("  Profit factor:    %.2f\n", m.ProfitFactor)
	output.Printf("  Avg win / loss:   %s / %s\n", output.PnL(m.AverageWin), output.PnL(m.AverageLoss))
	output.Printf("  Largest win/loss: %s / %s\n", output.PnL(m.LargestWin), output.PnL(m.LargestLoss))
	output.Printf("  Avg holding:      %s\n", FormatDuration(m.AverageHoldingPeriod))

	if b := m.Benchmark; b != nil {
		output.Println()
		output.Bold("Benchmark")
		output.Printf("  Beta:             %.3f\n", b.Beta)
		output.Printf("  Alpha:            %s\n", output.Percent(b.Alpha*100))
		output.Printf("  Information:      %.2f\n", b.InformationRatio)
		output.Printf("  Tracking error:   %s\n", FormatFraction(b.TrackingError))
		output.Printf("  Up/down capture:  %.2f / %.2f\n", b.UpCapture, b.DownCapture)
	}
}

func newAnalyticsRiskCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Parametric VaR, expected shortfall and concentration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			in, err := loadPortfolio(cmd)
			if err != nil {
				return err
			}
			a, err := app.analyzer(cmd)
			if err != nil {
				return err
			}
			m := a.Risk(analytics.RiskInput{
				Positions:    in.Positions,
				History:      in.History,
				Volatility:   in.Volatility,
				PriceHistory: in.PriceHistory,
			})

			if output.IsJSON() {
				return output.JSON(m)
			}

			output.Bold("Risk metrics at %s confidence", FormatFraction(m.Confidence))
			output.Printf("  Portfolio value:     %s\n", FormatAmount(m.PortfolioValue))
			if m.Observations > 0 {
				output.Printf("  Daily volatility:    %s (%d returns)\n", FormatFraction(m.DailyVolatility), m.Observations)
				output.Printf("  VaR:                 %s\n", FormatAmount(m.VaR))
				output.Printf("  VaR 99%%:             %s\n", FormatAmount(m.VaR99))
				output.Printf("  Expected shortfall:  %s\n", FormatAmount(m.ExpectedShortfall))
			} else {
				output.Warning("  No value history: portfolio VaR not computed")
			}
			output.Printf("  Concentration (HHI): %.4f\n", m.ConcentrationRisk)
			output.Printf("  Liquidity risk:      %s\n", FormatFraction(m.LiquidityRisk))

			if len(m.Positions) > 0 {
				output.Println()
				table := NewTable(output, "Symbol", "Value", "Weight", "Vol", "Source", "VaR")
				for _, p := range m.Positions {
					table.AddRow(p.Symbol, FormatAmount(p.Value), FormatFraction(p.Weight),
						FormatIV(p.Volatility), string(p.VolatilitySource), FormatAmount(p.VaR))
				}
				table.Render()
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
