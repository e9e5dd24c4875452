package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quantrisk/internal/models"
	"quantrisk/internal/risk"
	"quantrisk/internal/store"
	"quantrisk/internal/stream"
)

var errStoreDisabled = errors.New("persistence is disabled; set store.enabled = true")

func newRiskCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Protective orders, risk rules and reports",
		Long: `Manage stop-loss and take-profit orders, risk rules and risk reports.

Orders and rules are kept in the SQLite store so that 'risk watch' picks
them up on its next run.`,
	}

	cmd.AddCommand(newRiskReportCmd(app))
	cmd.AddCommand(newRiskCheckCmd(app))
	cmd.AddCommand(newRiskWatchCmd(app))
	cmd.AddCommand(newRiskStopCmd(app))
	cmd.AddCommand(newRiskTakeCmd(app))
	cmd.AddCommand(newRiskOrdersCmd(app))
	cmd.AddCommand(newRiskCancelCmd(app))
	cmd.AddCommand(newRiskRulesCmd(app))

	return cmd
}

func newRiskReportCmd(app *App) *cobra.Command {
	var file, period string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a risk report for a portfolio snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			in, err := readPortfolio(file, cmd.InOrStdin())
			if err != nil {
				return err
			}

			rt, err := app.openRisk(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			for sym, vol := range in.Volatility {
				rt.engine.SetVolatility(sym, vol)
			}
			report := rt.engine.GenerateReport(risk.ReportRequest{
				PortfolioID: in.PortfolioID,
				Period:      period,
				Positions:   in.Positions,
				Prices:      in.Prices,
				History:     in.History,
				Equity:      in.Equity,
			})

			if output.IsJSON() {
				return output.JSON(report)
			}
			renderReport(output, report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "portfolio snapshot JSON")
	cmd.Flags().StringVar(&period, "period", "daily", "report period label")
	return cmd
}

func renderReport(output *Output, r models.RiskReport) {
	pr := r.PortfolioRisk
	output.Bold("Risk report %s (%s)", r.ID, r.Period)
	output.Dim("Generated %s", FormatDateTime(r.GeneratedAt))
	output.Println()

	output.Printf("  Portfolio value:  %s\n", FormatAmount(pr.TotalValue))
	output.Printf("  Risk at stops:    %s (%.2f%%)\n", FormatAmount(pr.TotalRisk), pr.TotalRiskPercent)
	output.Printf("  Risk budget:      %s (%.1f%% used)\n", FormatAmount(pr.RiskBudget), pr.RiskBudgetUtilization)
	output.Printf("  VaR 95%%:          %s\n", FormatAmount(pr.VaR95))
	output.Printf("  VaR 99%%:          %s %s\n", FormatAmount(pr.VaR99), output.DimText("(1.5x VaR 95%)"))
	output.Printf("  Max position:     %.2f%%\n", pr.MaxConcentration)
	output.Printf("  Risk level:       %s\n", output.RiskLevel(pr.RiskLevel))
	output.Println()

	if len(r.PositionRisks) > 0 {
		table := NewTable(output, "Symbol", "Value", "Stop", "Target", "Risk", "R:R", "Conc.", "Score", "Level")
		for _, p := range r.PositionRisks {
			stop, target := "-", "-"
			if p.HasStopLoss {
				stop = FormatPrice(p.StopLossPrice)
			}
			if p.HasTakeProfit {
				target = FormatPrice(p.TakeProfitPrice)
			}
			table.AddRow(p.Symbol, FormatAmount(p.MarketValue), stop, target,
				FormatAmount(p.RiskAmount), FormatRiskReward(p.RiskRewardRatio),
				fmt.Sprintf("%.1f%%", p.Concentration), fmt.Sprintf("%.2f", p.RiskScore),
				output.RiskLevel(p.RiskLevel))
		}
		table.Render()
		output.Println()
	}

	c := r.Compliance
	output.Bold("Compliance")
	output.Printf("  Position limits:  %s\n", output.Check(c.PositionLimits))
	output.Printf("  Stop coverage:    %s\n", output.Check(c.StopLossCoverage))
	output.Printf("  Sector limits:    %s\n", output.Check(c.SectorLimits))
	output.Printf("  Margin:           %s\n", output.Check(c.MarginCheck))
	output.Printf("  Risk level:       %s\n", output.Check(c.RiskLevel))

	if len(r.Recommendations) > 0 {
		output.Println()
		output.Bold("Recommendations")
		for _, rec := range r.Recommendations {
			output.Printf("  - %s\n", rec)
		}
	}
	if len(r.Alerts) > 0 {
		output.Println()
		output.Warning("%d unacknowledged alerts; see 'quantrisk alerts list'", len(r.Alerts))
	}
}

func newRiskCheckCmd(app *App) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate enabled risk rules once against a portfolio snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			in, err := readPortfolio(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			rt, err := app.openRisk(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			res := rt.engine.EvaluateRules(in.Positions, in.Prices)

			if output.IsJSON() {
				faults := make([]map[string]string, 0, len(res.Faults))
				for _, f := range res.Faults {
					faults = append(faults, map[string]string{
						"rule_id": f.RuleID, "rule_type": string(f.RuleType), "error": f.Err.Error(),
					})
				}
				return output.JSON(map[string]interface{}{
					"evaluated":   res.Evaluated,
					"alerts":      res.Alerts,
					"faults":      faults,
					"unsupported": res.Unsupported,
				})
			}

			output.Printf("Evaluated %d rules\n", res.Evaluated)
			for _, a := range res.Alerts {
				output.Printf("  %s %s\n", output.Severity(a.Severity), a.Message)
			}
			for _, f := range res.Faults {
				output.Error("  rule %s (%s) failed: %v", f.RuleID, f.RuleType, f.Err)
			}
			for _, id := range res.Unsupported {
				output.Warning("  rule %s has no evaluation logic", id)
			}
			if len(res.Alerts) == 0 && len(res.Faults) == 0 {
				output.Success("No violations")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "portfolio snapshot JSON")
	return cmd
}

// parseStopSpec parses SYMBOL:QTY:TRIGGER[:TRAIL%].
func parseStopSpec(s string) (risk.StopLossRequest, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return risk.StopLossRequest{}, fmt.Errorf("invalid stop %q: want SYMBOL:QTY:TRIGGER[:TRAIL%%]", s)
	}
	nums, err := parseFloats(parts[1:])
	if err != nil {
		return risk.StopLossRequest{}, fmt.Errorf("invalid stop %q: %w", s, err)
	}
	req := risk.StopLossRequest{
		Symbol:       strings.ToUpper(parts[0]),
		Quantity:     nums[0],
		TriggerPrice: nums[1],
	}
	if len(nums) == 3 {
		req.Trailing = true
		req.TrailingPercent = nums[2]
	}
	return req, nil
}

// parseTakeSpec parses SYMBOL:QTY:TARGET.
func parseTakeSpec(s string) (risk.TakeProfitRequest, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return risk.TakeProfitRequest{}, fmt.Errorf("invalid take-profit %q: want SYMBOL:QTY:TARGET", s)
	}
	nums, err := parseFloats(parts[1:])
	if err != nil {
		return risk.TakeProfitRequest{}, fmt.Errorf("invalid take-profit %q: %w", s, err)
	}
	return risk.TakeProfitRequest{
		Symbol:      strings.ToUpper(parts[0]),
		Quantity:    nums[0],
		TargetPrice: nums[1],
	}, nil
}

func parseFloats(parts []string) ([]float64, error) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newRiskWatchCmd(app *App) *cobra.Command {
	var (
		ticks     string
		stops     []string
		takes     []string
		positions string
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run protective orders against a tick stream",
		Long: `Feed newline-delimited JSON ticks through the risk engine.

Each line is {"symbol":"INFY","price":1502.5,"timestamp":"2026-04-01T09:15:00Z"}.
Orders restored from the store and orders given with --stop/--take are
checked on every tick; triggers and alerts are printed as they happen.`,
		Example: `  tail -f ticks.ndjson | quantrisk risk watch --stop INFY:10:1450:5
  quantrisk risk watch --ticks day.ndjson --take TCS:5:4200 --positions book.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			hub := stream.NewHubWithConfig(stream.ConfigFrom(app.Config.Risk), app.Logger)
			hub.SetMetrics(app.Metrics)

			// Keep stdout clean for the JSON summary.
			alertOut := output.Writer()
			if output.IsJSON() {
				alertOut = cmd.ErrOrStderr()
			}
			notifier, closers := app.notifier(ctx, alertOut, output.ColorEnabled())
			rt, err := app.openRisk(ctx, risk.WithFeed(hub), risk.WithNotifier(notifier))
			if err != nil {
				for _, c := range closers {
					_ = c.Close()
				}
				return err
			}
			rt.closers = append(rt.closers, closers...)
			defer rt.Close()

			for _, s := range stops {
				req, err := parseStopSpec(s)
				if err != nil {
					return err
				}
				o, err := rt.engine.CreateStopLoss(req)
				if err != nil {
					return err
				}
				output.Dim("stop-loss %s %s qty %g @ %s", o.ID, o.Symbol, o.Quantity, FormatPrice(o.TriggerPrice))
			}
			for _, s := range takes {
				req, err := parseTakeSpec(s)
				if err != nil {
					return err
				}
				o, err := rt.engine.CreateTakeProfit(req)
				if err != nil {
					return err
				}
				output.Dim("take-profit %s %s qty %g @ %s", o.ID, o.Symbol, o.Quantity, FormatPrice(o.TargetPrice))
			}

			hub.RegisterConsumer(rt.engine)
			if err := hub.Start(ctx); err != nil {
				return err
			}

			if positions != "" {
				in, err := readPortfolio(positions, cmd.InOrStdin())
				if err != nil {
					hub.Stop()
					return err
				}
				go func() {
					_ = rt.engine.RunRules(ctx, interval, risk.PositionSourceFunc(
						func(context.Context) ([]models.PortfolioPosition, error) {
							return in.Positions, nil
						}))
				}()
			}

			src := cmd.InOrStdin()
			if ticks != "-" {
				f, err := os.Open(ticks)
				if err != nil {
					hub.Stop()
					return fmt.Errorf("opening tick file: %w", err)
				}
				defer f.Close()
				src = f
			}

			res, pumpErr := stream.Pump(ctx, src, hub, app.Logger)
			hub.Stop()
			if pumpErr != nil && !errors.Is(pumpErr, context.Canceled) {
				return pumpErr
			}

			return renderWatchSummary(output, res, hub.Metrics(), rt.engine)
		},
	}

	cmd.Flags().StringVar(&ticks, "ticks", "-", "tick file (NDJSON), - for stdin")
	cmd.Flags().StringArrayVar(&stops, "stop", nil, "stop-loss SYMBOL:QTY:TRIGGER[:TRAIL%] (repeatable)")
	cmd.Flags().StringArrayVar(&takes, "take", nil, "take-profit SYMBOL:QTY:TARGET (repeatable)")
	cmd.Flags().StringVar(&positions, "positions", "", "portfolio snapshot for periodic rule evaluation")
	cmd.Flags().DurationVar(&interval, "interval", 0, "rule evaluation interval (default from config)")
	return cmd
}

func renderWatchSummary(output *Output, res stream.PumpResult, hm stream.HubMetrics, engine *risk.Engine) error {
	triggeredStops := engine.StopLosses("", models.OrderTriggered)
	triggeredTakes := engine.TakeProfits("", models.OrderTriggered)
	activeStops := engine.StopLosses("", models.OrderActive)
	activeTakes := engine.TakeProfits("", models.OrderActive)

	if output.IsJSON() {
		return output.JSON(map[string]interface{}{
			"ticks_published":        res.Published,
			"ticks_skipped":          res.Skipped,
			"ticks_dropped":          hm.TicksDropped,
			"triggered_stop_losses":  triggeredStops,
			"triggered_take_profits": triggeredTakes,
			"active_stop_losses":     len(activeStops),
			"active_take_profits":    len(activeTakes),
		})
	}

	output.Println()
	output.Bold("Session")
	output.Printf("  Ticks:      %d published, %d skipped, %d dropped\n", res.Published, res.Skipped, hm.TicksDropped)
	output.Printf("  Triggered:  %d stop-loss, %d take-profit\n", len(triggeredStops), len(triggeredTakes))
	output.Printf("  Active:     %d stop-loss, %d take-profit\n", len(activeStops), len(activeTakes))
	return nil
}

func newRiskStopCmd(app *App) *cobra.Command {
	var trail, ref float64

	cmd := &cobra.Command{
		Use:   "stop <symbol> <qty> <trigger>",
		Short: "Create a stop-loss order",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			nums, err := parseFloats(args[1:])
			if err != nil {
				return err
			}
			rt, err := app.openRisk(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireStore(); err != nil {
				return err
			}

			o, err := rt.engine.CreateStopLoss(risk.StopLossRequest{
				Symbol:          strings.ToUpper(args[0]),
				Quantity:        nums[0],
				TriggerPrice:    nums[1],
				Trailing:        trail > 0,
				TrailingPercent: trail,
				ReferencePrice:  ref,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(o)
			}
			output.Success("Stop-loss %s created: %s qty %g @ %s", o.ID, o.Symbol, o.Quantity, FormatPrice(o.TriggerPrice))
			return nil
		},
	}

	cmd.Flags().Float64Var(&trail, "trail", 0, "trailing distance in percent of the high-water mark")
	cmd.Flags().Float64Var(&ref, "ref", 0, "reference price seeding the high-water mark")
	return cmd
}

func newRiskTakeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "take <symbol> <qty> <target>",
		Short: "Create a take-profit order",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			nums, err := parseFloats(args[1:])
			if err != nil {
				return err
			}
			rt, err := app.openRisk(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireStore(); err != nil {
				return err
			}

			o, err := rt.engine.CreateTakeProfit(risk.TakeProfitRequest{
				Symbol:      strings.ToUpper(args[0]),
				Quantity:    nums[0],
				TargetPrice: nums[1],
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(o)
			}
			output.Success("Take-profit %s created: %s qty %g @ %s", o.ID, o.Symbol, o.Quantity, FormatPrice(o.TargetPrice))
			return nil
		},
	}
}

func newRiskOrdersCmd(app *App) *cobra.Command {
	var symbol, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List protective orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rt, err := app.openRisk(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireStore(); err != nil {
				return err
			}

			filter := store.OrderFilter{
				Symbol: strings.ToUpper(symbol),
				Status: models.OrderStatus(status),
				Limit:  limit,
			}
			stops, err := rt.store.StopLosses(cmd.Context(), filter)
			if err != nil {
				return err
			}
			takes, err := rt.store.TakeProfits(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"stop_losses":  stops,
					"take_profits": takes,
				})
			}

			if len(stops) == 0 && len(takes) == 0 {
				output.Dim("No orders")
				return nil
			}
			table := NewTable(output, "ID", "Kind", "Symbol", "Qty", "Level", "Status", "Filled", "Created")
			for _, o := range stops {
				level := FormatPrice(o.TriggerPrice)
				if o.Trailing {
					level += fmt.Sprintf(" (trail %g%%)", o.TrailingPercent)
				}
				table.AddRow(o.ID, "stop_loss", o.Symbol, fmt.Sprintf("%g", o.Quantity), level,
					statusText(output, o.Status), filledText(o.TriggeredPrice), FormatDateTime(o.CreatedAt))
			}
			for _, o := range takes {
				table.AddRow(o.ID, "take_profit", o.Symbol, fmt.Sprintf("%g", o.Quantity), FormatPrice(o.TargetPrice),
					statusText(output, o.Status), filledText(o.TriggeredPrice), FormatDateTime(o.CreatedAt))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: active, triggered, cancelled")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum orders per kind")
	return cmd
}

func statusText(output *Output, s models.OrderStatus) string {
	switch s {
	case models.OrderActive:
		return output.Green(string(s))
	case models.OrderTriggered:
		return output.Yellow(string(s))
	}
	return output.DimText(string(s))
}

func filledText(price float64) string {
	if price == 0 {
		return "-"
	}
	return FormatPrice(price)
}

func newRiskCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an active protective order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rt, err := app.openRisk(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireStore(); err != nil {
				return err
			}

			cancelled, err := rt.engine.Cancel(args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"order_id": args[0], "cancelled": cancelled})
			}
			if cancelled {
				output.Success("Order %s cancelled", args[0])
			} else {
				output.Warning("Order %s is no longer active", args[0])
			}
			return nil
		},
	}
}
