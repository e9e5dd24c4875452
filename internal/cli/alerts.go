package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quantrisk/internal/models"
	"quantrisk/internal/store"
)

func newAlertsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Review and acknowledge risk alerts",
	}

	cmd.AddCommand(newAlertsListCmd(app))
	cmd.AddCommand(newAlertsAckCmd(app))

	return cmd
}

func newAlertsListCmd(app *App) *cobra.Command {
	var (
		symbol string
		since  time.Duration
		all    bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List alerts, newest first",
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

			filter := store.AlertFilter{
				Symbol:             strings.ToUpper(symbol),
				UnacknowledgedOnly: !all,
				Limit:              limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			alerts, err := rt.store.Alerts(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(alerts)
			}
			renderAlerts(output, alerts)
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().DurationVar(&since, "since", 0, "only alerts newer than this (e.g. 24h)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include acknowledged alerts")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum alerts")
	return cmd
}

func renderAlerts(output *Output, alerts []models.RiskAlert) {
	if len(alerts) == 0 {
		output.Dim("No alerts")
		return
	}
	table := NewTable(output, "ID", "Time", "Severity", "Type", "Symbol", "Message", "Ack")
	for _, a := range alerts {
		table.AddRow(a.ID, FormatDateTime(a.Timestamp), output.Severity(a.Severity), string(a.Type),
			a.Symbol, TruncateString(a.Message, 60), ackTime(a))
	}
	table.Render()
}

func newAlertsAckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <alert-id>...",
		Short: "Acknowledge alerts",
		Args:  cobra.MinimumNArgs(1),
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

			acked := make([]models.RiskAlert, 0, len(args))
			for _, id := range args {
				a, err := rt.engine.AcknowledgeAlert(id)
				if err != nil {
					return err
				}
				acked = append(acked, a)
			}

			if output.IsJSON() {
				return output.JSON(acked)
			}
			for _, a := range acked {
				output.Success("Acknowledged %s at %s", a.ID, ackTime(a))
			}
			return nil
		},
	}
}

func ackTime(a models.RiskAlert) string {
	if !a.Acknowledged || a.AcknowledgedAt == nil {
		return "-"
	}
	return FormatDateTime(*a.AcknowledgedAt)
}
