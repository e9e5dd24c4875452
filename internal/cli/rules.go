package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"quantrisk/internal/models"
)

func newRiskRulesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage risk rules",
		Long: `Manage risk rules.

Rule types and parameters:
  position_size   max_percent, max_value
  stop_loss       max_loss_percent
  concentration   max_sector_percent
  drawdown        (no evaluation logic yet; reported as unsupported)
  variance        (no evaluation logic yet; reported as unsupported)`,
	}

	cmd.AddCommand(newRulesListCmd(app))
	cmd.AddCommand(newRulesAddCmd(app))
	cmd.AddCommand(newRulesToggleCmd(app, "enable", true))
	cmd.AddCommand(newRulesToggleCmd(app, "disable", false))
	cmd.AddCommand(newRulesRemoveCmd(app))

	return cmd
}

func newRulesListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List rules in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			rt, err := app.openRisk(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			rules := rt.engine.Rules()
			if output.IsJSON() {
				return output.JSON(rules)
			}
			if len(rules) == 0 {
				output.Dim("No rules configured")
				return nil
			}

			table := NewTable(output, "ID", "Name", "Type", "Params", "Prio", "Action", "Enabled", "Hits")
			for _, r := range rules {
				enabled := output.Green("yes")
				if !r.Enabled {
					enabled = output.DimText("no")
				}
				table.AddRow(r.ID, TruncateString(r.Name, 24), string(r.Type), formatParams(r.Params),
					strconv.Itoa(r.Priority), string(r.Action), enabled, strconv.Itoa(r.TriggerCount))
			}
			table.Render()
			return nil
		},
	}
}

func newRulesAddCmd(app *App) *cobra.Command {
	var (
		name     string
		typ      string
		action   string
		priority int
		params   map[string]string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a risk rule",
		Example: `  quantrisk risk rules add --type position_size --param max_percent=15 --priority 10
  quantrisk risk rules add --type concentration --param max_sector_percent=25 --action restrict`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			values, err := parseParams(params)
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

			rule, err := rt.engine.AddRule(models.RiskRule{
				Name:     name,
				Type:     models.RuleType(typ),
				Params:   values,
				Priority: priority,
				Action:   models.RuleAction(action),
				Enabled:  !disabled,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(rule)
			}
			output.Success("Rule %s added (%s)", rule.ID, rule.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "rule name (default: type)")
	cmd.Flags().StringVar(&typ, "type", "", "rule type")
	cmd.Flags().StringVar(&action, "action", "alert", "action: alert, restrict")
	cmd.Flags().IntVar(&priority, "priority", 0, "evaluation priority (higher first)")
	cmd.Flags().StringToStringVar(&params, "param", nil, "rule parameter key=value (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the rule disabled")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newRulesToggleCmd(app *App, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <rule-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a rule",
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

			rule, err := rt.engine.SetRuleEnabled(args[0], enabled)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(rule)
			}
			output.Success("Rule %s %sd", rule.ID, verb)
			return nil
		},
	}
}

func newRulesRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <rule-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a rule",
		Args:    cobra.ExactArgs(1),
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

			if err := rt.engine.RemoveRule(args[0]); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"removed": args[0]})
			}
			output.Success("Rule %s removed", args[0])
			return nil
		},
	}
}

func parseParams(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %q is not a number", k, v)
		}
		out[strings.TrimSpace(k)] = f
	}
	return out, nil
}

func formatParams(params map[string]float64) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, params[k]))
	}
	return strings.Join(parts, " ")
}
