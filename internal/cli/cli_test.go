package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantrisk/internal/config"
	"quantrisk/internal/models"
)

type result struct {
	out    string
	errOut string
}

// run executes the command tree against a config directory.
func run(t *testing.T, dir, stdin string, args ...string) (result, error) {
	t.Helper()
	t.Setenv("QUANTRISK_LOG_LEVEL", "disabled")

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	root := NewRootCmd(cfg, zerolog.Nop())
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", dir, "--no-color"}, args...))

	err = root.Execute()
	return result{out: out.String(), errOut: errOut.String()}, err
}

func mustRun(t *testing.T, dir, stdin string, args ...string) result {
	t.Helper()
	res, err := run(t, dir, stdin, args...)
	require.NoError(t, err, "stderr: %s", res.errOut)
	return res
}

func decode(t *testing.T, s string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(s), v), "output: %s", s)
}

func TestPriceCommand(t *testing.T) {
	dir := t.TempDir()
	res := mustRun(t, dir, "", "price", "--spot", "100", "--strike", "100", "--years", "1",
		"--vol", "0.2", "--rate", "0.05", "--json")

	var got struct {
		Price     float64 `json:"price"`
		Intrinsic float64 `json:"intrinsic"`
	}
	decode(t, res.out, &got)
	assert.InDelta(t, 10.4506, got.Price, 1e-3)
	assert.Zero(t, got.Intrinsic)
}

func TestPriceCommandRejectsBadType(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "price", "--spot", "100", "--strike", "100", "--type", "straddle")
	assert.ErrorContains(t, err, "invalid option type")
}

func TestIVCommandRecoversVolatility(t *testing.T) {
	dir := t.TempDir()
	res := mustRun(t, dir, "", "iv", "--spot", "100", "--strike", "100", "--years", "1",
		"--rate", "0.05", "--market", "10.4506", "--json")

	var got struct {
		Volatility float64 `json:"volatility"`
		Converged  bool    `json:"converged"`
	}
	decode(t, res.out, &got)
	assert.True(t, got.Converged)
	assert.InDelta(t, 0.2, got.Volatility, 1e-3)
}

func TestGreeksCommandTable(t *testing.T) {
	res := mustRun(t, t.TempDir(), "", "greeks", "--spot", "100", "--strike", "100", "--years", "1", "--vol", "0.2")
	assert.Contains(t, res.out, "Delta")
	assert.Contains(t, res.out, "Theta /day")
}

func TestStrategyCommand(t *testing.T) {
	res := mustRun(t, t.TempDir(), "", "strategy", "straddle", "--symbol", "nifty", "--spot", "100",
		"--strikes", "100", "--days", "30", "--vol", "0.2", "--json")

	var got struct {
		Strategy models.OptionStrategy `json:"strategy"`
		Payoff   []PayoffPoint         `json:"payoff"`
	}
	decode(t, res.out, &got)
	assert.Equal(t, models.StrategyStraddle, got.Strategy.Kind)
	assert.Equal(t, "NIFTY", got.Strategy.Underlying)
	assert.Len(t, got.Strategy.Legs, 2)
	assert.True(t, got.Strategy.MaxProfitUnbounded)
	require.Len(t, got.Payoff, 9)
	for i := 1; i < len(got.Payoff); i++ {
		assert.Greater(t, got.Payoff[i].Price, got.Payoff[i-1].Price)
	}
}

func TestStrategyCommandUnknownKind(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "strategy", "collar", "--symbol", "X", "--spot", "100", "--strikes", "100")
	assert.Error(t, err)
}

func TestChainCommand(t *testing.T) {
	res := mustRun(t, t.TempDir(), "", "chain", "--symbol", "INFY", "--spot", "1500", "--vol", "0.25",
		"--days", "30", "--step", "50", "--count", "2", "--json")

	var chain models.OptionChain
	decode(t, res.out, &chain)
	assert.Equal(t, "INFY", chain.Symbol)
	require.Len(t, chain.Calls, 5)
	require.Len(t, chain.Puts, 5)
	assert.Equal(t, 1400.0, chain.Calls[0].Strike)
	assert.Equal(t, 1600.0, chain.Calls[4].Strike)
	assert.True(t, chain.Calls[0].Synthetic)
}

func TestStrikeGrid(t *testing.T) {
	assert.Equal(t, []float64{1450, 1500, 1550}, strikeGrid(1512, 50, 1))
	assert.Equal(t, []float64{50, 100}, strikeGrid(60, 50, 1))
	assert.Nil(t, strikeGrid(100, 0, 3))
}

const portfolioJSON = `{
  "portfolio_id": "p1",
  "positions": [
    {"symbol": "INFY", "quantity": 10, "average_cost": 1400, "current_price": 1500, "sector": "IT"},
    {"symbol": "HDFC", "quantity": 5, "average_cost": 1700, "current_price": 1600, "sector": "Banking"}
  ],
  "history": [
    {"timestamp": "2026-01-01T00:00:00Z", "value": 22000},
    {"timestamp": "2026-01-02T00:00:00Z", "value": 22400},
    {"timestamp": "2026-01-03T00:00:00Z", "value": 22100},
    {"timestamp": "2026-01-04T00:00:00Z", "value": 23000}
  ]
}`

func TestAnalyticsSummary(t *testing.T) {
	res := mustRun(t, t.TempDir(), portfolioJSON, "analytics", "summary", "--json")

	var s models.PortfolioSummary
	decode(t, res.out, &s)
	assert.InDelta(t, 23000, s.TotalValue, 1e-9)
	assert.InDelta(t, 22500, s.TotalCost, 1e-9)
	assert.InDelta(t, 500, s.UnrealizedPnL, 1e-9)
	assert.False(t, s.DailyPnLAvailable)
	assert.Equal(t, 2, s.PositionCount)
}

func TestAnalyticsRejectsUnknownMatching(t *testing.T) {
	_, err := run(t, t.TempDir(), portfolioJSON, "analytics", "performance", "--matching", "lifo")
	assert.Error(t, err)
}

func TestAnalyticsRiskTable(t *testing.T) {
	res := mustRun(t, t.TempDir(), portfolioJSON, "analytics", "risk")
	assert.Contains(t, res.out, "INFY")
	assert.Contains(t, res.out, "assumed")
}

func TestRiskReportUsesStoredStops(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "", "risk", "stop", "INFY", "10", "1450")

	res := mustRun(t, dir, portfolioJSON, "risk", "report", "--json")
	var report models.RiskReport
	decode(t, res.out, &report)

	require.Len(t, report.PositionRisks, 2)
	byS := map[string]models.PositionRisk{}
	for _, p := range report.PositionRisks {
		byS[p.Symbol] = p
	}
	assert.True(t, byS["INFY"].HasStopLoss)
	assert.InDelta(t, 1450, byS["INFY"].StopLossPrice, 1e-9)
	assert.False(t, byS["HDFC"].HasStopLoss)
	assert.False(t, report.Compliance.StopLossCoverage)
}

func TestWatchTriggersStoredStopAndRaisesAlert(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "", "risk", "stop", "INFY", "10", "1450")

	ticks := strings.Join([]string{
		`{"symbol":"INFY","price":1500,"timestamp":"2026-04-01T09:15:00Z"}`,
		`not json`,
		`{"symbol":"INFY","price":1440,"timestamp":"2026-04-01T09:15:01Z"}`,
	}, "\n")
	res := mustRun(t, dir, ticks, "risk", "watch", "--json")

	var summary struct {
		Published int                    `json:"ticks_published"`
		Skipped   int                    `json:"ticks_skipped"`
		Stops     []models.StopLossOrder `json:"triggered_stop_losses"`
	}
	decode(t, res.out, &summary)
	assert.Equal(t, 2, summary.Published)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Stops, 1)
	assert.InDelta(t, 1440, summary.Stops[0].TriggeredPrice, 1e-9)
	assert.Contains(t, res.errOut, "TRIGGERED stop_loss INFY")

	res = mustRun(t, dir, "", "risk", "orders", "--status", "triggered", "--json")
	var orders struct {
		Stops []models.StopLossOrder `json:"stop_losses"`
	}
	decode(t, res.out, &orders)
	require.Len(t, orders.Stops, 1)

	res = mustRun(t, dir, "", "alerts", "list", "--json")
	var alerts []models.RiskAlert
	decode(t, res.out, &alerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertStopLossTriggered, alerts[0].Type)

	mustRun(t, dir, "", "alerts", "ack", alerts[0].ID)

	res = mustRun(t, dir, "", "alerts", "list", "--json")
	alerts = nil
	decode(t, res.out, &alerts)
	assert.Empty(t, alerts)

	res = mustRun(t, dir, "", "alerts", "list", "--all", "--json")
	alerts = nil
	decode(t, res.out, &alerts)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Acknowledged)
}

func TestWatchWithInlineOrders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticks.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"symbol":"TCS","price":4000,"timestamp":"2026-04-01T09:15:00Z"}
{"symbol":"TCS","price":4250,"timestamp":"2026-04-01T09:15:01Z"}
`), 0644))

	res := mustRun(t, dir, "", "risk", "watch", "--ticks", path, "--take", "tcs:5:4200", "--stop", "TCS:5:3800:5")
	assert.Contains(t, res.out, "TRIGGERED take_profit TCS")
	assert.Contains(t, res.out, "1 take-profit")
}

func TestRulesLifecycle(t *testing.T) {
	dir := t.TempDir()
	res := mustRun(t, dir, "", "risk", "rules", "add", "--type", "position_size",
		"--param", "max_percent=50", "--priority", "5", "--json")
	var rule models.RiskRule
	decode(t, res.out, &rule)
	assert.Equal(t, models.RulePositionSize, rule.Type)
	assert.Equal(t, 50.0, rule.Params["max_percent"])
	assert.True(t, rule.Enabled)

	// INFY is 15000 of 23000, above the 50% limit.
	res = mustRun(t, dir, portfolioJSON, "risk", "check", "--json")
	var check struct {
		Evaluated int                `json:"evaluated"`
		Alerts    []models.RiskAlert `json:"alerts"`
	}
	decode(t, res.out, &check)
	assert.Equal(t, 1, check.Evaluated)
	require.Len(t, check.Alerts, 1)
	assert.Equal(t, "INFY", check.Alerts[0].Symbol)

	mustRun(t, dir, "", "risk", "rules", "disable", rule.ID)
	res = mustRun(t, dir, "", "risk", "rules", "list", "--json")
	var rules []models.RiskRule
	decode(t, res.out, &rules)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)

	mustRun(t, dir, "", "risk", "rules", "remove", rule.ID)
	_, err := run(t, dir, "", "risk", "rules", "remove", rule.ID)
	assert.Error(t, err)
}

func TestRulesAddRejectsBadParam(t *testing.T) {
	_, err := run(t, t.TempDir(), "", "risk", "rules", "add", "--type", "position_size", "--param", "max_percent=lots")
	assert.ErrorContains(t, err, "not a number")
}

func TestStoreDisabledCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUANTRISK_STORE_ENABLED", "false")
	_, err := run(t, dir, "", "risk", "stop", "INFY", "10", "1450")
	assert.ErrorIs(t, err, errStoreDisabled)
}

func TestParseSpecs(t *testing.T) {
	stop, err := parseStopSpec("infy:10:1450:5")
	require.NoError(t, err)
	assert.Equal(t, "INFY", stop.Symbol)
	assert.True(t, stop.Trailing)
	assert.Equal(t, 5.0, stop.TrailingPercent)

	stop, err = parseStopSpec("TCS:1:3000")
	require.NoError(t, err)
	assert.False(t, stop.Trailing)

	_, err = parseStopSpec("TCS:1")
	assert.Error(t, err)
	_, err = parseTakeSpec("TCS:x:3000")
	assert.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	res := mustRun(t, dir, "", "config", "path")
	assert.Equal(t, dir+"\n", res.out)

	mustRun(t, dir, "", "config", "init")
	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	_, err := run(t, dir, "", "config", "init")
	assert.Error(t, err)

	res = mustRun(t, dir, "", "config", "validate", "--json")
	assert.JSONEq(t, `{"valid": true}`, res.out)
}

func TestVersionCommand(t *testing.T) {
	res := mustRun(t, t.TempDir(), "", "version", "--json")
	assert.JSONEq(t, `{"version": "`+Version+`", "build_date": "`+BuildDate+`"}`, res.out)
}

func TestTableRenderAlignsColoredCells(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, false, true)
	table := NewTable(out, "A", "B")
	table.AddRow(out.Green("x"), "y")
	table.AddRow("long", "z")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "long  z", lines[3])
	assert.Equal(t, 7, visibleLen(lines[2]))
}
