package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# quantrisk configuration

[pricing]
risk_free_rate = 0.05
dividend_yield = 0.0
# Volatility floor used by the pricer and the implied volatility solver
min_volatility = 0.01
iv_max_iterations = 100
iv_tolerance = 1e-6
iv_initial_guess = 0.30
# Synthetic bid/ask spread applied when no quote source is available
synthetic_spread = 0.02

[analytics]
risk_free_rate = 0.02
trading_days = 252
var_confidence = 0.95
# Annual volatility assumed for positions without return history
default_position_volatility = 0.25
# Positions above this fraction of portfolio value count toward liquidity risk
liquidity_threshold = 0.05
# Trade matching policy: first_available, fifo
trade_matching = "first_available"

[risk]
risk_budget_percent = 15.0
max_position_percent = 20.0
max_sector_percent = 30.0
max_leverage = 2.0
default_risk_percent = 10.0
default_reward_percent = 20.0
medium_threshold = 0.4
high_threshold = 0.6
extreme_threshold = 0.8
rule_interval = "30s"
event_buffer_size = 256
dispatch_workers = 4

[store]
enabled = true
# path = "/home/me/.config/quantrisk/quantrisk.db"

[notify]
# alerts below this severity are not forwarded: low, medium, high, critical
min_severity = "low"
terminal_bell = false

[notify.redis]
enabled = false
addr = "localhost:6379"
alert_channel = "quantrisk:alerts"
event_channel = "quantrisk:orders"
publish_timeout = "2s"
breaker_failures = 5
breaker_timeout = "30s"

[log]
level = "info"
console = true
file = false
`

// WriteTemplate writes a commented config.toml into configDir.
// An existing file is left untouched.
func WriteTemplate(configDir string) (string, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config template: %w", err)
	}

	return path, nil
}
