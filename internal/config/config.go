// Package config provides configuration management for the risk engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"quantrisk/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Pricing   PricingConfig     `mapstructure:"pricing"`
	Analytics AnalyticsConfig   `mapstructure:"analytics"`
	Risk      RiskConfig        `mapstructure:"risk"`
	Store     StoreConfig       `mapstructure:"store"`
	Notify    NotifyConfig      `mapstructure:"notify"`
	Log       logging.LogConfig `mapstructure:"log"`
}

// PricingConfig holds option pricing defaults.
type PricingConfig struct {
	RiskFreeRate    float64 `mapstructure:"risk_free_rate"`
	DividendYield   float64 `mapstructure:"dividend_yield"`
	MinVolatility   float64 `mapstructure:"min_volatility"`
	IVMaxIterations int     `mapstructure:"iv_max_iterations"`
	IVTolerance     float64 `mapstructure:"iv_tolerance"`
	IVInitialGuess  float64 `mapstructure:"iv_initial_guess"`
	SyntheticSpread float64 `mapstructure:"synthetic_spread"` // fraction of price on each side
}

// AnalyticsConfig holds portfolio analytics settings.
type AnalyticsConfig struct {
	RiskFreeRate              float64 `mapstructure:"risk_free_rate"` // annual
	TradingDays               int     `mapstructure:"trading_days"`
	VaRConfidence             float64 `mapstructure:"var_confidence"`
	DefaultPositionVolatility float64 `mapstructure:"default_position_volatility"` // annual
	LiquidityThreshold        float64 `mapstructure:"liquidity_threshold"`         // fraction of portfolio
	TradeMatching             string  `mapstructure:"trade_matching"`              // first_available, fifo
}

// RiskConfig holds risk engine thresholds.
type RiskConfig struct {
	RiskBudgetPercent    float64       `mapstructure:"risk_budget_percent"`
	MaxPositionPercent   float64       `mapstructure:"max_position_percent"`
	MaxSectorPercent     float64       `mapstructure:"max_sector_percent"`
	MaxLeverage          float64       `mapstructure:"max_leverage"`
	DefaultRiskPercent   float64       `mapstructure:"default_risk_percent"`
	DefaultRewardPercent float64       `mapstructure:"default_reward_percent"`
	MediumThreshold      float64       `mapstructure:"medium_threshold"`
	HighThreshold        float64       `mapstructure:"high_threshold"`
	ExtremeThreshold     float64       `mapstructure:"extreme_threshold"`
	RuleInterval         time.Duration `mapstructure:"rule_interval"`
	EventBufferSize      int           `mapstructure:"event_buffer_size"`
	DispatchWorkers      int           `mapstructure:"dispatch_workers"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NotifyConfig holds alert stream settings.
type NotifyConfig struct {
	MinSeverity  string      `mapstructure:"min_severity"` // low, medium, high, critical
	TerminalBell bool        `mapstructure:"terminal_bell"`
	Redis        RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis pub/sub settings.
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	AlertChannel    string        `mapstructure:"alert_channel"`
	EventChannel    string        `mapstructure:"event_channel"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/quantrisk"
	}
	return filepath.Join(home, ".config", "quantrisk")
}

// Load loads configuration from config.toml in the specified directory.
// If configDir is empty, uses the default config directory. A missing file
// is not an error; defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper(configDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	cfg := &Config{}
	// Unmarshal of pure defaults cannot fail.
	_ = newViper(DefaultConfigDir()).Unmarshal(cfg)
	return cfg
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("QUANTRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, configDir)
	return v
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("pricing.risk_free_rate", 0.05)
	v.SetDefault("pricing.dividend_yield", 0.0)
	v.SetDefault("pricing.min_volatility", 0.01)
	v.SetDefault("pricing.iv_max_iterations", 100)
	v.SetDefault("pricing.iv_tolerance", 1e-6)
	v.SetDefault("pricing.iv_initial_guess", 0.30)
	v.SetDefault("pricing.synthetic_spread", 0.02)

	v.SetDefault("analytics.risk_free_rate", 0.02)
	v.SetDefault("analytics.trading_days", 252)
	v.SetDefault("analytics.var_confidence", 0.95)
	v.SetDefault("analytics.default_position_volatility", 0.25)
	v.SetDefault("analytics.liquidity_threshold", 0.05)
	v.SetDefault("analytics.trade_matching", "first_available")

	v.SetDefault("risk.risk_budget_percent", 15.0)
	v.SetDefault("risk.max_position_percent", 20.0)
	v.SetDefault("risk.max_sector_percent", 30.0)
	v.SetDefault("risk.max_leverage", 2.0)
	v.SetDefault("risk.default_risk_percent", 10.0)
	v.SetDefault("risk.default_reward_percent", 20.0)
	v.SetDefault("risk.medium_threshold", 0.4)
	v.SetDefault("risk.high_threshold", 0.6)
	v.SetDefault("risk.extreme_threshold", 0.8)
	v.SetDefault("risk.rule_interval", "30s")
	v.SetDefault("risk.event_buffer_size", 256)
	v.SetDefault("risk.dispatch_workers", 4)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(configDir, "quantrisk.db"))

	v.SetDefault("notify.min_severity", "low")
	v.SetDefault("notify.terminal_bell", false)
	v.SetDefault("notify.redis.enabled", false)
	v.SetDefault("notify.redis.addr", "localhost:6379")
	v.SetDefault("notify.redis.db", 0)
	v.SetDefault("notify.redis.alert_channel", "quantrisk:alerts")
	v.SetDefault("notify.redis.event_channel", "quantrisk:orders")
	v.SetDefault("notify.redis.publish_timeout", "2s")
	v.SetDefault("notify.redis.breaker_failures", 5)
	v.SetDefault("notify.redis.breaker_timeout", "30s")

	def := logging.DefaultLogConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.console", def.Console)
	v.SetDefault("log.file", def.File)
	v.SetDefault("log.file_path", def.FilePath)
	v.SetDefault("log.max_size", def.MaxSize)
	v.SetDefault("log.max_backups", def.MaxBackups)
	v.SetDefault("log.max_age", def.MaxAge)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pricing.MinVolatility <= 0 {
		return fmt.Errorf("pricing.min_volatility must be positive")
	}
	if c.Pricing.IVMaxIterations <= 0 {
		return fmt.Errorf("pricing.iv_max_iterations must be positive")
	}
	if c.Pricing.IVTolerance <= 0 {
		return fmt.Errorf("pricing.iv_tolerance must be positive")
	}
	if c.Pricing.SyntheticSpread < 0 || c.Pricing.SyntheticSpread >= 1 {
		return fmt.Errorf("pricing.synthetic_spread must be in [0, 1)")
	}

	if c.Analytics.VaRConfidence <= 0.5 || c.Analytics.VaRConfidence >= 1 {
		return fmt.Errorf("analytics.var_confidence must be in (0.5, 1)")
	}
	if c.Analytics.TradingDays <= 0 {
		return fmt.Errorf("analytics.trading_days must be positive")
	}
	switch c.Analytics.TradeMatching {
	case "first_available", "fifo":
	default:
		return fmt.Errorf("invalid analytics.trade_matching: %s (must be 'first_available' or 'fifo')", c.Analytics.TradeMatching)
	}

	if c.Risk.MaxPositionPercent <= 0 || c.Risk.MaxPositionPercent > 100 {
		return fmt.Errorf("risk.max_position_percent must be between 0 and 100")
	}
	if c.Risk.MaxSectorPercent <= 0 || c.Risk.MaxSectorPercent > 100 {
		return fmt.Errorf("risk.max_sector_percent must be between 0 and 100")
	}
	if c.Risk.RiskBudgetPercent <= 0 {
		return fmt.Errorf("risk.risk_budget_percent must be positive")
	}
	if !(c.Risk.MediumThreshold < c.Risk.HighThreshold && c.Risk.HighThreshold < c.Risk.ExtremeThreshold) {
		return fmt.Errorf("risk level thresholds must be strictly increasing")
	}

	switch c.Notify.MinSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("invalid notify.min_severity: %s", c.Notify.MinSeverity)
	}
	if c.Notify.Redis.Enabled && c.Notify.Redis.Addr == "" {
		return fmt.Errorf("notify.redis.addr is required when redis is enabled")
	}

	return nil
}
