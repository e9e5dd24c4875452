package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Pricing.IVMaxIterations)
	assert.Equal(t, 0.30, cfg.Pricing.IVInitialGuess)
	assert.Equal(t, 252, cfg.Analytics.TradingDays)
	assert.Equal(t, "first_available", cfg.Analytics.TradeMatching)
	assert.Equal(t, 15.0, cfg.Risk.RiskBudgetPercent)
	assert.Equal(t, 30*time.Second, cfg.Risk.RuleInterval)
	assert.Equal(t, filepath.Join(dir, "quantrisk.db"), cfg.Store.Path)
}

func TestTemplateRoundTrip(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteTemplate(dir)
	require.NoError(t, err)
	assert.FileExists(t, path)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.02, cfg.Pricing.SyntheticSpread)
	assert.Equal(t, "quantrisk:alerts", cfg.Notify.Redis.AlertChannel)

	_, err = WriteTemplate(dir)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidMatchingPolicy(t *testing.T) {
	dir := t.TempDir()
	content := "[analytics]\ntrade_matching = \"lifo\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trade_matching")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("QUANTRISK_RISK_MAX_SECTOR_PERCENT", "25")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.Risk.MaxSectorPercent)
}

func TestValidateThresholdOrdering(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Risk.HighThreshold = 0.9
	assert.Error(t, cfg.Validate())
}

func TestValidateMinSeverity(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "low", cfg.Notify.MinSeverity)

	cfg.Notify.MinSeverity = "urgent"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_severity")
}

func TestRedactedMasksRedisPassword(t *testing.T) {
	cfg := Default()
	cfg.Notify.Redis.Password = "s3cret-password-1234"

	red := cfg.Redacted()
	assert.Equal(t, "s3cr************1234", red.Notify.Redis.Password)
	assert.Equal(t, "s3cret-password-1234", cfg.Notify.Redis.Password)

	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("abc"))
	assert.Equal(t, "ab****", MaskSecret("abcdef"))
}
