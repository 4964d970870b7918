package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
app:
  env: test
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "data/candles", cfg.Data.CandleDir)
	assert.Equal(t, "data/backsim.db", cfg.Data.ResultsPath)
	assert.Equal(t, 1000, cfg.Fetch.MaxBatch)
	assert.InDelta(t, 100000, cfg.Engine.InitialCapital, 1e-9)
	assert.InDelta(t, 0.0003, cfg.Engine.CommissionRate, 1e-12)
	assert.True(t, cfg.Engine.EnableSlippage)
	assert.True(t, cfg.Engine.EnableCommission)
	assert.False(t, cfg.Engine.EnableStampDuty)
	assert.Equal(t, 100, cfg.Engine.LotSize)
	assert.True(t, cfg.Constraints.Enabled)
	assert.InDelta(t, 0.10, cfg.Constraints.PriceLimitPct, 1e-12)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrentRuns)
}

func TestLoadKeepsExplicitFalse(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
engine:
  enable_slippage: false
constraints:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// 显式写 false 不能被默认值覆盖
	assert.False(t, cfg.Engine.EnableSlippage)
	assert.True(t, cfg.Engine.EnableCommission)
	assert.False(t, cfg.Constraints.Enabled)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
app:
  log_level: debug
engine:
  initial_capital: 50000
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
engine:
  initial_capital: 200000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	// include 先合并，入口文件覆盖
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.InDelta(t, 200000, cfg.Engine.InitialCapital, 1e-9)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeConfig(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()

	path := writeConfig(t, dir, "bad_level.yaml", "app:\n  log_level: loud\n")
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, dir, "bad_url.yaml", "fetch:\n  base_url: not-a-url\n")
	_, err = Load(path)
	assert.Error(t, err)

	path = writeConfig(t, dir, "bad_limit.yaml", "constraints:\n  price_limit_pct: 1.5\n")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestConstraintsToConstraints(t *testing.T) {
	c := Constraints{
		Enabled:              true,
		EnablePriceLimit:     true,
		PriceLimitPct:        0.1,
		SpecialPriceLimitPct: 0.05,
		SpecialSymbols:       []string{" st600001 ", "ST600001", ""},
		MaxVolumePct:         0.1,
	}
	mc := c.ToConstraints()
	assert.True(t, mc.EnablePriceLimit)
	assert.Len(t, mc.SpecialSymbols, 1)
	assert.True(t, mc.SpecialSymbols["ST600001"])
	assert.NotNil(t, mc.HaltWindows)
}
