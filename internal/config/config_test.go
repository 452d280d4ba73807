package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
trading:
  symbols: [btcusdt, ethusdt, btcusdt]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, 500, cfg.Kline.MaxCached)
	assert.Equal(t, "15m", cfg.Trading.Interval)
	assert.Equal(t, "1h", cfg.Trading.HigherInterval)
	assert.Equal(t, 3, cfg.Trading.Leverage)
	assert.InDelta(t, 0.01, cfg.Trading.RiskPerTrade, 1e-9)
	assert.Equal(t, 3, cfg.Trading.MaxOpenPositions)
	assert.Equal(t, 1, cfg.Trading.MaxOpensPerCycle)
	assert.InDelta(t, 0.10, cfg.Risk.MaxDrawdownPct, 1e-9)
	assert.True(t, cfg.Risk.FlattenOnHalt)
	assert.Equal(t, "configs/strategies.yaml", cfg.Strategy.ProfilesPath)

	// symbol 规范化：大写去重，保序。
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)

	// 未配置 market 时注入默认 binance 源。
	require.Len(t, cfg.Market.Sources, 1)
	assert.Equal(t, "binance", cfg.Market.Sources[0].Name)
	assert.Equal(t, "binance", cfg.Market.ActiveSource)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
trading:
  symbols: [BTCUSDT]
  interval: 5m
  leverage: 10
  risk_per_trade: 0.02
risk:
  max_drawdown_pct: 0.2
  flatten_on_halt: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "5m", cfg.Trading.Interval)
	assert.Equal(t, 10, cfg.Trading.Leverage)
	assert.InDelta(t, 0.02, cfg.Trading.RiskPerTrade, 1e-9)
	assert.InDelta(t, 0.2, cfg.Risk.MaxDrawdownPct, 1e-9)
	assert.False(t, cfg.Risk.FlattenOnHalt, "显式 false 不被默认值覆盖")
}

func TestLoadValidation(t *testing.T) {
	t.Run("缺少 symbols", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", "app:\n  env: prod\n")
		_, err := Load(path)
		assert.Error(t, err)
	})
	t.Run("风险比例越界", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", `
trading:
  symbols: [BTCUSDT]
  risk_per_trade: 2
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
	t.Run("非法周期", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", `
trading:
  symbols: [BTCUSDT]
  interval: fast
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
	t.Run("telegram 开启但缺凭据", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", `
trading:
  symbols: [BTCUSDT]
notify:
  telegram:
    enabled: true
`)
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadIncludeMerging(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	main := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(base, []byte(`
trading:
  symbols: [BTCUSDT]
  leverage: 5
`), 0o644))
	require.NoError(t, os.WriteFile(main, []byte(`
include:
  - base.yaml
trading:
  leverage: 8
`), 0o644))

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Symbols, "include 文件字段生效")
	assert.Equal(t, 8, cfg.Trading.Leverage, "主文件覆盖 include")
}

func TestEnvOverridesCredentials(t *testing.T) {
	t.Setenv("STREND_BINANCE_KEY", "env-key")
	t.Setenv("STREND_BINANCE_SECRET", "env-secret")
	path := writeConfig(t, "config.yaml", `
trading:
  symbols: [BTCUSDT]
market:
  sources:
    - name: binance
      enabled: true
      api_key: file-key
      secret_key: file-secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	src := cfg.Market.ResolveActiveSource()
	assert.Equal(t, "env-key", src.APIKey)
	assert.Equal(t, "env-secret", src.SecretKey)
}

func TestIsValidInterval(t *testing.T) {
	for _, ok := range []string{"1m", "15m", "4h", "1d"} {
		assert.True(t, IsValidInterval(ok), ok)
	}
	// 周线被下游 K 线解析拒绝，配置层同样拒绝。
	for _, bad := range []string{"", "m", "15x", "h1", "1.5h", "1w"} {
		assert.False(t, IsValidInterval(bad), bad)
	}
}
