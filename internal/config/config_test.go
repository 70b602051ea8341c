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

const minimalConfig = `
market:
  basket: [BTCUSDT, ETHUSDT]
trade_service:
  api_url: http://127.0.0.1:9810
`

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Signal.ValiditySeconds)
	assert.Equal(t, 10, cfg.Signal.HistorySize)
	assert.Equal(t, 3, cfg.Signal.FlipLimit)
	assert.Equal(t, 300, cfg.Signal.FlipWindowSeconds)

	assert.Equal(t, 3, cfg.Policy.MinFavorable)
	assert.Equal(t, 2, cfg.Policy.StrongMinFavorable)
	assert.InDelta(t, 0.4, cfg.Market.MinConfidence, 1e-9)

	assert.Equal(t, 2, cfg.Dispatch.PositionCap)
	assert.Equal(t, 7200, cfg.Dispatch.CooldownSeconds)
	assert.InDelta(t, 10000, cfg.Dispatch.MinBalance["KRW"], 1e-9)
	assert.InDelta(t, 10, cfg.Dispatch.MinBalance["USDT"], 1e-9)
	// 百分比字段是整数百分点（2 = 2%），与派发引擎的换算一致
	assert.InDelta(t, 5, cfg.Dispatch.DefaultOrderSizePct, 1e-9)
	assert.InDelta(t, 2, cfg.Dispatch.DefaultStopLossPct, 1e-9)
	assert.InDelta(t, 4, cfg.Dispatch.DefaultTakeProfitPct, 1e-9)
	assert.Equal(t, 15, cfg.Trade.TimeoutSeconds)
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
market:
  basket: [BTCUSDT]
signal:
  validity_seconds: 45
policy:
  min_favorable: 4
  strong_min_favorable: 3
dispatch:
  min_balance:
    USDT: 25
trade_service:
  api_url: http://127.0.0.1:9810
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Signal.ValiditySeconds)
	assert.Equal(t, 4, cfg.Policy.MinFavorable)
	assert.Equal(t, 3, cfg.Policy.StrongMinFavorable)
	assert.InDelta(t, 25, cfg.Dispatch.MinBalance["USDT"], 1e-9)
}

func TestLoad_IncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
market:
  basket: [BTCUSDT]
trade_service:
  api_url: http://127.0.0.1:9810
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
signal:
  validity_seconds: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Market.Basket)
	assert.Equal(t, 20, cfg.Signal.ValiditySeconds)
}

func TestLoad_ValidationErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing basket", func(t *testing.T) {
		path := writeConfig(t, dir, "nobasket.yaml", `
trade_service:
  api_url: http://127.0.0.1:9810
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "market.basket")
	})

	t.Run("missing trade service url", func(t *testing.T) {
		path := writeConfig(t, dir, "notrade.yaml", `
market:
  basket: [BTCUSDT]
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "trade_service.api_url")
	})

	t.Run("strong threshold above min", func(t *testing.T) {
		path := writeConfig(t, dir, "badpolicy.yaml", minimalConfig+`
policy:
  min_favorable: 2
  strong_min_favorable: 3
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "strong_min_favorable")
	})
}

func TestDispatchConfig_LimitsFor(t *testing.T) {
	d := DispatchConfig{Exchanges: map[string]ExchangeLimits{
		"upbit": {RatePerSecond: 8, Burst: 4},
	}}
	assert.Equal(t, ExchangeLimits{RatePerSecond: 8, Burst: 4}, d.LimitsFor(" Upbit "))

	fallback := d.LimitsFor("binance")
	assert.InDelta(t, defaultExchangeRate, fallback.RatePerSecond, 1e-9)
	assert.Equal(t, defaultExchangeBurst, fallback.Burst)
}

func TestAIConfig_ResolveModelConfigs(t *testing.T) {
	cfg := AIConfig{
		ProviderPresets: map[string]ModelPreset{
			"openrouter": {APIURL: "https://openrouter.ai/api/v1", APIKey: "sk-test"},
		},
		Models: []AIModelConfig{
			{ID: "judge", Preset: "openrouter", Enabled: true, Model: "deepseek/deepseek-chat"},
			{ID: "own-key", Enabled: true, Model: "gpt-4o-mini", APIURL: "https://api.openai.com/v1", APIKey: "sk-own"},
		},
	}
	models, err := cfg.ResolveModelConfigs()
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.Equal(t, "https://openrouter.ai/api/v1", models[0].APIURL)
	assert.Equal(t, "sk-test", models[0].APIKey)
	assert.Equal(t, "sk-own", models[1].APIKey)
}
