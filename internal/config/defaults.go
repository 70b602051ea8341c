package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9980"
	defaultAppLogPath  = "/data/logs/sigflow-live.log"
	defaultAppAILog    = "/data/logs/sigflow-ai.log"

	defaultSentimentEndpoint = "https://api.alternative.me/fng/?limit=5"
	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketRefresh     = 300
	defaultMarketStaleness   = 900
	defaultMinConfidence     = 0.4

	defaultSignalValidity = 30
	defaultHistorySize    = 10
	defaultFlipLimit      = 3
	defaultFlipWindow     = 300

	defaultPolicyMinFavorable       = 3
	defaultPolicyStrongMinFavorable = 2

	defaultAITimeout        = 8
	defaultAIMaxJust        = 240
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 120
	defaultJudgeLogPath     = "/data/live/judge_calls.db"

	defaultWorkerLimit    = 8
	defaultPositionCap    = 2
	defaultCooldown       = 7200
	defaultDecisionBudget = 5
	defaultDispatchBudget = 45
	// 百分比字段按整数百分点理解：2 = 2%
	defaultOrderSizePct  = 5.0
	defaultStopLossPct   = 2.0
	defaultTakeProfitPct = 4.0
	defaultExchangeRate  = 4.0
	defaultExchangeBurst = 2

	defaultTradeTimeout = 15

	defaultAuditDBPath = "/data/live/audit.db"
	defaultPromptPath  = "configs/prompts.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Policy.applyDefaults(keys)
	c.Dispatch.applyDefaults(keys)
	c.Trade.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
	c.Prompt.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.ai_log_path", &a.AILog, defaultAppAILog),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.sentiment_endpoint", &m.SentimentEndpoint, defaultSentimentEndpoint),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		fieldDefault{
			key:   "market.refresh_interval_seconds",
			need:  func() bool { return m.RefreshIntervalSeconds <= 0 },
			apply: func() { m.RefreshIntervalSeconds = defaultMarketRefresh },
		},
		fieldDefault{
			key:   "market.staleness_seconds",
			need:  func() bool { return m.StalenessSeconds <= 0 },
			apply: func() { m.StalenessSeconds = defaultMarketStaleness },
		},
		fieldDefault{
			key:   "market.min_confidence",
			need:  func() bool { return m.MinConfidence <= 0 || m.MinConfidence >= 1 },
			apply: func() { m.MinConfidence = defaultMinConfidence },
		},
	)
	if len(m.Basket) == 0 {
		m.Basket = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT", "ADAUSDT", "DOGEUSDT", "LINKUSDT"}
	}
	for i := range m.Basket {
		m.Basket[i] = strings.ToUpper(strings.TrimSpace(m.Basket[i]))
	}
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "signal.validity_seconds",
			need:  func() bool { return s.ValiditySeconds <= 0 },
			apply: func() { s.ValiditySeconds = defaultSignalValidity },
		},
		fieldDefault{
			key:   "signal.history_size",
			need:  func() bool { return s.HistorySize <= 0 },
			apply: func() { s.HistorySize = defaultHistorySize },
		},
		fieldDefault{
			key:   "signal.flip_limit",
			need:  func() bool { return s.FlipLimit <= 0 },
			apply: func() { s.FlipLimit = defaultFlipLimit },
		},
		fieldDefault{
			key:   "signal.flip_window_seconds",
			need:  func() bool { return s.FlipWindowSeconds <= 0 },
			apply: func() { s.FlipWindowSeconds = defaultFlipWindow },
		},
	)
}

func (p *PolicyConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "policy.min_favorable",
			need:  func() bool { return p.MinFavorable <= 0 },
			apply: func() { p.MinFavorable = defaultPolicyMinFavorable },
		},
		fieldDefault{
			key:   "policy.strong_min_favorable",
			need:  func() bool { return p.StrongMinFavorable <= 0 },
			apply: func() { p.StrongMinFavorable = defaultPolicyStrongMinFavorable },
		},
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	if a.ProviderPresets == nil {
		a.ProviderPresets = make(map[string]ModelPreset)
	}
	applyFieldDefaults(keys,
		boolFieldDefault("ai.enabled", &a.Enabled, true),
		stringFieldDefault("ai.judge_log_path", &a.JudgeLogPath, defaultJudgeLogPath),
		fieldDefault{
			key:   "ai.timeout_seconds",
			need:  func() bool { return a.TimeoutSeconds <= 0 },
			apply: func() { a.TimeoutSeconds = defaultAITimeout },
		},
		fieldDefault{
			key:   "ai.max_justification_chars",
			need:  func() bool { return a.MaxJustificationChars <= 0 },
			apply: func() { a.MaxJustificationChars = defaultAIMaxJust },
		},
		fieldDefault{
			key:   "ai.breaker_threshold",
			need:  func() bool { return a.BreakerThreshold <= 0 },
			apply: func() { a.BreakerThreshold = defaultBreakerThreshold },
		},
		fieldDefault{
			key:   "ai.breaker_cooldown_seconds",
			need:  func() bool { return a.BreakerCooldownSecs <= 0 },
			apply: func() { a.BreakerCooldownSecs = defaultBreakerCooldown },
		},
	)
}

func (d *DispatchConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "dispatch.worker_limit",
			need:  func() bool { return d.WorkerLimit <= 0 },
			apply: func() { d.WorkerLimit = defaultWorkerLimit },
		},
		fieldDefault{
			key:   "dispatch.position_cap",
			need:  func() bool { return d.PositionCap <= 0 },
			apply: func() { d.PositionCap = defaultPositionCap },
		},
		fieldDefault{
			key:   "dispatch.cooldown_seconds",
			need:  func() bool { return d.CooldownSeconds <= 0 },
			apply: func() { d.CooldownSeconds = defaultCooldown },
		},
		fieldDefault{
			key:   "dispatch.decision_budget_seconds",
			need:  func() bool { return d.DecisionBudgetSeconds <= 0 },
			apply: func() { d.DecisionBudgetSeconds = defaultDecisionBudget },
		},
		fieldDefault{
			key:   "dispatch.dispatch_budget_seconds",
			need:  func() bool { return d.DispatchBudgetSeconds <= 0 },
			apply: func() { d.DispatchBudgetSeconds = defaultDispatchBudget },
		},
		fieldDefault{
			key:   "dispatch.default_order_size_pct",
			need:  func() bool { return d.DefaultOrderSizePct <= 0 || d.DefaultOrderSizePct > 1 },
			apply: func() { d.DefaultOrderSizePct = defaultOrderSizePct },
		},
		fieldDefault{
			key:   "dispatch.default_stop_loss_pct",
			need:  func() bool { return d.DefaultStopLossPct <= 0 },
			apply: func() { d.DefaultStopLossPct = defaultStopLossPct },
		},
		fieldDefault{
			key:   "dispatch.default_take_profit_pct",
			need:  func() bool { return d.DefaultTakeProfitPct <= 0 },
			apply: func() { d.DefaultTakeProfitPct = defaultTakeProfitPct },
		},
	)
	if d.MinBalance == nil {
		// 本币与外币分别设下限，低于下限的账户直接跳过
		d.MinBalance = map[string]float64{
			"KRW":  10000,
			"USDT": 10,
		}
	}
	if d.Exchanges == nil {
		d.Exchanges = make(map[string]ExchangeLimits)
	}
	for name, lim := range d.Exchanges {
		if lim.RatePerSecond <= 0 {
			lim.RatePerSecond = defaultExchangeRate
		}
		if lim.Burst <= 0 {
			lim.Burst = defaultExchangeBurst
		}
		d.Exchanges[name] = lim
	}
}

// LimitsFor 返回指定交易所的限速参数（未配置时回退默认值）。
func (d DispatchConfig) LimitsFor(exchange string) ExchangeLimits {
	if lim, ok := d.Exchanges[strings.ToLower(strings.TrimSpace(exchange))]; ok {
		return lim
	}
	return ExchangeLimits{RatePerSecond: defaultExchangeRate, Burst: defaultExchangeBurst}
}

func (t *TradeConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trade_service.timeout_seconds",
			need:  func() bool { return t.TimeoutSeconds <= 0 },
			apply: func() { t.TimeoutSeconds = defaultTradeTimeout },
		},
	)
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("audit.db_path", &a.DBPath, defaultAuditDBPath),
	)
}

func (p *PromptConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("prompt.path", &p.Path, defaultPromptPath),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
