package config

import "strings"

// Config 是 sigflow 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Signal   SignalConfig   `toml:"signal"`
	AI       AIConfig       `toml:"ai"`
	Policy   PolicyConfig   `toml:"policy"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Trade    TradeConfig    `toml:"trade_service"`
	Audit    AuditConfig    `toml:"audit"`
	Notify   NotifyConfig   `toml:"notify"`
	Prompt   PromptConfig   `toml:"prompt"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	AILog    string `toml:"ai_log_path"`
	AIDump   bool   `toml:"ai_dump_payload"`
}

// MarketConfig 描述情绪与宽度数据来源。
type MarketConfig struct {
	SentimentEndpoint      string   `toml:"sentiment_endpoint"`
	RESTBaseURL            string   `toml:"rest_base_url"`
	Basket                 []string `toml:"basket"` // 参考篮子，如 BTCUSDT、ETHUSDT
	RefreshIntervalSeconds int      `toml:"refresh_interval_seconds"`
	StalenessSeconds       int      `toml:"staleness_seconds"`
	MinConfidence          float64  `toml:"min_confidence"` // 低于该值仅削弱、不单独否决
}

// SignalConfig 控制信号有效期与历史窗口。
type SignalConfig struct {
	ValiditySeconds   int `toml:"validity_seconds"`
	HistorySize       int `toml:"history_size"`
	FlipLimit         int `toml:"flip_limit"`
	FlipWindowSeconds int `toml:"flip_window_seconds"`
}

// PolicyConfig 是兜底评分的业务策略，可热更新。
// 阈值来自历史调参，不是从模型推导出来的，保持可配置。
type PolicyConfig struct {
	MinFavorable       int `toml:"min_favorable"`        // 默认 3（共 4 项有利条件）
	StrongMinFavorable int `toml:"strong_min_favorable"` // STRONG 信号降档，默认 2
}

// AIConfig 包含模型接入与判定行为设置。
type AIConfig struct {
	Enabled               bool                   `toml:"enabled"`
	TimeoutSeconds        int                    `toml:"timeout_seconds"`
	MaxJustificationChars int                    `toml:"max_justification_chars"`
	BreakerThreshold      int                    `toml:"breaker_threshold"`
	BreakerCooldownSecs   int                    `toml:"breaker_cooldown_seconds"`
	JudgeLogPath          string                 `toml:"judge_log_path"`
	ProviderPresets       map[string]ModelPreset `toml:"provider_presets"`
	Models                []AIModelConfig        `toml:"models"`
}

// ModelPreset 描述可复用的 API 连接配置。
type ModelPreset struct {
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Headers map[string]string `toml:"headers"`
}

// AIModelConfig 代表一个可被选用的模型条目。
type AIModelConfig struct {
	ID      string            `toml:"id"`
	Preset  string            `toml:"preset"`
	Enabled bool              `toml:"enabled"`
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Model   string            `toml:"model"`
	Headers map[string]string `toml:"headers"`
}

// ResolvedModelConfig 是合并预设后的最终模型配置。
type ResolvedModelConfig struct {
	ID      string
	Enabled bool
	APIURL  string
	APIKey  string
	Model   string
	Headers map[string]string
}

// DispatchConfig 控制多账户派发。
type DispatchConfig struct {
	WorkerLimit           int                       `toml:"worker_limit"`
	PositionCap           int                       `toml:"position_cap"`
	CooldownSeconds       int                       `toml:"cooldown_seconds"`
	MinBalance            map[string]float64        `toml:"min_balance"` // 币种 -> 余额下限
	DecisionBudgetSeconds int                       `toml:"decision_budget_seconds"`
	DispatchBudgetSeconds int                       `toml:"dispatch_budget_seconds"`
	DefaultOrderSizePct   float64                   `toml:"default_order_size_pct"`
	DefaultStopLossPct    float64                   `toml:"default_stop_loss_pct"`
	DefaultTakeProfitPct  float64                   `toml:"default_take_profit_pct"`
	Exchanges             map[string]ExchangeLimits `toml:"exchanges"`
}

// ExchangeLimits 每个交易所独立的限速参数。
type ExchangeLimits struct {
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// TradeConfig 指向账户/订单管理协作方的 REST 接口。
type TradeConfig struct {
	APIURL             string `toml:"api_url"`
	APIToken           string `toml:"api_token"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type AuditConfig struct {
	DBPath string `toml:"db_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type PromptConfig struct {
	Path string `toml:"path"`
}

// ResolveModelConfigs 合并 preset 与模型条目。
func (a AIConfig) ResolveModelConfigs() ([]ResolvedModelConfig, error) {
	out := make([]ResolvedModelConfig, 0, len(a.Models))
	for _, m := range a.Models {
		resolved := ResolvedModelConfig{
			ID:      strings.TrimSpace(m.ID),
			Enabled: m.Enabled,
			APIURL:  strings.TrimSpace(m.APIURL),
			APIKey:  strings.TrimSpace(m.APIKey),
			Model:   strings.TrimSpace(m.Model),
			Headers: m.Headers,
		}
		if preset, ok := a.ProviderPresets[strings.TrimSpace(m.Preset)]; ok {
			if resolved.APIURL == "" {
				resolved.APIURL = strings.TrimSpace(preset.APIURL)
			}
			if resolved.APIKey == "" {
				resolved.APIKey = strings.TrimSpace(preset.APIKey)
			}
			if len(resolved.Headers) == 0 {
				resolved.Headers = preset.Headers
			}
		}
		out = append(out, resolved)
	}
	return out, nil
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
