package app

import (
	"context"
	"fmt"
	"time"

	"sigflow/internal/audit"
	sfcfg "sigflow/internal/config"
	"sigflow/internal/decision"
	"sigflow/internal/dispatch"
	"sigflow/internal/gateway/provider"
	"sigflow/internal/gateway/tradesvc"
	"sigflow/internal/history"
	"sigflow/internal/judgelog"
	"sigflow/internal/logger"
	"sigflow/internal/market"
	binancesrc "sigflow/internal/market/binance"
	"sigflow/internal/notifier"
	"sigflow/internal/pipeline"
	"sigflow/internal/pkg/circuit"
	transporthttp "sigflow/internal/transport/http"

	"github.com/shopspring/decimal"
)

// AppBuilder 按配置逐层组装依赖。各构建函数可在测试中替换。
type AppBuilder struct {
	cfg     *sfcfg.Config
	cfgPath string

	marketStackFn func(*sfcfg.Config) (*MarketStack, error)
	aiJudgeFn     func(*sfcfg.Config, *judgelog.Store) (decision.Judge, error)
	tradeClientFn func(sfcfg.TradeConfig) (*tradesvc.Client, error)
	policyWatchFn func(string, sfcfg.PolicyConfig) (*sfcfg.PolicyWatcher, error)
	httpServerFn  func(transporthttp.ServerConfig) (*transporthttp.Server, error)
	notifierFn    func(sfcfg.NotifyConfig) pipeline.Notifier
	auditStoreFn  func(string) (*audit.Store, error)
	judgeLogFn    func(string) (*judgelog.Store, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *sfcfg.Config, cfgPath string, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		cfgPath:       cfgPath,
		marketStackFn: buildMarketStack,
		aiJudgeFn:     nil, // 延迟绑定，需要 judge log
		tradeClientFn: tradesvc.NewClient,
		policyWatchFn: sfcfg.WatchPolicy,
		httpServerFn:  transporthttp.NewServer,
		notifierFn:    buildNotifier,
		auditStoreFn:  audit.NewStore,
		judgeLogFn:    judgelog.NewStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// MarketStack 聚合方向闸门及其底层数据服务。
type MarketStack struct {
	FearGreed *market.FearGreedService
	Breadth   *market.BreadthService
	Gate      *market.Gate
	Refresh   time.Duration
}

func buildMarketStack(cfg *sfcfg.Config) (*MarketStack, error) {
	source := binancesrc.New(binancesrc.Config{RESTBaseURL: cfg.Market.RESTBaseURL})
	refresh := time.Duration(cfg.Market.RefreshIntervalSeconds) * time.Second
	staleness := time.Duration(cfg.Market.StalenessSeconds) * time.Second

	fearGreed := market.NewFearGreedService(cfg.Market.SentimentEndpoint)
	breadth := market.NewBreadthService(source, cfg.Market.Basket, refresh)
	gate := market.NewGate(fearGreed, breadth, staleness)
	return &MarketStack{
		FearGreed: fearGreed,
		Breadth:   breadth,
		Gate:      gate,
		Refresh:   refresh,
	}, nil
}

func buildNotifier(cfg sfcfg.NotifyConfig) pipeline.Notifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	tg := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	return notifier.NewDispatchNotifier(tg)
}

// priceAdapter 把行情源的 float 价格转成派发引擎需要的 decimal。
type priceAdapter struct {
	source *binancesrc.Source
}

func (p priceAdapter) LatestPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	v, err := p.source.LatestPrice(ctx, instrument)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(v), nil
}

func (b *AppBuilder) buildAIJudge(judgeLog *judgelog.Store) (decision.Judge, error) {
	cfg := b.cfg
	if !cfg.AI.Enabled {
		logger.Infof("AI 判定未启用，仅使用确定性兜底")
		return nil, nil
	}
	providers, err := provider.BuildProviders(cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("building model providers failed: %w", err)
	}
	active := provider.FirstEnabled(providers)
	if active == nil {
		logger.Warnf("AI 已启用但没有可用模型，仅使用确定性兜底")
		return nil, nil
	}
	renderer, err := decision.LoadPromptRenderer(cfg.Prompt.Path)
	if err != nil {
		return nil, err
	}
	breaker := circuit.NewBreaker("ai-judge", cfg.AI.BreakerThreshold,
		time.Duration(cfg.AI.BreakerCooldownSecs)*time.Second)
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	return decision.NewAIJudge(active, renderer, breaker, judgeLog, timeout, cfg.AI.MaxJustificationChars), nil
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	stack, err := b.marketStackFn(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 行情栈就绪: basket=%v refresh=%s", cfg.Market.Basket, stack.Refresh)

	analyzer := history.NewAnalyzer(cfg.Signal.HistorySize, cfg.Signal.FlipLimit,
		time.Duration(cfg.Signal.FlipWindowSeconds)*time.Second)

	watcher, err := b.policyWatchFn(b.cfgPath, cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("starting policy watcher failed: %w", err)
	}

	var judgeLog *judgelog.Store
	if cfg.AI.Enabled && cfg.AI.JudgeLogPath != "" {
		judgeLog, err = b.judgeLogFn(cfg.AI.JudgeLogPath)
		if err != nil {
			return nil, fmt.Errorf("opening judge log failed: %w", err)
		}
	}

	aiJudgeFn := b.aiJudgeFn
	if aiJudgeFn == nil {
		aiJudgeFn = func(_ *sfcfg.Config, jl *judgelog.Store) (decision.Judge, error) {
			return b.buildAIJudge(jl)
		}
	}
	aiJudge, err := aiJudgeFn(cfg, judgeLog)
	if err != nil {
		return nil, err
	}

	fallback := decision.NewFallbackJudge(watcher.Current, cfg.Market.MinConfidence)
	coord := decision.NewCoordinator(aiJudge, fallback,
		time.Duration(cfg.Signal.ValiditySeconds)*time.Second)

	tradeClient, err := b.tradeClientFn(cfg.Trade)
	if err != nil {
		return nil, fmt.Errorf("building trade service client failed: %w", err)
	}
	prices := priceAdapter{source: binancesrc.New(binancesrc.Config{RESTBaseURL: cfg.Market.RESTBaseURL})}
	engine := dispatch.NewEngine(tradeClient, tradeClient, prices, cfg.Dispatch)

	auditStore, err := b.auditStoreFn(cfg.Audit.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit store failed: %w", err)
	}

	pipe := pipeline.New(stack.Gate, analyzer, coord, engine, auditStore,
		b.notifierFn(cfg.Notify),
		time.Duration(cfg.Dispatch.DecisionBudgetSeconds)*time.Second,
		time.Duration(cfg.Dispatch.DispatchBudgetSeconds)*time.Second)

	queue := NewSignalQueue(pipe)

	httpServer, err := b.httpServerFn(transporthttp.ServerConfig{
		Addr:  cfg.App.HTTPAddr,
		Sink:  queue,
		Gate:  stack.Gate,
		Audit: auditStore,
	})
	if err != nil {
		return nil, fmt.Errorf("building http server failed: %w", err)
	}

	return &App{
		cfg:        cfg,
		stack:      stack,
		queue:      queue,
		httpServer: httpServer,
		auditStore: auditStore,
		judgeLog:   judgeLog,
	}, nil
}
