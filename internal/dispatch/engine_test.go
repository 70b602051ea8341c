package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigflow/internal/config"
	"sigflow/internal/types"
)

// fakeAccounts 以内存表模拟账户协作方，便于精确控制每个守卫的输入。
type fakeAccounts struct {
	mu        sync.Mutex
	profiles  []UserTradingProfile
	balances  map[string]decimal.Decimal
	positions map[string]int
	lastTrade map[string]time.Time

	balanceCalls  []string
	positionCalls []string
	cooldownCalls []string
}

func newFakeAccounts(profiles ...UserTradingProfile) *fakeAccounts {
	return &fakeAccounts{
		profiles:  profiles,
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[string]int),
		lastTrade: make(map[string]time.Time),
	}
}

func (f *fakeAccounts) ActiveProfiles(ctx context.Context) ([]UserTradingProfile, error) {
	return f.profiles, nil
}

func (f *fakeAccounts) TradableBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls = append(f.balanceCalls, userID)
	return f.balances[userID], nil
}

func (f *fakeAccounts) OpenPositionCount(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionCalls = append(f.positionCalls, userID)
	return f.positions[userID], nil
}

func (f *fakeAccounts) LastTradeAt(ctx context.Context, userID, instrument string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cooldownCalls = append(f.cooldownCalls, userID)
	return f.lastTrade[userID], nil
}

type fakeOrders struct {
	mu       sync.Mutex
	requests []OrderRequest
	failFor  map[string]error
}

func (f *fakeOrders) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[req.UserID]; ok {
		return "", err
	}
	f.requests = append(f.requests, req)
	return fmt.Sprintf("ord-%s-%d", req.UserID, len(f.requests)), nil
}

type fakePrices struct{ price decimal.Decimal }

func (f fakePrices) LatestPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	return f.price, nil
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		WorkerLimit:           4,
		PositionCap:           2,
		CooldownSeconds:       7200,
		MinBalance:            map[string]float64{"KRW": 10000, "USDT": 10},
		DispatchBudgetSeconds: 45,
		DefaultOrderSizePct:   5,
		DefaultStopLossPct:    2,
		DefaultTakeProfitPct:  4,
		Exchanges: map[string]config.ExchangeLimits{
			"upbit":   {RatePerSecond: 100, Burst: 10},
			"binance": {RatePerSecond: 100, Burst: 10},
		},
	}
}

func krwUser(id string) UserTradingProfile {
	return UserTradingProfile{UserID: id, Exchange: "upbit", Currency: "KRW"}
}

func newTestEngine(accounts *fakeAccounts, orders OrderService, cfg config.DispatchConfig) *Engine {
	return NewEngine(accounts, orders, fakePrices{price: decimal.NewFromInt(100)}, cfg)
}

func TestEngine_GuardOrderAndReasons(t *testing.T) {
	sig := types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview")

	t.Run("balance floor short-circuits remaining guards", func(t *testing.T) {
		accounts := newFakeAccounts(krwUser("u1"))
		accounts.balances["u1"] = decimal.NewFromInt(9999)
		accounts.positions["u1"] = 5 // 也超限，但不该被查到
		orders := &fakeOrders{}
		engine := newTestEngine(accounts, orders, testDispatchConfig())

		summary, err := engine.Dispatch(context.Background(), sig)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)
		assert.Contains(t, summary.Results[0].Reason, "insufficient balance")
		assert.Empty(t, accounts.positionCalls)
		assert.Empty(t, accounts.cooldownCalls)
		assert.Empty(t, orders.requests)
	})

	t.Run("position cap checked before cooldown", func(t *testing.T) {
		accounts := newFakeAccounts(krwUser("u1"))
		accounts.balances["u1"] = decimal.NewFromInt(50000)
		accounts.positions["u1"] = 2
		orders := &fakeOrders{}
		engine := newTestEngine(accounts, orders, testDispatchConfig())

		summary, _ := engine.Dispatch(context.Background(), sig)
		assert.Contains(t, summary.Results[0].Reason, "position cap")
		assert.Empty(t, accounts.cooldownCalls)
	})

	t.Run("cooldown reason includes remaining time", func(t *testing.T) {
		accounts := newFakeAccounts(krwUser("u1"))
		accounts.balances["u1"] = decimal.NewFromInt(50000)
		accounts.lastTrade["u1"] = time.Now().Add(-30 * time.Minute) // 冷却 2h，剩约 90m
		orders := &fakeOrders{}
		engine := newTestEngine(accounts, orders, testDispatchConfig())

		summary, _ := engine.Dispatch(context.Background(), sig)
		assert.Equal(t, 1, summary.Failed)
		reason := summary.Results[0].Reason
		assert.Contains(t, reason, "cooldown")
		assert.Contains(t, reason, "remaining")
		assert.Contains(t, reason, "1h30m") // 四舍五入到秒
	})

	t.Run("expired cooldown passes", func(t *testing.T) {
		accounts := newFakeAccounts(krwUser("u1"))
		accounts.balances["u1"] = decimal.NewFromInt(50000)
		accounts.lastTrade["u1"] = time.Now().Add(-3 * time.Hour)
		orders := &fakeOrders{}
		engine := newTestEngine(accounts, orders, testDispatchConfig())

		summary, _ := engine.Dispatch(context.Background(), sig)
		assert.Equal(t, 1, summary.Succeeded)
	})
}

func TestEngine_ProtectiveLegsMandatory(t *testing.T) {
	sig := types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview")
	accounts := newFakeAccounts(krwUser("u1"))
	accounts.balances["u1"] = decimal.NewFromInt(50000)
	orders := &fakeOrders{}

	cfg := testDispatchConfig()
	cfg.DefaultStopLossPct = 0 // 用户与全局都未配置止损
	engine := newTestEngine(accounts, orders, cfg)

	summary, err := engine.Dispatch(context.Background(), sig)
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Reason, "stop-loss")
	// 协作方从未被调用
	assert.Empty(t, orders.requests)
}

func TestEngine_OrderCarriesBothLegs(t *testing.T) {
	sig := types.NewSignal("ETHUSDT", types.DirectionShort, "tradingview")
	accounts := newFakeAccounts(UserTradingProfile{
		UserID: "u1", Exchange: "binance", Currency: "USDT",
		StopLossPct: 2, TakeProfitPct: 4, Leverage: 3,
	})
	accounts.balances["u1"] = decimal.NewFromInt(500)
	orders := &fakeOrders{}
	engine := newTestEngine(accounts, orders, testDispatchConfig())

	summary, _ := engine.Dispatch(context.Background(), sig)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, orders.requests, 1)

	req := orders.requests[0]
	assert.Equal(t, "short", req.Side)
	// 做空：止损在上方，止盈在下方
	assert.True(t, req.StopLoss.Equal(decimal.NewFromInt(102)), "sl=%s", req.StopLoss)
	assert.True(t, req.TakeProfit.Equal(decimal.NewFromInt(96)), "tp=%s", req.TakeProfit)
	assert.Equal(t, sig.ID, req.SignalID)
}

func TestEngine_IneligibleUserDoesNotBlockOthers(t *testing.T) {
	sig := types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview")
	accounts := newFakeAccounts(krwUser("capped"), krwUser("ok"))
	accounts.balances["capped"] = decimal.NewFromInt(50000)
	accounts.balances["ok"] = decimal.NewFromInt(50000)
	accounts.positions["capped"] = 2
	orders := &fakeOrders{}
	engine := newTestEngine(accounts, orders, testDispatchConfig())

	summary, _ := engine.Dispatch(context.Background(), sig)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	for _, res := range summary.Results {
		if res.UserID == "capped" {
			assert.Contains(t, res.Reason, "position cap")
		} else {
			assert.True(t, res.Success)
		}
	}
	assert.Len(t, orders.requests, 1)
	assert.Equal(t, "ok", orders.requests[0].UserID)
}

func TestEngine_PerUserFailureIsolation(t *testing.T) {
	sig := types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview")
	accounts := newFakeAccounts(krwUser("u1"), krwUser("u2"), krwUser("u3"))
	for _, id := range []string{"u1", "u2", "u3"} {
		accounts.balances[id] = decimal.NewFromInt(50000)
	}
	orders := &fakeOrders{failFor: map[string]error{"u2": errors.New("exchange rejected")}}
	engine := newTestEngine(accounts, orders, testDispatchConfig())

	summary, _ := engine.Dispatch(context.Background(), sig)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	for _, res := range summary.Results {
		if res.UserID == "u2" {
			assert.Contains(t, res.Reason, "exchange rejected")
		} else {
			assert.True(t, res.Success)
			assert.NotEmpty(t, res.OrderRef)
		}
	}
}

func TestEngine_OrderIndependence(t *testing.T) {
	sig := types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview")
	mkProfiles := func() []UserTradingProfile {
		out := make([]UserTradingProfile, 6)
		for i := range out {
			out[i] = krwUser(fmt.Sprintf("u%d", i))
		}
		return out
	}

	run := func(profiles []UserTradingProfile) []string {
		accounts := newFakeAccounts(profiles...)
		for i := 0; i < 6; i++ {
			id := fmt.Sprintf("u%d", i)
			if i%2 == 0 {
				accounts.balances[id] = decimal.NewFromInt(50000)
			} else {
				accounts.balances[id] = decimal.NewFromInt(100)
			}
		}
		engine := newTestEngine(accounts, &fakeOrders{}, testDispatchConfig())
		summary, _ := engine.Dispatch(context.Background(), sig)
		var winners []string
		for _, res := range summary.Results {
			if res.Success {
				winners = append(winners, res.UserID)
			}
		}
		sort.Strings(winners)
		return winners
	}

	base := run(mkProfiles())
	for i := 0; i < 5; i++ {
		shuffled := mkProfiles()
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, base, run(shuffled))
	}
}

func TestEngine_BudgetExhaustionSkipsRemaining(t *testing.T) {
	sig := types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview")
	accounts := newFakeAccounts(krwUser("u1"), krwUser("u2"))
	accounts.balances["u1"] = decimal.NewFromInt(50000)
	accounts.balances["u2"] = decimal.NewFromInt(50000)
	engine := newTestEngine(accounts, &fakeOrders{}, testDispatchConfig())

	// 首次取时算出 deadline，之后时钟跳到预算之外：任务尚未启动即被跳过
	start := time.Now()
	calls := 0
	engine.now = func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(time.Hour)
	}

	summary, err := engine.Dispatch(context.Background(), sig)
	assert.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	for _, res := range summary.Results {
		assert.Contains(t, res.Reason, "budget exhausted")
	}
}

// 余额下限检查读的是协作方实时状态：前一笔成交扣减余额后，
// 下一条信号的检查立即失效。并发信号间的竞态由协作方最终兜底，
// 引擎侧不缓存余额。
func TestEngine_BalanceFloorReadsLiveState(t *testing.T) {
	accounts := newFakeAccounts(krwUser("u1"))
	accounts.balances["u1"] = decimal.NewFromInt(12000)

	// 下单成功即扣减余额，模拟协作方的真实账本
	orders := &spendingOrders{accounts: accounts, cost: decimal.NewFromInt(5000)}
	engine := newTestEngine(accounts, orders, testDispatchConfig())

	first, _ := engine.Dispatch(context.Background(), types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview"))
	assert.Equal(t, 1, first.Succeeded)

	// 余额降到 7000 < 10000：第二条信号被下限挡住
	second, _ := engine.Dispatch(context.Background(), types.NewSignal("ETHUSDT", types.DirectionLong, "tradingview"))
	assert.Equal(t, 1, second.Failed)
	assert.Contains(t, second.Results[0].Reason, "insufficient balance")
	assert.Len(t, orders.created, 1)
}

type spendingOrders struct {
	mu       sync.Mutex
	accounts *fakeAccounts
	cost     decimal.Decimal
	created  []OrderRequest
}

func (s *spendingOrders) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, req)
	s.accounts.mu.Lock()
	s.accounts.balances[req.UserID] = s.accounts.balances[req.UserID].Sub(s.cost)
	s.accounts.mu.Unlock()
	return fmt.Sprintf("ord-%d", len(s.created)), nil
}

// 配置省略百分比键时，走默认值的订单保护腿仍按整数百分点计算。
func TestEngine_DefaultProtectiveLegUnits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
market:
  basket: [BTCUSDT]
trade_service:
  api_url: http://127.0.0.1:9810
`), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	accounts := newFakeAccounts(krwUser("u1"))
	accounts.balances["u1"] = decimal.NewFromInt(50000)
	orders := &fakeOrders{}
	engine := NewEngine(accounts, orders, fakePrices{price: decimal.NewFromInt(100)}, cfg.Dispatch)

	sig := types.NewSignal("BTCUSDT", types.DirectionLong, "tradingview")
	summary, _ := engine.Dispatch(context.Background(), sig)
	assert.Equal(t, 1, summary.Succeeded)

	require.Len(t, orders.requests, 1)
	req := orders.requests[0]
	// 默认止损 2%、止盈 4%：价格 100 时 SL=98、TP=104
	assert.True(t, req.StopLoss.Equal(decimal.NewFromInt(98)), "sl=%s", req.StopLoss)
	assert.True(t, req.TakeProfit.Equal(decimal.NewFromInt(104)), "tp=%s", req.TakeProfit)
	assert.InDelta(t, 5, req.SizePct, 1e-9)
}
