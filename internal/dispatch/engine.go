package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"sigflow/internal/config"
	"sigflow/internal/logger"
	"sigflow/internal/types"
)

// Engine 将已批准的信号扇出到所有合格用户账户。
// 扇出受 worker 上限约束，每个交易所各自限速；
// 预算耗尽后不再启动新任务，在途任务允许跑完。
type Engine struct {
	accounts AccountService
	orders   OrderService
	prices   PriceSource
	guards   *eligibilityGuards
	limiters *limiterRegistry
	cfg      config.DispatchConfig
	now      func() time.Time
}

func NewEngine(accounts AccountService, orders OrderService, prices PriceSource, cfg config.DispatchConfig) *Engine {
	return &Engine{
		accounts: accounts,
		orders:   orders,
		prices:   prices,
		guards:   newEligibilityGuards(accounts, cfg),
		limiters: newLimiterRegistry(cfg),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Dispatch 仅在决策批准后调用。每个候选用户一条结果，永不丢失。
func (e *Engine) Dispatch(ctx context.Context, sig types.Signal) (Summary, error) {
	summary := Summary{
		SignalID:   sig.ID,
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
	}

	profiles, err := e.accounts.ActiveProfiles(ctx)
	if err != nil {
		return summary, fmt.Errorf("resolving active accounts failed: %w", err)
	}
	summary.Total = len(profiles)
	if len(profiles) == 0 {
		return summary, nil
	}

	budget := time.Duration(e.cfg.DispatchBudgetSeconds) * time.Second
	if budget <= 0 {
		budget = 45 * time.Second
	}
	deadline := e.now().Add(budget)

	workerLimit := int64(e.cfg.WorkerLimit)
	if workerLimit <= 0 {
		workerLimit = 4
	}
	sem := semaphore.NewWeighted(workerLimit)

	// 每个任务写自己的槽位，join 后合并，无共享写。
	results := make([]DispatchResult, len(profiles))
	started := make([]bool, len(profiles))

	var wg sync.WaitGroup
	for i, user := range profiles {
		// 预算耗尽：剩余用户记为 skipped，不再抢信号量。
		if e.now().After(deadline) {
			logger.Warnf("信号 %s 派发预算耗尽，剩余 %d 个账户未启动", sig.ID, len(profiles)-i)
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		started[i] = true
		wg.Add(1)
		go func(idx int, user UserTradingProfile) {
			defer wg.Done()
			defer sem.Release(1)
			results[idx] = e.dispatchOne(ctx, sig, user)
		}(i, user)
	}
	wg.Wait()

	for i := range profiles {
		if !started[i] {
			summary.Skipped++
			summary.Results = append(summary.Results, DispatchResult{
				SignalID:   sig.ID,
				UserID:     profiles[i].UserID,
				Exchange:   profiles[i].Exchange,
				Success:    false,
				Reason:     "dispatch budget exhausted",
				FinishedAt: e.now(),
			})
			continue
		}
		res := results[i]
		if res.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}

func (e *Engine) dispatchOne(ctx context.Context, sig types.Signal, user UserTradingProfile) DispatchResult {
	res := DispatchResult{
		SignalID: sig.ID,
		UserID:   user.UserID,
		Exchange: user.Exchange,
	}
	defer func() { res.FinishedAt = e.now() }()

	if err := e.guards.check(ctx, user, sig.Instrument); err != nil {
		var ge *guardError
		if errors.As(err, &ge) {
			res.Reason = ge.reason
		} else {
			res.Reason = "eligibility check failed: " + err.Error()
		}
		return res
	}

	req, err := e.buildOrder(ctx, sig, user)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	// 保护腿是硬性要求，缺失的请求绝不发给协作方。
	if req.StopLoss.IsZero() || req.TakeProfit.IsZero() {
		res.Reason = "order rejected locally: missing stop-loss or take-profit"
		return res
	}

	if err := e.limiters.forExchange(user.Exchange).Wait(ctx); err != nil {
		res.Reason = "rate limiter wait aborted: " + err.Error()
		return res
	}

	ref, err := e.orders.CreateOrder(ctx, req)
	if err != nil {
		res.Reason = "order creation failed: " + err.Error()
		return res
	}
	res.Success = true
	res.OrderRef = ref
	logger.Infof("信号 %s 用户 %s 下单成功 order=%s", sig.ID, user.UserID, ref)
	return res
}

// buildOrder 按用户偏好构造带保护腿的下单请求。
// 用户未配置百分比时回退全局默认。
func (e *Engine) buildOrder(ctx context.Context, sig types.Signal, user UserTradingProfile) (OrderRequest, error) {
	price, err := e.prices.LatestPrice(ctx, sig.Instrument)
	if err != nil {
		return OrderRequest{}, fmt.Errorf("fetching latest price failed: %w", err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return OrderRequest{}, fmt.Errorf("invalid latest price for %s: %s", sig.Instrument, price.String())
	}

	sizePct := user.OrderSizePct
	if sizePct <= 0 {
		sizePct = e.cfg.DefaultOrderSizePct
	}
	slPct := user.StopLossPct
	if slPct <= 0 {
		slPct = e.cfg.DefaultStopLossPct
	}
	tpPct := user.TakeProfitPct
	if tpPct <= 0 {
		tpPct = e.cfg.DefaultTakeProfitPct
	}

	side := sig.Direction.Side()
	sl := protectivePrice(price, slPct, side, false)
	tp := protectivePrice(price, tpPct, side, true)

	return OrderRequest{
		UserID:     user.UserID,
		Exchange:   user.Exchange,
		Instrument: sig.Instrument,
		Side:       side,
		SizePct:    sizePct,
		Leverage:   user.Leverage,
		StopLoss:   sl,
		TakeProfit: tp,
		SignalID:   sig.ID,
	}, nil
}

// protectivePrice 由最新价与百分比推出 SL/TP 价位。
// profit=true 表示止盈方向（做多在上方、做空在下方）。
func protectivePrice(price decimal.Decimal, pct float64, side string, profit bool) decimal.Decimal {
	if pct <= 0 {
		return decimal.Zero
	}
	offset := price.Mul(decimal.NewFromFloat(pct / 100))
	up := (side == "long") == profit
	if up {
		return price.Add(offset)
	}
	return price.Sub(offset)
}
