package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sigflow/internal/config"
)

// guardError 承载资格检查失败的可展示原因。
type guardError struct{ reason string }

func (e *guardError) Error() string { return e.reason }

// eligibilityGuards 按固定顺序执行资格检查，首个失败即短路。
// 顺序即诊断语义：余额 → 持仓上限 → 冷却，不能调换。
type eligibilityGuards struct {
	accounts AccountService
	cfg      config.DispatchConfig
	now      func() time.Time
}

func newEligibilityGuards(accounts AccountService, cfg config.DispatchConfig) *eligibilityGuards {
	return &eligibilityGuards{accounts: accounts, cfg: cfg, now: time.Now}
}

// check 返回 nil 表示用户可参与本次派发；
// 返回 *guardError 表示资格不符，其他错误表示协作方查询失败。
func (g *eligibilityGuards) check(ctx context.Context, user UserTradingProfile, instrument string) error {
	if err := g.checkBalance(ctx, user); err != nil {
		return err
	}
	if err := g.checkPositionCap(ctx, user); err != nil {
		return err
	}
	return g.checkCooldown(ctx, user, instrument)
}

func (g *eligibilityGuards) checkBalance(ctx context.Context, user UserTradingProfile) error {
	balance, err := g.accounts.TradableBalance(ctx, user.UserID, user.Currency)
	if err != nil {
		return fmt.Errorf("querying balance for %s failed: %w", user.UserID, err)
	}
	floor := decimal.NewFromFloat(g.cfg.MinBalance[user.Currency])
	if balance.LessThan(floor) {
		return &guardError{reason: fmt.Sprintf("insufficient balance: %s %s < %s",
			balance.String(), user.Currency, floor.String())}
	}
	return nil
}

func (g *eligibilityGuards) checkPositionCap(ctx context.Context, user UserTradingProfile) error {
	open, err := g.accounts.OpenPositionCount(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("querying open positions for %s failed: %w", user.UserID, err)
	}
	if open >= g.cfg.PositionCap {
		return &guardError{reason: fmt.Sprintf("open position cap reached: %d/%d", open, g.cfg.PositionCap)}
	}
	return nil
}

func (g *eligibilityGuards) checkCooldown(ctx context.Context, user UserTradingProfile, instrument string) error {
	last, err := g.accounts.LastTradeAt(ctx, user.UserID, instrument)
	if err != nil {
		return fmt.Errorf("querying trade history for %s failed: %w", user.UserID, err)
	}
	if last.IsZero() {
		return nil
	}
	cooldown := time.Duration(g.cfg.CooldownSeconds) * time.Second
	elapsed := g.now().Sub(last)
	if elapsed < cooldown {
		remaining := (cooldown - elapsed).Round(time.Second)
		return &guardError{reason: fmt.Sprintf("instrument cooldown: %s remaining", remaining)}
	}
	return nil
}
