package dispatch

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sigflow/internal/types"
)

// UserTradingProfile 描述一个参与派发的用户账户。
type UserTradingProfile struct {
	UserID        string
	Exchange      string // 如 upbit、binance
	Currency      string // 计价币种，如 KRW、USDT
	OrderSizePct  float64
	StopLossPct   float64
	TakeProfitPct float64
	Leverage      int
}

// AccountService 是账户协作方：候选集、余额、持仓与交易历史。
type AccountService interface {
	// ActiveProfiles 返回活跃且有可交易余额的账户。
	ActiveProfiles(ctx context.Context) ([]UserTradingProfile, error)
	// TradableBalance 返回用户计价币种的可用余额。
	TradableBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error)
	// OpenPositionCount 返回用户当前未平仓位数。
	OpenPositionCount(ctx context.Context, userID string) (int, error)
	// LastTradeAt 返回用户上次交易该品种的时间；从未交易过返回零值。
	LastTradeAt(ctx context.Context, userID, instrument string) (time.Time, error)
}

// OrderRequest 是提交给订单协作方的完整下单请求。
// StopLoss 与 TakeProfit 缺一不可，发送前由引擎强制校验。
type OrderRequest struct {
	UserID     string
	Exchange   string
	Instrument string
	Side       string // long/short
	SizePct    float64
	Leverage   int
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	SignalID   string
}

// OrderService 是订单管理协作方。
type OrderService interface {
	CreateOrder(ctx context.Context, req OrderRequest) (orderRef string, err error)
}

// PriceSource 提供计算保护腿所需的最新价。
type PriceSource interface {
	LatestPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// DispatchResult 单个 (信号, 用户) 的派发结果，创建后不再修改。
type DispatchResult struct {
	SignalID   string    `json:"signal_id"`
	UserID     string    `json:"user_id"`
	Exchange   string    `json:"exchange"`
	Success    bool      `json:"success"`
	OrderRef   string    `json:"order_ref,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Summary 按信号聚合的派发统计。
type Summary struct {
	SignalID   string           `json:"signal_id"`
	Instrument string           `json:"instrument"`
	Direction  types.Direction  `json:"direction"`
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"` // 预算耗尽未启动的任务
	Results    []DispatchResult `json:"results"`
}
