package decision

import (
	"context"
	"errors"
	"time"

	"sigflow/internal/history"
	"sigflow/internal/market"
	"sigflow/internal/types"
)

// ErrAmbiguous 模型输出无法解析为明确的二元判定。
// 任何不合规输出都按歧义处理并走确定性兜底，绝不猜测。
var ErrAmbiguous = errors.New("ambiguous model verdict")

// Verdict 判定器的产出。
type Verdict struct {
	Approve       bool
	Justification string
	Confidence    float64
}

// Judge 将决策上下文转为批准/拒绝判定。
// AI 判定器与确定性兜底是同一接口的两个实现，测试中可互换。
type Judge interface {
	ID() string
	Judge(ctx context.Context, jc JudgeContext) (Verdict, error)
}

// JudgeContext 单次决策的完整要素快照。
// 每个信号构造一次，贯穿判定、兜底与审计，避免各处临时拼字段。
type JudgeContext struct {
	SignalID       string                  `json:"signal_id"`
	Instrument     string                  `json:"instrument"`
	Direction      types.Direction         `json:"direction"`
	Side           string                  `json:"side"`
	Strong         bool                    `json:"strong"`
	SignalSource   string                  `json:"signal_source"`
	SignalAgeMs    int64                   `json:"signal_age_ms"`
	SentimentValue int                     `json:"sentiment_value"`
	SentimentClass string                  `json:"sentiment_class"`
	BreadthTrend   market.Trend            `json:"breadth_trend"`
	Allowed        market.AllowedDirection `json:"allowed_direction"`
	GateConfidence float64                 `json:"gate_confidence"`
	GateStale      bool                    `json:"gate_stale"`
	HistoryRec     history.Recommendation  `json:"history_recommendation"`
}

// NewJudgeContext 汇总信号、市场快照与历史建议。
func NewJudgeContext(sig types.Signal, snap market.Snapshot, rec history.Recommendation, now time.Time) JudgeContext {
	return JudgeContext{
		SignalID:       sig.ID,
		Instrument:     sig.Instrument,
		Direction:      sig.Direction,
		Side:           sig.Direction.Side(),
		Strong:         sig.Direction.Strong(),
		SignalSource:   sig.Source,
		SignalAgeMs:    sig.Age(now).Milliseconds(),
		SentimentValue: snap.SentimentValue,
		SentimentClass: snap.SentimentClass,
		BreadthTrend:   snap.BreadthTrend,
		Allowed:        snap.Allowed,
		GateConfidence: snap.Confidence,
		GateStale:      snap.Stale,
		HistoryRec:     rec,
	}
}

// 决策来源标记，写入审计记录。
const (
	SourceExpired  = "expired"
	SourceGate     = "gate"
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// 固定拒绝理由（测试与审计依赖其精确措辞）。
const (
	ReasonExpired          = "expired"
	ReasonDirectionBlocked = "direction blocked by market gate"
)

// Decision 单个信号的最终判定，连同产生它的要素快照。
// 仅由输入推导；审计方不必回查线上状态即可复盘。
type Decision struct {
	ShouldExecute bool         `json:"should_execute"`
	Reason        string       `json:"reason"`
	Confidence    float64      `json:"confidence"`
	Source        string       `json:"source"`
	Factors       JudgeContext `json:"factors"`
	DecidedAt     time.Time    `json:"decided_at"`
}
