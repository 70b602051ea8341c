package decision

import (
	"context"
	"fmt"

	"sigflow/internal/config"
	"sigflow/internal/history"
	"sigflow/internal/market"
)

const favorableTotal = 4

// FallbackJudge 是确定性的规则兜底：AI 不可用或输出歧义时接管。
// 同样的输入永远给出同样的结论，便于复盘。
type FallbackJudge struct {
	policy        func() config.PolicyConfig
	minConfidence float64
}

// NewFallbackJudge 构造兜底判定器。
// policy 每次判定时取当前值，配合热更新生效无需重启。
func NewFallbackJudge(policy func() config.PolicyConfig, minConfidence float64) *FallbackJudge {
	return &FallbackJudge{policy: policy, minConfidence: minConfidence}
}

func (f *FallbackJudge) ID() string { return "fallback" }

// Judge 统计四项有利条件：
//  1. 信号方向与市场闸门的倾向一致
//  2. 篮子走势同向或横盘
//  3. 闸门置信度高于下限
//  4. 历史形态未给出 REJECT（CAUTION 仍算有利）
//
// 达到 MinFavorable 批准；STRONG 信号降档到 StrongMinFavorable。
func (f *FallbackJudge) Judge(_ context.Context, jc JudgeContext) (Verdict, error) {
	favorable := f.countFavorable(jc)
	pol := f.policy()

	approve := favorable >= pol.MinFavorable
	if !approve && jc.Strong && favorable >= pol.StrongMinFavorable {
		approve = true
	}

	reason := fmt.Sprintf("fallback: favorable %d/%d", favorable, favorableTotal)
	if approve && jc.Strong && favorable < pol.MinFavorable {
		reason += " (strong signal threshold)"
	}
	return Verdict{
		Approve:       approve,
		Justification: reason,
		Confidence:    float64(favorable) / favorableTotal,
	}, nil
}

func (f *FallbackJudge) countFavorable(jc JudgeContext) int {
	n := 0
	if jc.Allowed.Aligned(jc.Side) {
		n++
	}
	if trendAligned(jc) {
		n++
	}
	if jc.GateConfidence > f.minConfidence {
		n++
	}
	if jc.HistoryRec != history.RecommendReject {
		n++
	}
	return n
}

func trendAligned(jc JudgeContext) bool {
	switch jc.BreadthTrend {
	case market.TrendBullish:
		return jc.Side == "long"
	case market.TrendBearish:
		return jc.Side == "short"
	default:
		return true // 横盘不构成反向证据
	}
}
