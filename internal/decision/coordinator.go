package decision

import (
	"context"
	"errors"
	"time"

	"sigflow/internal/history"
	"sigflow/internal/logger"
	"sigflow/internal/market"
	"sigflow/internal/types"
)

// Coordinator 汇集信号、市场快照与历史建议，产出最终执行判定。
// 判定链：有效期 → 方向硬闸门 → AI 判定 → 确定性兜底。
// AI 只能在闸门放行的前提下批准或否决，无法推翻闸门。
type Coordinator struct {
	ai       Judge // 可为 nil（AI 未配置）
	fallback Judge

	validity time.Duration
	now      func() time.Time
}

func NewCoordinator(ai, fallback Judge, validity time.Duration) *Coordinator {
	if validity <= 0 {
		validity = 30 * time.Second
	}
	return &Coordinator{
		ai:       ai,
		fallback: fallback,
		validity: validity,
		now:      time.Now,
	}
}

// Decide 对单个信号做出终判。返回的 Decision 总是带完整要素快照。
func (c *Coordinator) Decide(ctx context.Context, sig types.Signal, snap market.Snapshot, rec history.Recommendation) Decision {
	now := c.now()
	jc := NewJudgeContext(sig, snap, rec, now)

	// 过期信号直接拒绝，不消耗 AI 配额。
	if sig.Expired(now, c.validity) {
		return c.finish(jc, now, Decision{
			ShouldExecute: false,
			Reason:        ReasonExpired,
			Source:        SourceExpired,
		})
	}

	// 硬闸门：LONG_ONLY/SHORT_ONLY 下的反向信号终止于此。
	if !snap.Allowed.Permits(jc.Side) {
		return c.finish(jc, now, Decision{
			ShouldExecute: false,
			Reason:        ReasonDirectionBlocked,
			Source:        SourceGate,
		})
	}

	if c.ai != nil {
		verdict, err := c.ai.Judge(ctx, jc)
		if err == nil {
			return c.finish(jc, now, Decision{
				ShouldExecute: verdict.Approve,
				Reason:        verdict.Justification,
				Confidence:    verdict.Confidence,
				Source:        SourceAI,
			})
		}
		if errors.Is(err, ErrAmbiguous) {
			logger.Warnf("信号 %s AI 输出歧义，转入兜底", sig.ID)
		} else {
			logger.Warnf("信号 %s AI 判定不可用: %v，转入兜底", sig.ID, err)
		}
	}

	verdict, err := c.fallback.Judge(ctx, jc)
	if err != nil {
		// 兜底不依赖外部资源，理论上不会失败；保守起见按拒绝处理。
		logger.Errorf("信号 %s 兜底判定异常: %v", sig.ID, err)
		return c.finish(jc, now, Decision{
			ShouldExecute: false,
			Reason:        "fallback error: " + err.Error(),
			Source:        SourceFallback,
		})
	}
	return c.finish(jc, now, Decision{
		ShouldExecute: verdict.Approve,
		Reason:        verdict.Justification,
		Confidence:    verdict.Confidence,
		Source:        SourceFallback,
	})
}

func (c *Coordinator) finish(jc JudgeContext, now time.Time, d Decision) Decision {
	d.Factors = jc
	d.DecidedAt = now
	return d
}
