package decision

import (
	"context"
	"fmt"
	"time"

	"sigflow/internal/gateway/provider"
	"sigflow/internal/judgelog"
	"sigflow/internal/logger"
	"sigflow/internal/pkg/circuit"
)

// AIJudge 通过外部模型审核信号。
// 模型只能批准或否决，不能修改交易内容。
// 超时、熔断、歧义输出都返回错误，由协调器转入兜底。
type AIJudge struct {
	provider provider.ModelProvider
	renderer *PromptRenderer
	breaker  *circuit.Breaker
	callLog  *judgelog.Store // 可为 nil，落盘失败不阻断决策

	timeout          time.Duration
	maxJustification int
}

func NewAIJudge(p provider.ModelProvider, renderer *PromptRenderer, breaker *circuit.Breaker,
	callLog *judgelog.Store, timeout time.Duration, maxJustification int) *AIJudge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AIJudge{
		provider:         p,
		renderer:         renderer,
		breaker:          breaker,
		callLog:          callLog,
		timeout:          timeout,
		maxJustification: maxJustification,
	}
}

func (j *AIJudge) ID() string {
	if j == nil || j.provider == nil {
		return "ai"
	}
	return j.provider.ID()
}

// Judge 渲染提示词并调用模型，解析首 token 判定。
// 熔断器打开时直接拒答，不消耗模型配额。
func (j *AIJudge) Judge(ctx context.Context, jc JudgeContext) (Verdict, error) {
	if j == nil || j.provider == nil || !j.provider.Enabled() {
		return Verdict{}, fmt.Errorf("ai judge 未启用")
	}
	if j.breaker != nil && !j.breaker.Allow() {
		return Verdict{}, fmt.Errorf("ai judge 熔断中")
	}

	system, user, err := j.renderer.Render(jc)
	if err != nil {
		return Verdict{}, fmt.Errorf("render judge prompt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	raw, callErr := j.provider.Call(callCtx, system, user)
	latency := time.Since(start)

	verdict, parseErr := ParseVerdict(raw, j.maxJustification)
	j.record(jc, system, user, raw, verdict, callErr, parseErr, latency)

	if callErr != nil {
		j.fail()
		return Verdict{}, fmt.Errorf("model call failed: %w", callErr)
	}
	if parseErr != nil {
		// 不合规输出与调用失败同权重计入熔断：持续输出垃圾的模型应被隔离。
		j.fail()
		return Verdict{}, parseErr
	}
	if j.breaker != nil {
		j.breaker.RecordSuccess()
	}
	return verdict, nil
}

func (j *AIJudge) fail() {
	if j.breaker != nil {
		j.breaker.RecordFailure()
	}
}

func (j *AIJudge) record(jc JudgeContext, system, user, raw string, verdict Verdict,
	callErr, parseErr error, latency time.Duration) {
	if j.callLog == nil {
		return
	}
	rec := judgelog.Record{
		Timestamp:  time.Now().UnixMilli(),
		SignalID:   jc.SignalID,
		Instrument: jc.Instrument,
		ProviderID: j.ID(),
		System:     system,
		User:       user,
		RawOutput:  raw,
		Approve:    verdict.Approve,
		Ambiguous:  parseErr != nil,
		LatencyMs:  latency.Milliseconds(),
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	} else if parseErr != nil {
		rec.Error = parseErr.Error()
	}
	logCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := j.callLog.Insert(logCtx, rec); err != nil {
		logger.Warnf("judge call log 写入失败: %v", err)
	}
}
