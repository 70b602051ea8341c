package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"sigflow/internal/decision"
	"sigflow/internal/dispatch"
	"sigflow/internal/history"
	"sigflow/internal/logger"
	"sigflow/internal/market"
	"sigflow/internal/types"
)

// Recorder 是末端审计落点，每条信号无论结局都要经过它。
type Recorder interface {
	Record(ctx context.Context, sig types.Signal, snap market.Snapshot,
		dec decision.Decision, summary *dispatch.Summary) error
}

// Notifier 推送批准执行后的结果摘要，可为 nil。
type Notifier interface {
	NotifyDispatch(sig types.Signal, dec decision.Decision, summary dispatch.Summary)
}

// Pipeline 驱动一条信号从进入到落账的完整流程。
// 每条信号一次 Run；流程内部失败都收敛为记录，不向上抛。
type Pipeline struct {
	gate     *market.Gate
	analyzer *history.Analyzer
	coord    *decision.Coordinator
	engine   *dispatch.Engine
	recorder Recorder
	notifier Notifier

	decisionBudget time.Duration
	dispatchBudget time.Duration
	now            func() time.Time
}

func New(gate *market.Gate, analyzer *history.Analyzer, coord *decision.Coordinator,
	engine *dispatch.Engine, recorder Recorder, notifier Notifier,
	decisionBudget, dispatchBudget time.Duration) *Pipeline {
	if decisionBudget <= 0 {
		decisionBudget = 5 * time.Second
	}
	if dispatchBudget <= 0 {
		dispatchBudget = 45 * time.Second
	}
	return &Pipeline{
		gate:           gate,
		analyzer:       analyzer,
		coord:          coord,
		engine:         engine,
		recorder:       recorder,
		notifier:       notifier,
		decisionBudget: decisionBudget,
		dispatchBudget: dispatchBudget,
		now:            time.Now,
	}
}

// Result 单次流水线运行的产出，主要供测试与状态接口消费。
type Result struct {
	Decision decision.Decision
	Summary  *dispatch.Summary
}

// Run 处理一条信号。闸门与历史读取并发进行，决策串行，派发扇出。
func (p *Pipeline) Run(ctx context.Context, sig types.Signal) Result {
	var (
		snap market.Snapshot
		rec  history.Recommendation
	)

	// 两路读取互相独立。历史分析有写入副作用：
	// 即便信号最终被拒绝，窗口也要记下这条信号。
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap = p.gate.Current()
		return nil
	})
	g.Go(func() error {
		rec = p.analyzer.Analyze(sig.Instrument, sig.Direction, p.now())
		return nil
	})
	_ = g.Wait()

	decCtx, cancel := context.WithTimeout(ctx, p.decisionBudget)
	dec := p.coord.Decide(decCtx, sig, snap, rec)
	cancel()

	var summary *dispatch.Summary
	if dec.ShouldExecute {
		dispCtx, cancel := context.WithTimeout(ctx, p.dispatchBudget)
		s, err := p.engine.Dispatch(dispCtx, sig)
		cancel()
		if err != nil {
			logger.Errorf("信号 %s 派发失败: %v", sig.ID, err)
		}
		summary = &s
		logger.Infof("信号 %s 派发完成: 成功 %d / 失败 %d / 跳过 %d",
			sig.ID, s.Succeeded, s.Failed, s.Skipped)
		if p.notifier != nil {
			p.notifier.NotifyDispatch(sig, dec, s)
		}
	} else {
		logger.Infof("信号 %s 拒绝执行 (%s): %s", sig.ID, dec.Source, dec.Reason)
	}

	// 审计尽力而为：落库失败只记日志，不回滚交易结果。
	if p.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.recorder.Record(recCtx, sig, snap, dec, summary); err != nil {
			logger.Errorf("信号 %s 审计落库失败: %v", sig.ID, err)
		}
		cancel()
	}
	return Result{Decision: dec, Summary: summary}
}
