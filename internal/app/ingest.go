package app

import (
	"context"

	"sigflow/internal/logger"
	"sigflow/internal/pipeline"
	"sigflow/internal/types"
)

const signalQueueDepth = 64

// SignalQueue 把 webhook 入口与流水线解耦：
// 入口只负责入队并立刻响应，处理在独立 goroutine 串行进行。
// 队列满时拒绝新信号，宁可丢弃也不让入口阻塞。
type SignalQueue struct {
	ch       chan types.Signal
	pipeline *pipeline.Pipeline
}

func NewSignalQueue(p *pipeline.Pipeline) *SignalQueue {
	return &SignalQueue{
		ch:       make(chan types.Signal, signalQueueDepth),
		pipeline: p,
	}
}

// Submit 实现 transporthttp.SignalSink。
func (q *SignalQueue) Submit(sig types.Signal) bool {
	if q == nil {
		return false
	}
	select {
	case q.ch <- sig:
		return true
	default:
		return false
	}
}

// Run 消费队列直到 ctx 取消。每条信号一次完整流水线运行。
func (q *SignalQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-q.ch:
			if err := sig.Validate(); err != nil {
				logger.Warnf("丢弃非法信号: %v", err)
				continue
			}
			logger.Infof("处理信号 %s: %s %s (source=%s)", sig.ID, sig.Instrument, sig.Direction, sig.Source)
			q.pipeline.Run(ctx, sig)
		}
	}
}
