package notifier

import (
	"fmt"
	"strings"

	"sigflow/internal/decision"
	"sigflow/internal/dispatch"
	"sigflow/internal/logger"
	"sigflow/internal/types"
)

// DispatchNotifier 把派发结果整理成一条消息发出去。
// 发送异步且尽力而为，失败只记日志。
type DispatchNotifier struct {
	sender TextNotifier
}

func NewDispatchNotifier(sender TextNotifier) *DispatchNotifier {
	return &DispatchNotifier{sender: sender}
}

func (n *DispatchNotifier) NotifyDispatch(sig types.Signal, dec decision.Decision, summary dispatch.Summary) {
	if n == nil || n.sender == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s %s* (source=%s)\n", sig.Instrument, sig.Direction, sig.Source)
	fmt.Fprintf(&b, "决策: %s (conf %.2f, via %s)\n", dec.Reason, dec.Confidence, dec.Source)
	fmt.Fprintf(&b, "派发: 成功 %d / 失败 %d / 跳过 %d (共 %d)",
		summary.Succeeded, summary.Failed, summary.Skipped, summary.Total)
	go func(text string) {
		if err := n.sender.SendText(text); err != nil {
			logger.Warnf("通知发送失败: %v", err)
		}
	}(b.String())
}
