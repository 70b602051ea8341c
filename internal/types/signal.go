package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction 信号方向。STRONG 变体代表来源标记的高信度信号，
// 会在兜底决策时降低放行门槛。
type Direction string

const (
	DirectionLong        Direction = "LONG"
	DirectionShort       Direction = "SHORT"
	DirectionLongStrong  Direction = "LONG_STRONG"
	DirectionShortStrong Direction = "SHORT_STRONG"
)

// Side returns "long" or "short" regardless of strength.
func (d Direction) Side() string {
	switch d {
	case DirectionLong, DirectionLongStrong:
		return "long"
	case DirectionShort, DirectionShortStrong:
		return "short"
	default:
		return ""
	}
}

// Strong reports whether the direction is a strength variant.
func (d Direction) Strong() bool {
	return d == DirectionLongStrong || d == DirectionShortStrong
}

func (d Direction) Valid() bool {
	return d.Side() != ""
}

// ParseDirection 归一化来源标签（buy/sell 等别名也接受）。
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG", "BUY":
		return DirectionLong, nil
	case "SHORT", "SELL":
		return DirectionShort, nil
	case "LONG_STRONG", "STRONG_BUY":
		return DirectionLongStrong, nil
	case "SHORT_STRONG", "STRONG_SELL":
		return DirectionShortStrong, nil
	default:
		return "", fmt.Errorf("unknown signal direction: %q", raw)
	}
}

// Signal 一条外部告警信号。创建后不可变，下游只引用不修改。
type Signal struct {
	ID         string
	Instrument string
	Direction  Direction
	Source     string
	ReceivedAt time.Time
	RawPayload string
}

// NewSignal assigns an ID and stamps ReceivedAt if the caller left it zero.
func NewSignal(instrument string, direction Direction, source string) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Instrument: strings.ToUpper(strings.TrimSpace(instrument)),
		Direction:  direction,
		Source:     strings.TrimSpace(source),
		ReceivedAt: time.Now(),
	}
}

// Expired reports whether the signal is outside its validity window at now.
// 过期信号绝不允许进入派发阶段。
func (s Signal) Expired(now time.Time, window time.Duration) bool {
	if s.ReceivedAt.IsZero() {
		return true
	}
	return now.Sub(s.ReceivedAt) > window
}

// Age is a convenience for log/audit output.
func (s Signal) Age(now time.Time) time.Duration {
	if s.ReceivedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ReceivedAt)
}

func (s Signal) Validate() error {
	if strings.TrimSpace(s.Instrument) == "" {
		return fmt.Errorf("signal missing instrument")
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("signal direction invalid: %q", s.Direction)
	}
	if s.ReceivedAt.IsZero() {
		return fmt.Errorf("signal missing received_at")
	}
	return nil
}
