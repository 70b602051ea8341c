package market

import (
	"context"
	"math"
	"strings"
	"time"
)

// AllowedDirection 市场方向闸门的输出。
// ONLY 是硬约束，任何下游（包括 AI）不得越过；PREFERRED 仅是软偏好。
type AllowedDirection string

const (
	LongOnly       AllowedDirection = "LONG_ONLY"
	ShortOnly      AllowedDirection = "SHORT_ONLY"
	LongPreferred  AllowedDirection = "LONG_PREFERRED"
	ShortPreferred AllowedDirection = "SHORT_PREFERRED"
	Both           AllowedDirection = "BOTH"
)

// Permits reports whether a trade side ("long"/"short") passes the hard gate.
// Preferred variants never block.
func (a AllowedDirection) Permits(side string) bool {
	switch a {
	case LongOnly:
		return side == "long"
	case ShortOnly:
		return side == "short"
	default:
		return true
	}
}

// Aligned reports whether the side matches the gate's lean,
// treating PREFERRED as a soft match. Used by the fallback scorer.
func (a AllowedDirection) Aligned(side string) bool {
	switch a {
	case LongOnly, LongPreferred:
		return side == "long"
	case ShortOnly, ShortPreferred:
		return side == "short"
	case Both:
		return true
	default:
		return false
	}
}

// Snapshot 某一时刻的市场方向快照，核心只读不改。
type Snapshot struct {
	SentimentValue int
	SentimentClass string
	BreadthTrend   Trend
	BreadthRatio   float64
	Allowed        AllowedDirection
	Confidence     float64
	CapturedAt     time.Time
	Stale          bool
}

// Gate 从缓存的情绪/宽度数据推导允许交易方向。
// 数据过期时返回中性默认值而不是报错：闸门是建议性的，可用性优先。
type Gate struct {
	fearGreed *FearGreedService
	breadth   *BreadthService
	staleness time.Duration
	clock     func() time.Time
}

func NewGate(fearGreed *FearGreedService, breadth *BreadthService, staleness time.Duration) *Gate {
	if staleness <= 0 {
		staleness = 15 * time.Minute
	}
	return &Gate{
		fearGreed: fearGreed,
		breadth:   breadth,
		staleness: staleness,
		clock:     time.Now,
	}
}

// Refresh 触发底层数据的按需刷新（由调度器周期调用）。
func (g *Gate) Refresh(ctx context.Context) {
	if g == nil {
		return
	}
	if g.fearGreed != nil {
		g.fearGreed.RefreshIfStale(ctx)
	}
	if g.breadth != nil {
		g.breadth.RefreshIfStale(ctx)
	}
}

// Current 返回当前方向快照。无副作用。
func (g *Gate) Current() Snapshot {
	now := g.now()
	snap := Snapshot{
		SentimentValue: 50,
		SentimentClass: "Neutral",
		BreadthTrend:   TrendSideways,
		Allowed:        Both,
		Confidence:     0.2,
		CapturedAt:     now,
		Stale:          true,
	}
	if g == nil {
		return snap
	}

	fgFresh := false
	if g.fearGreed != nil {
		if fg, ok := g.fearGreed.Get(); ok && now.Sub(fg.LastUpdate) <= g.staleness {
			snap.SentimentValue = fg.Value
			snap.SentimentClass = fg.Classification
			if strings.TrimSpace(snap.SentimentClass) == "" {
				snap.SentimentClass = classifySentiment(fg.Value)
			}
			fgFresh = true
		}
	}
	brFresh := false
	if g.breadth != nil {
		if br, ok := g.breadth.Get(); ok && now.Sub(br.LastUpdate) <= g.staleness {
			snap.BreadthTrend = br.Trend
			snap.BreadthRatio = br.Ratio
			brFresh = true
		}
	}

	snap.Stale = !fgFresh && !brFresh
	snap.Allowed = deriveAllowed(snap.SentimentValue, snap.BreadthTrend)
	snap.Confidence = deriveConfidence(snap.SentimentValue, snap.BreadthTrend, fgFresh, brFresh)
	if snap.Stale {
		// 无新鲜数据：退回中性，信心减半
		snap.Allowed = Both
		snap.Confidence = snap.Confidence / 2
	}
	return snap
}

func (g *Gate) now() time.Time {
	if g != nil && g.clock != nil {
		return g.clock()
	}
	return time.Now()
}

func deriveAllowed(sentiment int, trend Trend) AllowedDirection {
	switch {
	case sentiment >= 65 && trend == TrendBullish:
		return LongOnly
	case sentiment <= 35 && trend == TrendBearish:
		return ShortOnly
	case sentiment >= 55 || trend == TrendBullish:
		return LongPreferred
	case sentiment <= 45 || trend == TrendBearish:
		return ShortPreferred
	default:
		return Both
	}
}

// deriveConfidence: 情绪偏离中位越远、宽度越明确，信心越高。
func deriveConfidence(sentiment int, trend Trend, fgFresh, brFresh bool) float64 {
	conf := 0.4
	conf += math.Abs(float64(sentiment)-50) / 50 * 0.4
	if trend != TrendSideways {
		conf += 0.2
	}
	if !fgFresh {
		conf -= 0.2
	}
	if !brFresh {
		conf -= 0.2
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func classifySentiment(value int) string {
	switch {
	case value >= 75:
		return "Extreme Greed"
	case value >= 55:
		return "Greed"
	case value >= 45:
		return "Neutral"
	case value >= 25:
		return "Fear"
	default:
		return "Extreme Fear"
	}
}
