package market

import (
	"context"
	"strings"
	"sync"
	"time"

	"sigflow/internal/logger"

	talib "github.com/markcheno/go-talib"
)

// Trend 参考篮子的整体走向。
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)

const (
	breadthSMAPeriod    = 20
	breadthKlineLimit   = 60
	breadthBullishBar   = 0.6
	breadthBearishBar   = 0.4
	breadthErrorBackoff = time.Minute
)

// BasketSource 提供宽度计算所需的篮子行情。
type BasketSource interface {
	// ChangePct24h returns the 24h percent change for symbol (e.g. 1.5 = +1.5%).
	ChangePct24h(ctx context.Context, symbol string) (float64, error)
	// Closes returns up to limit recent close prices for symbol, oldest first.
	Closes(ctx context.Context, symbol, interval string, limit int) ([]float64, error)
}

type BreadthData struct {
	Trend      Trend
	Ratio      float64 // 篮子中走强标的占比 [0,1]
	SampleSize int
	LastUpdate time.Time
	Error      string
}

// BreadthService 维护参考篮子的宽度快照。
// 单个标的走强判定 = 24h 涨幅为正 且 收盘价站上 SMA20。
type BreadthService struct {
	source   BasketSource
	basket   []string
	interval string

	mu         sync.RWMutex
	data       BreadthData
	nextUpdate time.Time
	refreshMu  sync.Mutex
	ttl        time.Duration
}

func NewBreadthService(source BasketSource, basket []string, refreshEvery time.Duration) *BreadthService {
	cleaned := make([]string, 0, len(basket))
	for _, sym := range basket {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			cleaned = append(cleaned, sym)
		}
	}
	if refreshEvery <= 0 {
		refreshEvery = 5 * time.Minute
	}
	return &BreadthService{
		source:   source,
		basket:   cleaned,
		interval: "1h",
		ttl:      refreshEvery,
	}
}

func (s *BreadthService) Get() (BreadthData, bool) {
	if s == nil {
		return BreadthData{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok := !s.data.LastUpdate.IsZero() && s.data.Error == ""
	return s.data, ok
}

func (s *BreadthService) RefreshIfStale(ctx context.Context) {
	if s == nil || s.source == nil || len(s.basket) == 0 {
		return
	}
	now := time.Now()
	s.mu.RLock()
	next := s.nextUpdate
	s.mu.RUnlock()
	if !next.IsZero() && now.Before(next) {
		return
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.mu.RLock()
	next = s.nextUpdate
	s.mu.RUnlock()
	if !next.IsZero() && now.Before(next) {
		return
	}
	s.refresh(ctx)
}

func (s *BreadthService) refresh(ctx context.Context) {
	bullish := 0
	sampled := 0
	for _, sym := range s.basket {
		up, ok := s.symbolBullish(ctx, sym)
		if !ok {
			continue
		}
		sampled++
		if up {
			bullish++
		}
	}
	now := time.Now()
	if sampled == 0 {
		s.mu.Lock()
		s.data = BreadthData{LastUpdate: now, Error: "no basket symbols sampled"}
		s.nextUpdate = now.Add(breadthErrorBackoff)
		s.mu.Unlock()
		logger.Warnf("宽度刷新失败：篮子 %d 个标的全部不可用", len(s.basket))
		return
	}

	ratio := float64(bullish) / float64(sampled)
	trend := TrendSideways
	switch {
	case ratio >= breadthBullishBar:
		trend = TrendBullish
	case ratio <= breadthBearishBar:
		trend = TrendBearish
	}
	s.mu.Lock()
	s.data = BreadthData{
		Trend:      trend,
		Ratio:      ratio,
		SampleSize: sampled,
		LastUpdate: now,
	}
	s.nextUpdate = now.Add(s.ttl)
	s.mu.Unlock()
	logger.Debugf("breadth refreshed: trend=%s ratio=%.2f sampled=%d", trend, ratio, sampled)
}

func (s *BreadthService) symbolBullish(ctx context.Context, symbol string) (up bool, ok bool) {
	change, err := s.source.ChangePct24h(ctx, symbol)
	if err != nil {
		logger.Debugf("breadth: %s 24h change unavailable: %v", symbol, err)
		return false, false
	}
	closes, err := s.source.Closes(ctx, symbol, s.interval, breadthKlineLimit)
	if err != nil || len(closes) <= breadthSMAPeriod {
		// 退化为仅用 24h 涨跌
		return change > 0, true
	}
	sma := talib.Sma(closes, breadthSMAPeriod)
	last := closes[len(closes)-1]
	aboveSMA := last > sma[len(sma)-1]
	return change > 0 && aboveSMA, true
}
