package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sigflow/internal/types"
)

func TestAnalyzer_FlipDetection(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("steady direction accepts", func(t *testing.T) {
		a := NewAnalyzer(10, 3, 5*time.Minute)
		for i := 0; i < 5; i++ {
			rec := a.Analyze("BTCUSDT", types.DirectionLong, base.Add(time.Duration(i)*30*time.Second))
			assert.Equal(t, RecommendAccept, rec)
		}
	})

	t.Run("exactly flip limit gives caution", func(t *testing.T) {
		a := NewAnalyzer(10, 3, 5*time.Minute)
		dirs := []types.Direction{
			types.DirectionLong, types.DirectionShort,
			types.DirectionLong, types.DirectionShort,
		}
		var rec Recommendation
		for i, d := range dirs {
			rec = a.Analyze("BTCUSDT", d, base.Add(time.Duration(i)*20*time.Second))
		}
		// 4 条交替信号 = 3 次翻转
		assert.Equal(t, RecommendCaution, rec)
		assert.Equal(t, 3, flipsAt(a, base.Add(80*time.Second)))
	})

	t.Run("beyond flip limit rejects", func(t *testing.T) {
		a := NewAnalyzer(10, 3, 5*time.Minute)
		dirs := []types.Direction{
			types.DirectionLong, types.DirectionShort,
			types.DirectionLong, types.DirectionShort, types.DirectionLong,
		}
		var rec Recommendation
		for i, d := range dirs {
			rec = a.Analyze("BTCUSDT", d, base.Add(time.Duration(i)*20*time.Second))
		}
		assert.Equal(t, RecommendReject, rec)
	})

	t.Run("strong variants count on the same side", func(t *testing.T) {
		a := NewAnalyzer(10, 3, 5*time.Minute)
		a.Analyze("BTCUSDT", types.DirectionLong, base)
		rec := a.Analyze("BTCUSDT", types.DirectionLongStrong, base.Add(20*time.Second))
		assert.Equal(t, RecommendAccept, rec)
	})
}

func flipsAt(a *Analyzer, now time.Time) int {
	a.clock = func() time.Time { return now }
	return a.Flips("BTCUSDT")
}

func TestAnalyzer_WindowBounds(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("old flips fall out of the window", func(t *testing.T) {
		a := NewAnalyzer(10, 3, 5*time.Minute)
		// 三次翻转，但全部发生在窗口之外
		a.Analyze("ETHUSDT", types.DirectionLong, base)
		a.Analyze("ETHUSDT", types.DirectionShort, base.Add(10*time.Second))
		a.Analyze("ETHUSDT", types.DirectionLong, base.Add(20*time.Second))
		a.Analyze("ETHUSDT", types.DirectionShort, base.Add(30*time.Second))

		rec := a.Analyze("ETHUSDT", types.DirectionShort, base.Add(10*time.Minute))
		assert.Equal(t, RecommendAccept, rec)
	})

	t.Run("entry count capped", func(t *testing.T) {
		a := NewAnalyzer(4, 3, 5*time.Minute)
		for i := 0; i < 20; i++ {
			a.Analyze("ETHUSDT", types.DirectionLong, base.Add(time.Duration(i)*time.Second))
		}
		w := a.window("ETHUSDT")
		assert.LessOrEqual(t, len(w.entries), 4)
	})

	t.Run("history recorded even for rejected signals", func(t *testing.T) {
		a := NewAnalyzer(10, 1, 5*time.Minute)
		a.Analyze("ETHUSDT", types.DirectionLong, base)
		rec := a.Analyze("ETHUSDT", types.DirectionShort, base.Add(10*time.Second))
		assert.Equal(t, RecommendCaution, rec)
		// 第二条信号已入窗：再翻一次就超限
		rec = a.Analyze("ETHUSDT", types.DirectionLong, base.Add(20*time.Second))
		assert.Equal(t, RecommendReject, rec)
	})
}

func TestAnalyzer_PerInstrumentIsolation(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := NewAnalyzer(10, 3, 5*time.Minute)

	// BTC 方向来回翻转
	dirs := []types.Direction{
		types.DirectionLong, types.DirectionShort,
		types.DirectionLong, types.DirectionShort, types.DirectionLong,
	}
	for i, d := range dirs {
		a.Analyze("BTCUSDT", d, base.Add(time.Duration(i)*15*time.Second))
	}
	// ETH 一直做多，不受 BTC 影响
	rec := a.Analyze("ETHUSDT", types.DirectionLong, base.Add(time.Minute))
	assert.Equal(t, RecommendAccept, rec)
}

func TestAnalyzer_ConcurrentInstruments(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := NewAnalyzer(10, 3, 5*time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			instrument := fmt.Sprintf("SYM%dUSDT", g)
			for i := 0; i < 50; i++ {
				a.Analyze(instrument, types.DirectionLong, base.Add(time.Duration(i)*time.Second))
			}
		}(g)
	}
	wg.Wait()

	for g := 0; g < 8; g++ {
		w := a.window(fmt.Sprintf("SYM%dUSDT", g))
		assert.NotEmpty(t, w.entries)
	}
}
