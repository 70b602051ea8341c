package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowedDirection_Permits(t *testing.T) {
	cases := []struct {
		allowed AllowedDirection
		side    string
		want    bool
	}{
		{LongOnly, "long", true},
		{LongOnly, "short", false},
		{ShortOnly, "short", true},
		{ShortOnly, "long", false},
		{LongPreferred, "short", true}, // 软偏好不拦截
		{ShortPreferred, "long", true},
		{Both, "long", true},
		{Both, "short", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.allowed.Permits(tc.side), "%s/%s", tc.allowed, tc.side)
	}
}

func TestAllowedDirection_Aligned(t *testing.T) {
	assert.True(t, LongPreferred.Aligned("long"))
	assert.False(t, LongPreferred.Aligned("short"))
	assert.True(t, ShortPreferred.Aligned("short"))
	assert.True(t, Both.Aligned("long"))
	assert.True(t, Both.Aligned("short"))
	assert.True(t, LongOnly.Aligned("long"))
	assert.False(t, ShortOnly.Aligned("long"))
}

func TestDeriveAllowed(t *testing.T) {
	cases := []struct {
		name      string
		sentiment int
		trend     Trend
		want      AllowedDirection
	}{
		{"greed with breadth confirms long only", 70, TrendBullish, LongOnly},
		{"fear with breadth confirms short only", 25, TrendBearish, ShortOnly},
		{"greed alone leans long", 60, TrendSideways, LongPreferred},
		{"bullish breadth alone leans long", 50, TrendBullish, LongPreferred},
		{"fear alone leans short", 40, TrendSideways, ShortPreferred},
		{"bearish breadth alone leans short", 50, TrendBearish, ShortPreferred},
		{"neutral everything allows both", 50, TrendSideways, Both},
		{"greed but bearish breadth stays soft", 70, TrendBearish, LongPreferred},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, deriveAllowed(tc.sentiment, tc.trend))
		})
	}
}

func TestDeriveConfidence(t *testing.T) {
	t.Run("extreme sentiment with trend is most confident", func(t *testing.T) {
		high := deriveConfidence(90, TrendBullish, true, true)
		mid := deriveConfidence(55, TrendSideways, true, true)
		assert.Greater(t, high, mid)
		assert.LessOrEqual(t, high, 1.0)
	})

	t.Run("stale sources cut confidence", func(t *testing.T) {
		fresh := deriveConfidence(70, TrendBullish, true, true)
		oneStale := deriveConfidence(70, TrendBullish, false, true)
		bothStale := deriveConfidence(70, TrendBullish, false, false)
		assert.Greater(t, fresh, oneStale)
		assert.Greater(t, oneStale, bothStale)
		assert.GreaterOrEqual(t, bothStale, 0.0)
	})
}

func TestGate_StaleSnapshotNeutralizes(t *testing.T) {
	fearGreed := NewFearGreedService("http://example.invalid/fng")
	breadth := NewBreadthService(nil, nil, time.Minute)
	gate := NewGate(fearGreed, breadth, 15*time.Minute)

	// 两路数据都没有：快照必须退回中性且自降置信度
	snap := gate.Current()
	assert.True(t, snap.Stale)
	assert.Equal(t, Both, snap.Allowed)
	assert.Equal(t, 50, snap.SentimentValue)
	assert.Equal(t, TrendSideways, snap.BreadthTrend)
	assert.Less(t, snap.Confidence, 0.4)
}
