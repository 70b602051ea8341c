package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDirection(t *testing.T) {
	cases := map[string]Direction{
		"LONG":         DirectionLong,
		"buy":          DirectionLong,
		" Short ":      DirectionShort,
		"SELL":         DirectionShort,
		"long_strong":  DirectionLongStrong,
		"STRONG_BUY":   DirectionLongStrong,
		"short_strong": DirectionShortStrong,
		"strong_sell":  DirectionShortStrong,
	}
	for raw, want := range cases {
		got, err := ParseDirection(raw)
		assert.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestDirection_SideAndStrength(t *testing.T) {
	assert.Equal(t, "long", DirectionLong.Side())
	assert.Equal(t, "long", DirectionLongStrong.Side())
	assert.Equal(t, "short", DirectionShortStrong.Side())
	assert.True(t, DirectionLongStrong.Strong())
	assert.False(t, DirectionShort.Strong())
	assert.False(t, Direction("").Valid())
}

func TestSignal_Expiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sig := NewSignal("btcusdt", DirectionLong, "tradingview")
	assert.Equal(t, "BTCUSDT", sig.Instrument)
	assert.NotEmpty(t, sig.ID)

	sig.ReceivedAt = now.Add(-29 * time.Second)
	assert.False(t, sig.Expired(now, 30*time.Second))

	sig.ReceivedAt = now.Add(-31 * time.Second)
	assert.True(t, sig.Expired(now, 30*time.Second))
	assert.Equal(t, 31*time.Second, sig.Age(now))

	sig.ReceivedAt = time.Time{}
	assert.True(t, sig.Expired(now, 30*time.Second))
}

func TestSignal_Validate(t *testing.T) {
	sig := NewSignal("BTCUSDT", DirectionLong, "tradingview")
	assert.NoError(t, sig.Validate())

	bad := sig
	bad.Instrument = " "
	assert.Error(t, bad.Validate())

	bad = sig
	bad.Direction = "DIAGONAL"
	assert.Error(t, bad.Validate())
}
