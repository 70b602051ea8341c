package judgelog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "judge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_InsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Insert(ctx, Record{
		Timestamp:  1000,
		SignalID:   "sig-1",
		Instrument: "BTCUSDT",
		ProviderID: "judge-primary",
		System:     "system prompt",
		User:       "user prompt",
		RawOutput:  "APPROVE momentum aligns with sentiment",
		Approve:    true,
		LatencyMs:  420,
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = store.Insert(ctx, Record{
		Timestamp:  2000,
		SignalID:   "sig-2",
		Instrument: "BTCUSDT",
		ProviderID: "judge-primary",
		RawOutput:  "the market could go either way",
		Ambiguous:  true,
	})
	require.NoError(t, err)

	list, err := store.List(ctx, Query{Instrument: "BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	// 时间倒序
	assert.Equal(t, "sig-2", list[0].SignalID)
	assert.True(t, list[0].Ambiguous)
	assert.False(t, list[0].Approve)
	assert.Equal(t, "sig-1", list[1].SignalID)
	assert.True(t, list[1].Approve)
	assert.Equal(t, int64(420), list[1].LatencyMs)
}

func TestStore_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, sig := range []string{"a", "a", "b"} {
		_, err := store.Insert(ctx, Record{
			Timestamp:  int64(i + 1),
			SignalID:   sig,
			Instrument: "ETHUSDT",
			ProviderID: "judge-primary",
		})
		require.NoError(t, err)
	}

	bySignal, err := store.List(ctx, Query{SignalID: "a"})
	require.NoError(t, err)
	assert.Len(t, bySignal, 2)

	limited, err := store.List(ctx, Query{Instrument: "ETHUSDT", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(2), limited[0].Timestamp)

	none, err := store.List(ctx, Query{ProviderID: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ClosedStoreErrors(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())

	_, err := store.Insert(context.Background(), Record{SignalID: "x", Instrument: "BTCUSDT"})
	assert.Error(t, err)
	_, err = store.List(context.Background(), Query{})
	assert.Error(t, err)
}

func TestNewStore_EmptyPath(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}
