package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_supervisor/internal/models"
)

func TestMemoryStoreCandlesUpsert(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.UpsertCandles(ctx, key, []models.Candle{{Timestamp: ts.Add(time.Minute), Close: 2}, {Timestamp: ts, Close: 1}}))
	require.NoError(t, m.UpsertCandles(ctx, key, []models.Candle{{Timestamp: ts, Close: 10}}))

	got, err := m.RecentCandles(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[0].Close)
	assert.Equal(t, 2.0, got[1].Close)

	got, err = m.RecentCandles(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got[0].Close)
}

func TestMemoryStoreSignals(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.InsertSignal(ctx, models.Signal{
		Symbol:    "BTC-USDT",
		CreatedAt: at,
		Metadata:  map[string]any{models.MetaFingerprint: "fp"},
	}))

	ok, err := m.ExistsSince(ctx, "BTC-USDT", "fp", at.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.ExistsSince(ctx, "BTC-USDT", "fp", at.Add(time.Second))
	assert.False(t, ok)
	ok, _ = m.ExistsSince(ctx, "ETH-USDT", "fp", at.Add(-time.Minute))
	assert.False(t, ok)

	n, err := m.PurgeSignals(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, m.Signals())
}
