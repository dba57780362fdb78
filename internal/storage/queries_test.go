package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_supervisor/internal/models"
)

var key = models.SeriesKey{Exchange: "okx", Symbol: "BTC-USDT-SWAP", Interval: "15m"}

func TestUpsertCandlesQuery(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args, err := upsertCandlesQuery(key, []models.Candle{
		{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: ts.Add(15 * time.Minute), Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 7},
	})
	require.NoError(t, err)

	assert.Contains(t, query, "INSERT INTO market_candles (exchange,symbol,interval,ts,open,high,low,close,volume,quote_volume)")
	assert.Contains(t, query, "($11,$12,$13,$14,$15,$16,$17,$18,$19,$20)")
	assert.Contains(t, query, "ON CONFLICT (symbol, ts, interval, exchange) DO UPDATE SET")
	assert.Len(t, args, 20)
	assert.Equal(t, "okx", args[0])
	assert.Equal(t, ts, args[3])
}

func TestSignalExistsQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	query, args, err := signalExistsQuery("BTC-USDT", "abc", since)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT 1 FROM signals WHERE symbol = $1 AND metadata->>'fingerprint' = $2 AND created_at >= $3 LIMIT 1",
		query)
	assert.Equal(t, []any{"BTC-USDT", "abc", since}, args)
}

func TestInsertSignalQueryEncodesMetadata(t *testing.T) {
	sig := models.Signal{
		ID:        "id-1",
		TraderID:  "t1",
		Symbol:    "BTC-USDT",
		Type:      models.SideBuy,
		Strategy:  "ema_cross",
		CreatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{models.MetaFingerprint: "abc"},
	}
	query, args, err := insertSignalQuery(sig)
	require.NoError(t, err)

	assert.Contains(t, query, "INSERT INTO signals (id,trader_id,symbol,timeframe,signal_type,strategy,price,stop_loss,take_profit,reason,metadata,created_at)")
	require.Len(t, args, 12)
	assert.Equal(t, "BUY", args[4])
	assert.JSONEq(t, `{"fingerprint":"abc"}`, string(args[10].([]byte)))
}

func TestPurgeSignalsQuery(t *testing.T) {
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args, err := purgeSignalsQuery(before)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM signals WHERE created_at < $1", query)
	assert.Equal(t, []any{before}, args)
}

func TestSelectCandlesQuery(t *testing.T) {
	query, args, err := selectCandlesQuery(key, 96)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT ts, open, high, low, close, volume, quote_volume FROM market_candles WHERE exchange = $1 AND interval = $2 AND symbol = $3 ORDER BY ts DESC LIMIT 96",
		query)
	assert.Equal(t, []any{"okx", "15m", "BTC-USDT-SWAP"}, args)
}
