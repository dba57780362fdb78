package storage

import (
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/bytedance/sonic"

	"trade_supervisor/internal/models"
)

const (
	candlesTable = "market_candles"
	signalsTable = "signals"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func upsertCandlesQuery(key models.SeriesKey, candles []models.Candle) (string, []any, error) {
	q := psql.Insert(candlesTable).
		Columns("exchange", "symbol", "interval", "ts", "open", "high", "low", "close", "volume", "quote_volume")
	for _, c := range candles {
		q = q.Values(key.Exchange, key.Symbol, key.Interval, c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.QuoteVolume)
	}
	return q.Suffix("ON CONFLICT (symbol, ts, interval, exchange) DO UPDATE SET " +
		"open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close, " +
		"volume = EXCLUDED.volume, quote_volume = EXCLUDED.quote_volume").
		ToSql()
}

func selectCandlesQuery(key models.SeriesKey, limit uint64) (string, []any, error) {
	return psql.Select("ts", "open", "high", "low", "close", "volume", "quote_volume").
		From(candlesTable).
		Where(sq.Eq{"exchange": key.Exchange, "symbol": key.Symbol, "interval": key.Interval}).
		OrderBy("ts DESC").
		Limit(limit).
		ToSql()
}

func signalExistsQuery(symbol, fingerprint string, since time.Time) (string, []any, error) {
	return psql.Select("1").
		From(signalsTable).
		Where(sq.Eq{"symbol": symbol}).
		Where("metadata->>'fingerprint' = ?", fingerprint).
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		Limit(1).
		ToSql()
}

func insertSignalQuery(sig models.Signal) (string, []any, error) {
	meta, err := sonic.Marshal(sig.Metadata)
	if err != nil {
		return "", nil, err
	}
	return psql.Insert(signalsTable).
		Columns("id", "trader_id", "symbol", "timeframe", "signal_type", "strategy",
			"price", "stop_loss", "take_profit", "reason", "metadata", "created_at").
		Values(sig.ID, sig.TraderID, sig.Symbol, sig.Timeframe, string(sig.Type), sig.Strategy,
			sig.Price, sig.StopLoss, sig.TakeProfit, sig.Reason, meta, sig.CreatedAt.UTC()).
		ToSql()
}

func purgeSignalsQuery(before time.Time) (string, []any, error) {
	return psql.Delete(signalsTable).
		Where(sq.Lt{"created_at": before.UTC()}).
		ToSql()
}
