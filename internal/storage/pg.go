package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trade_supervisor/internal/models"
	"trade_supervisor/pkg/db"
)

// candleChunk keeps a single INSERT well under postgres' 65535 bind parameters.
const candleChunk = 500

// PgStore keeps candles and signals in postgres.
type PgStore struct {
	db db.TxManager
}

func NewPgStore(tm db.TxManager) *PgStore {
	return &PgStore{db: tm}
}

func (s *PgStore) UpsertCandles(ctx context.Context, key models.SeriesKey, candles []models.Candle) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.UpsertCandles: %w", err)
		}
	}()
	if len(candles) == 0 {
		return nil
	}

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		for from := 0; from < len(candles); from += candleChunk {
			to := min(from+candleChunk, len(candles))
			query, args, err := upsertCandlesQuery(key, candles[from:to])
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctxTx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentCandles returns up to limit stored candles, oldest first.
func (s *PgStore) RecentCandles(ctx context.Context, key models.SeriesKey, limit int) (out []models.Candle, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.RecentCandles: %w", err)
		}
	}()

	query, args, err := selectCandlesQuery(key, uint64(limit))
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DESC -> ASC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PgStore) ExistsSince(ctx context.Context, symbol, fingerprint string, since time.Time) (ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.ExistsSince: %w", err)
		}
	}()

	query, args, err := signalExistsQuery(symbol, fingerprint, since)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.Conn().QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PgStore) InsertSignal(ctx context.Context, sig models.Signal) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.InsertSignal: %w", err)
		}
	}()

	query, args, err := insertSignalQuery(sig)
	if err != nil {
		return err
	}
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, query, args...)
		return err
	})
}

func (s *PgStore) PurgeSignals(ctx context.Context, before time.Time) (n int64, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("PgStore.PurgeSignals: %w", err)
		}
	}()

	query, args, err := purgeSignalsQuery(before)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Conn().Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
