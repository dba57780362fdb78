package postgres

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/dedup"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
	"trade_supervisor/internal/modules/config"
	"trade_supervisor/internal/storage"
	"trade_supervisor/pkg/db"
)

// Store is everything the supervisor persists: closed candles and accepted signals.
type Store interface {
	marketdata.CandleStore
	dedup.SignalStore
	RecentCandles(ctx context.Context, key models.SeriesKey, limit int) ([]models.Candle, error)
}

// Module даёт Postgres-хранилище, а без db_dsn хранилище в памяти.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			newStore,
			func(s Store) marketdata.CandleStore { return s },
			func(s Store) dedup.SignalStore { return s },
		),
	)
}

func newStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (Store, error) {
	if cfg.DB == "" {
		log.Warn("db_dsn is empty, signals and candles are kept in memory")
		return storage.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB, MaxConns: cfg.DBPool})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create poolMaster")
	}
	tm := db.NewPgTxManager(poolMaster)
	if err := tm.Ping(ctx); err != nil {
		tm.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	lc.Append(fx.StopHook(tm.Close))

	log.Info("postgres storage connected")
	return storage.NewPgStore(tm), nil
}
