package bootstrap

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
	bootstrap "trade_supervisor/internal/modules/bootstrap/service"
	"trade_supervisor/internal/modules/postgres"
)

const warmupTimeout = 2 * time.Minute

// Module preloads candle history for configured traders in the background at startup.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			func(cache *marketdata.Cache, reg *exchange.Registry, store postgres.Store, log *zap.Logger) *bootstrap.Warmuper {
				return bootstrap.NewWarmuper(cache, reg, store, log)
			},
		),
		fx.Invoke(run),
	)
}

func run(lc fx.Lifecycle, wu *bootstrap.Warmuper, traders []models.TraderConfig, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				n, err := wu.Warmup(ctx, traders)
				if err != nil {
					log.Warn("warmup finished with errors", zap.Int("series", n), zap.Error(err))
					return
				}
				log.Info("warmup done", zap.Int("series", n))
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
