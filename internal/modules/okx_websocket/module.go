package okx_websocket

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
	health "trade_supervisor/internal/modules/health/service"
	"trade_supervisor/internal/modules/okx_websocket/service"
)

func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(func(cfg service.Config, cache *marketdata.Cache, state *health.State, log *zap.Logger) *service.Stream {
			return service.NewStream(cfg, cache, state, log)
		}),
		fx.Invoke(run),
	)
}

func run(lc fx.Lifecycle, cfg service.Config, s *service.Stream, traders []models.TraderConfig, log *zap.Logger) {
	if !cfg.Enabled {
		log.Info("okx websocket disabled")
		return
	}
	keys := service.Keys(traders)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.Run(ctx, keys)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
