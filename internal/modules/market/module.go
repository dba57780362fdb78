package market

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/ratelimit"
)

// Module wires the shared rate limiter, the exchange registry and the candle cache
// with its background syncer.
func Module() fx.Option {
	return fx.Module("market",
		fx.Provide(
			func(cfg ratelimit.Config, tracer opentracing.Tracer, log *zap.Logger) *ratelimit.Access {
				return ratelimit.New(cfg, log, ratelimit.WithTracer(tracer))
			},
			exchange.NewRegistry,
			marketdata.NewCache,
			func(c *marketdata.Cache, reg *exchange.Registry, store marketdata.CandleStore, log *zap.Logger) *marketdata.Syncer {
				return marketdata.NewSyncer(c, reg, store, log)
			},
		),
		fx.Invoke(run),
	)
}

func run(lc fx.Lifecycle, access *ratelimit.Access, syncer *marketdata.Syncer, reg *exchange.Registry, log *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer func() { done <- struct{}{} }()
				access.Run(ctx)
			}()
			go func() {
				defer func() { done <- struct{}{} }()
				syncer.Run(ctx)
			}()
			log.Info("market data started", zap.Strings("exchanges", reg.Names()))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			for range 2 {
				select {
				case <-done:
				case <-stopCtx.Done():
					return stopCtx.Err()
				}
			}
			return reg.Close()
		},
	})
}
