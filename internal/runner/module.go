package runner

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/dedup"
	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
	"trade_supervisor/internal/runner/factory"
	"trade_supervisor/internal/strategy"
)

type managerParams struct {
	fx.In

	Cfg      Config
	Traders  []models.TraderConfig
	Builder  Builder
	Market   Market
	Gate     SignalGate
	Events   *EventBus
	Log      *zap.Logger
	Registry prometheus.Registerer
}

func newManager(p managerParams) *Manager {
	return New(p.Cfg, p.Builder, p.Market, p.Gate, p.Events, p.Log,
		WithTraders(p.Traders),
		WithRegisterer(p.Registry),
	)
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewEventBus,
			func(ex *exchange.Registry, st *strategy.Registry, cfg Config, log *zap.Logger) *factory.Factory {
				return factory.New(ex, st, cfg.withDefaults().ErrorHistory, log)
			},
			func(f *factory.Factory) Builder { return f },
			func(c *marketdata.Cache) Market { return c },
			dedup.New,
			func(d *dedup.Deduplicator) SignalGate { return d },
			newManager,
		),
		fx.Invoke(func(lc fx.Lifecycle, m *Manager, d *dedup.Deduplicator) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(startCtx context.Context) error {
					go d.Run(ctx)
					return m.Start(startCtx)
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					return m.Shutdown(stopCtx)
				},
			})
		}),
	)
}
