package strategy

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/strategy"
)

func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(newRegistry),
	)
}

func newRegistry(log *zap.Logger) *strategy.Registry {
	r := strategy.NewDefaultRegistry()
	log.Info("strategies registered", zap.Strings("names", r.Names()))
	return r
}
