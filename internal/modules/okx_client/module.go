package okx_client

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/modules/okx_client/service"
)

func Module() fx.Option {
	return fx.Module("okx_client",
		fx.Invoke(register),
	)
}

func register(reg *exchange.Registry, cfg service.Config, log *zap.Logger) {
	reg.Register(service.ExchangeName, func(context.Context) (exchange.Client, error) {
		return service.NewClient(cfg, log), nil
	})
}
