package main

import (
	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	binance "trade_supervisor/internal/modules/binance_client"
	"trade_supervisor/internal/modules/bootstrap"
	"trade_supervisor/internal/modules/config"
	"trade_supervisor/internal/modules/health"
	"trade_supervisor/internal/modules/market"
	okx "trade_supervisor/internal/modules/okx_client"
	okxws "trade_supervisor/internal/modules/okx_websocket"
	"trade_supervisor/internal/modules/postgres"
	"trade_supervisor/internal/modules/strategy"
	telegram "trade_supervisor/internal/modules/telegram_bot"
	"trade_supervisor/internal/runner"
	"trade_supervisor/pkg/logger"
	"trade_supervisor/pkg/tracing"
)

func main() {
	app := fx.New(
		fx.Provide(
			logger.New,
			newTracer,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		postgres.Module(),
		market.Module(),
		// биржи регистрируются до старта трейдеров
		okx.Module(),
		binance.Module(),
		okxws.Module(),
		strategy.Module(),
		bootstrap.Module(),
		health.Module(),
		runner.Module(),
		telegram.Module(),
	)
	app.Run()
}

func newTracer(lc fx.Lifecycle, cfg tracing.Config) (opentracing.Tracer, error) {
	tracer, closer, err := tracing.InitTracer(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(closer.Close))
	return tracer, nil
}
