package config

import (
	"go.uber.org/fx"

	"trade_supervisor/internal/dedup"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
	binance "trade_supervisor/internal/modules/binance_client/service"
	"trade_supervisor/internal/modules/health"
	okx "trade_supervisor/internal/modules/okx_client/service"
	okxws "trade_supervisor/internal/modules/okx_websocket/service"
	telegram "trade_supervisor/internal/modules/telegram_bot/service"
	"trade_supervisor/internal/ratelimit"
	"trade_supervisor/internal/runner"
	"trade_supervisor/pkg/logger"
	"trade_supervisor/pkg/tracing"
)

// Module отдаёт конфиг целиком и по частям, чтобы модули не зависели от *Config.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			func(c *Config) logger.Config { return c.Log },
			func(c *Config) tracing.Config { return c.Tracing },
			func(c *Config) health.Config { return c.Service },
			func(c *Config) telegram.Config { return c.Telegram },
			func(c *Config) runner.Config { return c.Manager },
			func(c *Config) marketdata.Config { return c.Cache },
			func(c *Config) ratelimit.Config { return c.RateLimit },
			func(c *Config) dedup.Config { return c.Dedup },
			func(c *Config) okx.Config { return c.Exchanges.OKX },
			func(c *Config) okxws.Config { return c.Exchanges.OKXWS },
			func(c *Config) binance.Config { return c.Exchanges.Binance },
			func(c *Config) []models.TraderConfig { return c.Traders },
		),
	)
}
