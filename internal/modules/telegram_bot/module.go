package telegram

import (
	"context"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/modules/telegram_bot/service"
	"trade_supervisor/internal/runner"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(func(m *runner.Manager) service.Controller { return m }),
		fx.Invoke(run),
	)
}

func run(lc fx.Lifecycle, cfg service.Config, ctrl service.Controller, events *runner.EventBus, log *zap.Logger) error {
	if !cfg.Enabled {
		log.Info("telegram disabled")
		return nil
	}
	if cfg.Token == "" {
		return apperr.New(apperr.Configuration, "telegram is enabled but token is empty")
	}

	var (
		t           *service.Telegram
		unsubscribe func()
	)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			bot, err := tgbot.NewBotAPI(cfg.Token)
			if err != nil {
				cancel()
				return errors.Wrap(err, "telegram bot")
			}
			t = service.NewTelegram(cfg, bot, ctrl, log)
			unsubscribe = events.SubscribeAll(t.Notify)
			t.Start(ctx)
			log.Info("telegram started", zap.String("bot", bot.Self.UserName))
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			if t == nil {
				return nil
			}
			unsubscribe()
			t.Stop()
			return nil
		},
	})
	return nil
}
