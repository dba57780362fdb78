package service

import (
	"context"
	"sync"
	"sync/atomic"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"trade_supervisor/internal/models"
	"trade_supervisor/internal/runner"
)

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	// ChatID receives notifications; commands from other chats are ignored.
	ChatID    int64 `mapstructure:"chat_id"`
	QueueSize int   `mapstructure:"queue_size"`
}

// Bot is the part of tgbot.BotAPI the service uses.
type Bot interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Controller is the operator surface of the trader manager.
type Controller interface {
	StartTrader(ctx context.Context, id string) error
	StopTrader(ctx context.Context, id string) error
	RestartTrader(ctx context.Context, id string) error
	PauseTrader(id string) error
	ResumeTrader(id string) error
	List() []runner.TraderStatus
	Summary() runner.Summary
	State() runner.ManagerState
}

// Telegram forwards manager events to a chat and serves operator commands.
type Telegram struct {
	bot  Bot
	ctrl Controller
	cfg  Config
	log  *zap.Logger

	queue   chan models.Event
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func NewTelegram(cfg Config, bot Bot, ctrl Controller, log *zap.Logger) *Telegram {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Telegram{
		bot:   bot,
		ctrl:  ctrl,
		cfg:   cfg,
		log:   log.Named("telegram"),
		queue: make(chan models.Event, cfg.QueueSize),
	}
}

// Notify never blocks the publisher: when the queue is full the event is dropped.
func (t *Telegram) Notify(ev models.Event) {
	select {
	case t.queue <- ev:
	default:
		n := t.dropped.Add(1)
		t.log.Warn("notification queue full, event dropped",
			zap.String("type", string(ev.Type)), zap.String("trader_id", ev.TraderID), zap.Int64("dropped", n))
	}
}

func (t *Telegram) Dropped() int64 { return t.dropped.Load() }

// Start runs the sender and the update loop until ctx is done.
func (t *Telegram) Start(ctx context.Context) {
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.sendLoop(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.updateLoop(ctx)
	}()
}

// Stop waits for both loops; ctx passed to Start must already be cancelled.
func (t *Telegram) Stop() {
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
}

func (t *Telegram) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.queue:
			t.send(formatEvent(ev))
		}
	}
}

func (t *Telegram) updateLoop(ctx context.Context) {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, upd)
		}
	}
}

func (t *Telegram) send(text string) {
	if t.cfg.ChatID == 0 {
		return
	}
	t.reply(t.cfg.ChatID, text)
}

func (t *Telegram) reply(chatID int64, text string) {
	msg := tgbot.NewMessage(chatID, text)
	msg.ParseMode = tgbot.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
