package service

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const helpText = "Команды:\n" +
	"/status: состояние менеджера\n" +
	"/traders: список трейдеров\n" +
	"/start &lt;id&gt; /stop &lt;id&gt; /restart &lt;id&gt;\n" +
	"/pause &lt;id&gt; /resume &lt;id&gt;"

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID
	if t.cfg.ChatID != 0 && chatID != t.cfg.ChatID {
		t.log.Warn("command from unknown chat ignored", zap.Int64("chat_id", chatID), zap.String("command", msg.Command()))
		return
	}
	t.reply(chatID, t.execute(ctx, msg.Command(), strings.TrimSpace(msg.CommandArguments())))
}

// execute runs one command and returns the reply text.
func (t *Telegram) execute(ctx context.Context, cmd, id string) string {
	switch cmd {
	case "status":
		return formatSummary(t.ctrl.State(), t.ctrl.Summary())
	case "traders":
		return formatTraders(t.ctrl.List())
	case "help":
		return helpText
	}

	var op func() error
	switch cmd {
	case "start":
		op = func() error { return t.ctrl.StartTrader(ctx, id) }
	case "stop":
		op = func() error { return t.ctrl.StopTrader(ctx, id) }
	case "restart":
		op = func() error { return t.ctrl.RestartTrader(ctx, id) }
	case "pause":
		op = func() error { return t.ctrl.PauseTrader(id) }
	case "resume":
		op = func() error { return t.ctrl.ResumeTrader(id) }
	default:
		return "Неизвестная команда.\n\n" + helpText
	}
	if id == "" {
		return "Укажи id трейдера: /" + cmd + " &lt;id&gt;"
	}

	if err := op(); err != nil {
		t.log.Warn("command failed", zap.String("command", cmd), zap.String("trader_id", id), zap.Error(err))
		return "❌ /" + cmd + " " + esc(id) + ": " + esc(err.Error())
	}
	return "✅ /" + cmd + " " + esc(id)
}
