package service

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"trade_supervisor/internal/models"
	"trade_supervisor/internal/runner"
)

func esc(s string) string { return html.EscapeString(s) }

func formatEvent(ev models.Event) string {
	id := "<b>" + esc(ev.TraderID) + "</b>"
	p := ev.Payload
	switch ev.Type {
	case models.EventTraderStarted:
		text := fmt.Sprintf("🚀 %s запущен: %v %v (%v)", id, p["exchange"], p["symbol"], p["strategy"])
		if r, _ := p["restart"].(bool); r {
			text += " (перезапуск)"
		}
		return text
	case models.EventTraderStopped:
		return "⏹ " + id + " остановлен"
	case models.EventTraderRecovered:
		return fmt.Sprintf("♻️ %s восстановлен после %v ошибок подряд", id, p["consecutive_errors"])
	case models.EventHealthCheckFailed:
		return fmt.Sprintf("⚠️ %s: health check не прошёл (%v), ошибок подряд: %v", id, esc(fmt.Sprint(p["reason"])), p["consecutive_errors"])
	case models.EventTraderError:
		if fatal, _ := p["fatal"].(bool); fatal {
			return fmt.Sprintf("🛑 %s остановлен принудительно: %s", id, esc(fmt.Sprint(p["error"])))
		}
		return fmt.Sprintf("❗️ %s: %s", id, esc(fmt.Sprint(p["error"])))
	}
	return fmt.Sprintf("%s: %s", esc(string(ev.Type)), id)
}

func formatSummary(state runner.ManagerState, s runner.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Менеджер:</b> %s\n", state)
	fmt.Fprintf(&b, "Трейдеров: %d\n", s.Traders)

	states := make([]string, 0, len(s.ByState))
	for st := range s.ByState {
		states = append(states, st)
	}
	sort.Strings(states)
	for _, st := range states {
		fmt.Fprintf(&b, "  %s: %d\n", st, s.ByState[st])
	}
	fmt.Fprintf(&b, "Сделок: %d (ok %d / fail %d)\n", s.TradesTotal, s.TradesSucceeded, s.TradesFailed)
	fmt.Fprintf(&b, "Сигналов: %d, ошибок: %d\n", s.Signals, s.Errors)
	fmt.Fprintf(&b, "PnL: %s, win rate: %.0f%% (%d закрытий)", s.PnL.StringFixed(2), s.WinRate()*100, s.Closed)
	return b.String()
}

func formatTraders(list []runner.TraderStatus) string {
	if len(list) == 0 {
		return "Трейдеров нет"
	}
	var b strings.Builder
	for _, st := range list {
		mark := "🟢"
		if !st.Health.IsHealthy {
			mark = "🔴"
		}
		fmt.Fprintf(&b, "%s <b>%s</b> %s %s %s [%s]", mark, esc(st.ID), esc(st.Exchange), esc(st.Symbol), esc(st.Timeframe), st.State)
		if st.LastError != "" {
			fmt.Fprintf(&b, "\n   last error: %s", esc(st.LastError))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
