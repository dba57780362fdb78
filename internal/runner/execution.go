package runner

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
	"trade_supervisor/internal/runner/sessions"
)

// execute is the per-trader task: poll, evaluate, gate, place. It exits on cancellation
// or after the trader has been force-stopped.
func (m *Manager) execute(ctx context.Context, t *trader) {
	log := m.log.With(zap.String("trader_id", t.session.ID))
	log.Info("execution task started")
	defer log.Info("execution task finished")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// на паузе просто ждём следующий тик
		if t.session.State() == sessions.StateRunning {
			if err := m.step(ctx, t); err != nil {
				if ctx.Err() != nil {
					return
				}
				if !m.handleFailure(ctx, t, err) {
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// step runs one evaluation over the closed candles of the trader's series.
func (m *Manager) step(ctx context.Context, t *trader) error {
	s := t.session
	cfg := s.Config
	ex, st := s.Exchange(), s.Strategy()
	if ex == nil || st == nil {
		return apperr.Newf(apperr.InvalidState, "trader %s has no exchange or strategy", s.ID)
	}

	tf := helper.NormTF(cfg.Timeframe)
	key := models.SeriesKey{Exchange: cfg.Exchange, Symbol: cfg.Symbol, Interval: tf}

	// +1: последняя свеча может быть ещё не закрыта
	candles, err := m.market.Load(ctx, key, st.Warmup()+1, ex)
	if err != nil {
		return err
	}
	candles = closedOnly(candles, helper.TimeframeDuration(tf), m.now())

	sig, ok := st.Evaluate(cfg.Symbol, candles)
	if !ok {
		return nil
	}
	sig.TraderID = s.ID
	sig.Symbol = cfg.Symbol
	sig.Strategy = cfg.Strategy
	sig.Timeframe = tf
	sig.CreatedAt = m.now()
	s.RecordSignal()

	stored, accepted, err := m.gate.Submit(ctx, sig)
	if err != nil {
		return errors.Wrap(err, "submit signal")
	}
	if !accepted {
		return nil
	}
	m.stats.signals.WithLabelValues(s.ID, string(stored.Type)).Inc()

	return m.placeOrder(ctx, t, ex, stored)
}

func closedOnly(candles []models.Candle, tf time.Duration, now time.Time) []models.Candle {
	if tf <= 0 {
		return candles
	}
	n := len(candles)
	for n > 0 && candles[n-1].End(tf).After(now) {
		n--
	}
	return candles[:n]
}

// placeOrder sizes the signal by risk and sends a market order. When the order closes
// or reduces an opposite position, its share of that position's PnL is recorded.
func (m *Manager) placeOrder(ctx context.Context, t *trader, ex exchange.Client, sig models.Signal) error {
	s := t.session
	cfg := s.Config
	log := m.log.With(zap.String("trader_id", s.ID), zap.String("symbol", cfg.Symbol))

	before, err := ex.GetPositions(ctx, cfg.Symbol)
	if err != nil {
		if cfg.Risk.MaxOpenPositions > 0 {
			return errors.Wrap(err, "get positions")
		}
		// без лимита позиций сделку не блокируем, теряем только PnL
		log.Warn("positions unavailable before order", zap.Error(err))
		before = nil
	}

	// лимит по открытым позициям
	if limit := cfg.Risk.MaxOpenPositions; limit > 0 {
		open := 0
		for _, p := range before {
			if p.Size != 0 {
				open++
			}
		}
		if open >= limit {
			log.Info("open positions limit reached, signal skipped", zap.Int("open", open), zap.Int("limit", limit))
			return nil
		}
	}

	sizer := s.Sizer()
	if sizer == nil {
		return apperr.Newf(apperr.Configuration, "trader %s has no risk sizer", s.ID)
	}
	plan, err := sizer.Plan(sig.Type, sig.Price, sig.StopLoss)
	if err != nil {
		return err
	}
	if !plan.Quantity.IsPositive() {
		log.Warn("size rounds to zero, signal skipped", zap.Float64("entry", plan.Entry), zap.Float64("stop", plan.StopLoss))
		return nil
	}

	req := models.OrderRequest{
		Symbol:        cfg.Symbol,
		Side:          sig.Type,
		Quantity:      plan.Quantity,
		ClientOrderID: strings.ReplaceAll(sig.ID, "-", ""),
		MarketType:    cfg.MarketType,
		Leverage:      cfg.Leverage,
		StopLoss:      plan.StopLoss,
		TakeProfit:    plan.TakeProfit,
	}
	res, err := ex.PlaceOrder(ctx, req)
	if err != nil {
		s.RecordTrade(false)
		return errors.Wrapf(err, "place %s order", sig.Type)
	}
	s.RecordTrade(true)

	log.Info("order placed",
		zap.String("side", string(sig.Type)),
		zap.String("order_id", res.OrderID),
		zap.String("qty", plan.Quantity.String()),
		zap.Float64("entry", plan.Entry),
		zap.Float64("sl", plan.StopLoss),
		zap.Float64("tp", plan.TakeProfit),
		zap.String("reason", sig.Reason),
	)

	if opp, ok := opposite(before, sig.Type); ok {
		after, err := ex.GetPositions(ctx, cfg.Symbol)
		if err != nil {
			log.Warn("positions unavailable after order, pnl not recorded", zap.Error(err))
			return nil
		}
		if pnl, closed := realizedPnL(opp, after); closed {
			s.RecordClose(pnl)
			log.Info("position reduced", zap.String("side", opp.Side), zap.String("pnl", pnl.String()))
		}
	}
	return nil
}

// opposite returns the open position a signal of this side would reduce.
func opposite(positions []models.Position, side models.Side) (models.Position, bool) {
	want := "short"
	if side == models.SideSell {
		want = "long"
	}
	for _, p := range positions {
		if p.Side == want && p.Size != 0 {
			return p, true
		}
	}
	return models.Position{}, false
}

// realizedPnL is the closed share of the position's unrealized PnL. Sizes are compared
// in the exchange's own units, so contracts and base units both work.
func realizedPnL(before models.Position, after []models.Position) (decimal.Decimal, bool) {
	remaining := 0.0
	for _, p := range after {
		if p.Side == before.Side {
			remaining += math.Abs(p.Size)
		}
	}
	was := math.Abs(before.Size)
	if remaining >= was {
		return decimal.Zero, false
	}
	share := (was - remaining) / was
	return decimal.NewFromFloat(before.UnrealizedPnL * share).Round(8), true
}

// handleFailure records err and either recovers the trader or force-stops it.
// It returns false when the execution task must exit.
func (m *Manager) handleFailure(ctx context.Context, t *trader, err error) bool {
	id := t.session.ID
	log := m.log.With(zap.String("trader_id", id))

	for {
		t.session.AddError(err)
		log.Warn("execution error", zap.Error(err))
		m.events.Publish(models.EventTraderError, id, map[string]any{"error": err.Error(), "fatal": false})

		m.hmu.Lock()
		if t.fatal {
			m.hmu.Unlock()
			return false
		}
		t.health.ConsecutiveErrors++
		n := t.health.ConsecutiveErrors
		escalate := n >= m.cfg.MaxConsecutiveErrors
		if escalate {
			t.fatal = true
		}
		m.hmu.Unlock()

		if escalate {
			m.forceStop(t, n, err)
			return false
		}

		if sleepCtx(ctx, m.cfg.RecoveryDelay) != nil {
			return false
		}
		rerr := m.recoverTrader(ctx, t)
		if rerr == nil {
			log.Info("trader recovered", zap.Int("consecutive_errors", n))
			m.events.Publish(models.EventTraderRecovered, id, map[string]any{"consecutive_errors": n})
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		err = errors.Wrap(rerr, "recovery")
	}
}

// recoverTrader reconnects the exchange and resets the strategy.
func (m *Manager) recoverTrader(ctx context.Context, t *trader) error {
	if st := t.session.State(); st != sessions.StateRunning && st != sessions.StatePaused {
		return apperr.Newf(apperr.InvalidState, "trader %s is %s", t.session.ID, st)
	}
	if err := t.session.Reconnect(ctx); err != nil {
		return err
	}
	t.session.ResetStrategy()
	return nil
}

// forceStop ends a trader that keeps failing. It is reached at most once per run.
func (m *Manager) forceStop(t *trader, consecutive int, cause error) {
	id := t.session.ID
	fatal := apperr.Wrap(apperr.PersistentFailure, fmt.Sprintf("trader %s: %d consecutive errors", id, consecutive), cause)

	t.session.Fail(fatal)
	t.session.Release()
	m.stats.forcedStops.Inc()

	m.log.Error("trader force-stopped", zap.String("trader_id", id), zap.Int("consecutive_errors", consecutive), zap.Error(cause))
	m.events.Publish(models.EventTraderError, id, map[string]any{
		"error":              fatal.Error(),
		"fatal":              true,
		"consecutive_errors": consecutive,
	})
}
