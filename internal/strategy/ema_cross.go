package strategy

import (
	"fmt"
	"time"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

const NameEMACross = "ema_cross"

// EMACross signals when the fast EMA crosses the slow one on the last candle.
type EMACross struct {
	fast, slow int
	lastBar    time.Time
}

func NewEMACross(params map[string]float64) (Strategy, error) {
	fast := int(param(params, "fast", 9))
	slow := int(param(params, "slow", 21))
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, apperr.Newf(apperr.Configuration, "ema_cross: need 0 < fast < slow, got %d/%d", fast, slow)
	}
	return &EMACross{fast: fast, slow: slow}, nil
}

func (s *EMACross) Name() string { return NameEMACross }
func (s *EMACross) Warmup() int  { return s.slow * 3 }
func (s *EMACross) Reset()       { s.lastBar = time.Time{} }

func (s *EMACross) Evaluate(symbol string, candles []models.Candle) (models.Signal, bool) {
	if len(candles) < s.Warmup() {
		return models.Signal{}, false
	}
	last := candles[len(candles)-1]
	// на одну свечу не больше одного сигнала
	if !last.Timestamp.After(s.lastBar) {
		return models.Signal{}, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	fPrev, fLast, ok1 := emaSeries(closes, s.fast)
	sPrev, sLast, ok2 := emaSeries(closes, s.slow)
	if !ok1 || !ok2 {
		return models.Signal{}, false
	}

	var side models.Side
	switch {
	case fPrev <= sPrev && fLast > sLast:
		side = models.SideBuy
	case fPrev >= sPrev && fLast < sLast:
		side = models.SideSell
	default:
		return models.Signal{}, false
	}
	s.lastBar = last.Timestamp

	return models.Signal{
		Symbol:   symbol,
		Type:     side,
		Strategy: NameEMACross,
		Price:    last.Close,
		Reason:   fmt.Sprintf("EMA%d %.6f crossed EMA%d %.6f", s.fast, fLast, s.slow, sLast),
		Metadata: map[string]any{"ema_fast": fLast, "ema_slow": sLast},
	}, true
}
