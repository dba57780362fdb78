package strategy

import (
	"fmt"
	"time"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

const NameEMARSI = "ema_rsi"

// EMARSI buys an oversold dip inside an uptrend and sells an overbought rally inside
// a downtrend. One signal per change of side.
type EMARSI struct {
	short, long, rsiN int
	overbought, oversold float64

	lastSide models.Side
	lastBar  time.Time
}

func NewEMARSI(params map[string]float64) (Strategy, error) {
	s := &EMARSI{
		short:      int(param(params, "ema_short", 9)),
		long:       int(param(params, "ema_long", 50)),
		rsiN:       int(param(params, "rsi_period", 14)),
		overbought: param(params, "overbought", 70),
		oversold:   param(params, "oversold", 30),
	}
	if s.short <= 0 || s.long <= s.short {
		return nil, apperr.Newf(apperr.Configuration, "ema_rsi: need 0 < ema_short < ema_long, got %d/%d", s.short, s.long)
	}
	if s.rsiN < 2 {
		return nil, apperr.Newf(apperr.Configuration, "ema_rsi: rsi_period must be >= 2, got %d", s.rsiN)
	}
	if s.oversold <= 0 || s.overbought >= 100 || s.oversold >= s.overbought {
		return nil, apperr.Newf(apperr.Configuration, "ema_rsi: need 0 < oversold < overbought < 100")
	}
	return s, nil
}

func (s *EMARSI) Name() string { return NameEMARSI }

func (s *EMARSI) Warmup() int { return max(s.long, s.rsiN+1) * 2 }

func (s *EMARSI) Reset() {
	s.lastSide = ""
	s.lastBar = time.Time{}
}

func (s *EMARSI) Evaluate(symbol string, candles []models.Candle) (models.Signal, bool) {
	if len(candles) < s.Warmup() {
		return models.Signal{}, false
	}
	last := candles[len(candles)-1]
	if !last.Timestamp.After(s.lastBar) {
		return models.Signal{}, false
	}
	s.lastBar = last.Timestamp

	short, long := newEMA(s.short), newEMA(s.long)
	for _, c := range candles {
		short.Update(c.Close)
		long.Update(c.Close)
	}
	rsi := wilderRSI(candles, s.rsiN)

	var side models.Side
	switch {
	case short.Value() > long.Value() && rsi < s.oversold:
		side = models.SideBuy
	case short.Value() < long.Value() && rsi > s.overbought:
		side = models.SideSell
	default:
		return models.Signal{}, false
	}
	if side == s.lastSide {
		return models.Signal{}, false
	}
	s.lastSide = side

	return models.Signal{
		Symbol:   symbol,
		Type:     side,
		Strategy: NameEMARSI,
		Price:    last.Close,
		Reason:   fmt.Sprintf("EMA/RSI %s: rsi %.1f ema %.6f/%.6f", side, rsi, short.Value(), long.Value()),
		Metadata: map[string]any{"rsi": rsi, "ema_short": short.Value(), "ema_long": long.Value()},
	}, true
}

// wilderRSI: сглаживание Уайлдера, alpha = 1/n.
func wilderRSI(candles []models.Candle, n int) float64 {
	var avgGain, avgLoss float64
	alpha := 1.0 / float64(n)
	for i := 1; i < len(candles); i++ {
		ch := candles[i].Close - candles[i-1].Close
		gain, loss := max(ch, 0), max(-ch, 0)
		if i <= n {
			avgGain += gain / float64(n)
			avgLoss += loss / float64(n)
			continue
		}
		avgGain = (1-alpha)*avgGain + alpha*gain
		avgLoss = (1-alpha)*avgLoss + alpha*loss
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
