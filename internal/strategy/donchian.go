package strategy

import (
	"fmt"
	"time"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

const NameDonchian = "donchian"

// Donchian: пробой канала Дончиана по предыдущим Period свечам с EMA-фильтром тренда.
type Donchian struct {
	period        int
	trendEma      int
	minChannelPct float64
	lastBar       time.Time
}

func NewDonchian(params map[string]float64) (Strategy, error) {
	d := &Donchian{
		period:        int(param(params, "period", 20)),
		trendEma:      int(param(params, "trend_ema", 50)),
		minChannelPct: param(params, "min_channel_pct", 0),
	}
	if d.period < 2 || d.trendEma < 1 {
		return nil, apperr.Newf(apperr.Configuration, "donchian: bad period %d or trend_ema %d", d.period, d.trendEma)
	}
	return d, nil
}

func (d *Donchian) Name() string { return NameDonchian }
func (d *Donchian) Reset()       { d.lastBar = time.Time{} }

func (d *Donchian) Warmup() int {
	return max(d.period+1, d.trendEma+1)
}

func (d *Donchian) Evaluate(symbol string, candles []models.Candle) (models.Signal, bool) {
	if len(candles) < d.Warmup() {
		return models.Signal{}, false
	}
	last := candles[len(candles)-1]
	if !last.Timestamp.After(d.lastBar) {
		return models.Signal{}, false
	}

	// канал из ПРЕДЫДУЩИХ period свечей
	window := candles[len(candles)-1-d.period : len(candles)-1]
	dh, dl := window[0].High, window[0].Low
	for _, c := range window[1:] {
		dh = max(dh, c.High)
		dl = min(dl, c.Low)
	}
	if last.Close > 0 && (dh-dl)/last.Close < d.minChannelPct {
		return models.Signal{}, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	_, trend, ok := emaSeries(closes, d.trendEma)
	if !ok {
		return models.Signal{}, false
	}

	var (
		side models.Side
		stop float64
	)
	switch {
	case last.Close > dh && last.Close > trend:
		side, stop = models.SideBuy, dl
	case last.Close < dl && last.Close < trend:
		side, stop = models.SideSell, dh
	default:
		return models.Signal{}, false
	}
	d.lastBar = last.Timestamp

	return models.Signal{
		Symbol:   symbol,
		Type:     side,
		Strategy: NameDonchian,
		Price:    last.Close,
		StopLoss: stop,
		Reason:   fmt.Sprintf("Donchian breakout %s: close=%.6f dh=%.6f dl=%.6f ema=%.6f", side, last.Close, dh, dl, trend),
		Metadata: map[string]any{"dh": dh, "dl": dl, "trend_ema": trend},
	}, true
}
