package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

func series(closes ...float64) []models.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
		}
	}
	return out
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{NameDonchian, NameEMACross, NameEMARSI}, r.Names())
	assert.True(t, r.Has(NameEMACross))

	_, err := r.New("martingale", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Configuration))

	_, err = r.New(NameEMACross, map[string]float64{"fast": 30, "slow": 10})
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestEMACrossUp(t *testing.T) {
	s, err := NewEMACross(map[string]float64{"fast": 2, "slow": 4})
	require.NoError(t, err)

	closes := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100-float64(i))
	}
	closes = append(closes, 200)
	candles := series(closes...)

	sig, ok := s.Evaluate("BTC-USDT", candles)
	require.True(t, ok)
	assert.Equal(t, models.SideBuy, sig.Type)
	assert.Equal(t, NameEMACross, sig.Strategy)
	assert.Equal(t, 200.0, sig.Price)

	_, ok = s.Evaluate("BTC-USDT", candles)
	assert.False(t, ok, "same bar twice")

	s.Reset()
	_, ok = s.Evaluate("BTC-USDT", candles)
	assert.True(t, ok)
}

func TestEMACrossNeedsWarmup(t *testing.T) {
	s, err := NewEMACross(nil)
	require.NoError(t, err)
	_, ok := s.Evaluate("BTC-USDT", series(1, 2, 3))
	assert.False(t, ok)
}

func TestDonchianBreakout(t *testing.T) {
	s, err := NewDonchian(map[string]float64{"period": 5, "trend_ema": 3})
	require.NoError(t, err)

	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 110}
	sig, ok := s.Evaluate("ETH-USDT", series(closes...))
	require.True(t, ok)
	assert.Equal(t, models.SideBuy, sig.Type)
	assert.Equal(t, 99.0, sig.StopLoss)

	down := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 90}
	s.Reset()
	sig, ok = s.Evaluate("ETH-USDT", series(down...))
	require.True(t, ok)
	assert.Equal(t, models.SideSell, sig.Type)
	assert.Equal(t, 101.0, sig.StopLoss)
}

func TestDonchianInsideChannel(t *testing.T) {
	s, err := NewDonchian(map[string]float64{"period": 5, "trend_ema": 3})
	require.NoError(t, err)
	_, ok := s.Evaluate("ETH-USDT", series(100, 100, 100, 100, 100, 100, 100.5))
	assert.False(t, ok)
}

func TestEMARSIBuysDipInUptrend(t *testing.T) {
	s, err := NewEMARSI(map[string]float64{"ema_short": 5, "ema_long": 20, "rsi_period": 3})
	require.NoError(t, err)

	// долгий рост, затем резкий откат: тренд ещё вверх, RSI уже внизу
	closes := make([]float64, 0, 64)
	for i := range 60 {
		closes = append(closes, 100+float64(i)*2)
	}
	closes = append(closes, 216, 214, 212)
	candles := series(closes...)

	sig, ok := s.Evaluate("BTC-USDT", candles)
	require.True(t, ok)
	assert.Equal(t, models.SideBuy, sig.Type)
	assert.Less(t, sig.Metadata["rsi"].(float64), 30.0)

	// та же сторона на следующей свече не повторяется
	next := series(append(closes, 211)...)
	_, ok = s.Evaluate("BTC-USDT", next)
	assert.False(t, ok)

	s.Reset()
	_, ok = s.Evaluate("BTC-USDT", next)
	assert.True(t, ok)
}

func TestEMARSIParams(t *testing.T) {
	_, err := NewEMARSI(map[string]float64{"ema_short": 20, "ema_long": 10})
	assert.True(t, apperr.Is(err, apperr.Configuration))
	_, err = NewEMARSI(map[string]float64{"oversold": 80, "overbought": 70})
	assert.True(t, apperr.Is(err, apperr.Configuration))
}
