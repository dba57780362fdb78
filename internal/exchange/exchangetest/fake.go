// Package exchangetest provides an in-memory exchange.Client for tests.
package exchangetest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"trade_supervisor/internal/models"
)

type Fake struct {
	ExchangeName string

	mu         sync.Mutex
	Candles    []models.Candle
	CandlesErr error
	PingErr    error
	OrderErr   error
	Orders     []models.OrderRequest
	Positions  []models.Position
	Calls      map[string]int
	Closed     bool
}

func NewFake(name string) *Fake {
	return &Fake{ExchangeName: name, Calls: make(map[string]int)}
}

func (f *Fake) hit(op string) {
	f.mu.Lock()
	f.Calls[op]++
	f.mu.Unlock()
}

func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *Fake) SetCandles(c []models.Candle) {
	f.mu.Lock()
	f.Candles = c
	f.mu.Unlock()
}

func (f *Fake) SetPositions(p []models.Position) {
	f.mu.Lock()
	f.Positions = append([]models.Position(nil), p...)
	f.mu.Unlock()
}

func (f *Fake) SetPingErr(err error) {
	f.mu.Lock()
	f.PingErr = err
	f.mu.Unlock()
}

func (f *Fake) SetCandlesErr(err error) {
	f.mu.Lock()
	f.CandlesErr = err
	f.mu.Unlock()
}

func (f *Fake) Name() string { return f.ExchangeName }

func (f *Fake) GetCandles(_ context.Context, _, _ string, limit int) ([]models.Candle, error) {
	f.hit("get_candles")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CandlesErr != nil {
		return nil, f.CandlesErr
	}
	out := f.Candles
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]models.Candle(nil), out...), nil
}

func (f *Fake) PlaceOrder(_ context.Context, req models.OrderRequest) (models.OrderResult, error) {
	f.hit("place_order")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OrderErr != nil {
		return models.OrderResult{}, f.OrderErr
	}
	f.Orders = append(f.Orders, req)
	f.reduceLocked(req)
	return models.OrderResult{
		OrderID:   req.ClientOrderID,
		Status:    "filled",
		FilledQty: req.Quantity,
		AvgPrice:  decimal.NewFromInt(100),
	}, nil
}

func (f *Fake) CancelOrder(context.Context, string, string) error {
	f.hit("cancel_order")
	return nil
}

func (f *Fake) GetPositions(context.Context, string) ([]models.Position, error) {
	f.hit("get_positions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Position(nil), f.Positions...), nil
}

// reduceLocked nets the order against an opposite position, like a one-way account.
func (f *Fake) reduceLocked(req models.OrderRequest) {
	want := "short"
	if req.Side == models.SideSell {
		want = "long"
	}
	qty := req.Quantity.InexactFloat64()
	out := f.Positions[:0]
	for _, p := range f.Positions {
		if p.Side == want && qty > 0 {
			cut := min(p.Size, qty)
			p.Size -= cut
			qty -= cut
		}
		if p.Size > 0 {
			out = append(out, p)
		}
	}
	f.Positions = out
}

func (f *Fake) Ping(context.Context) error {
	f.hit("ping")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PingErr
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}
