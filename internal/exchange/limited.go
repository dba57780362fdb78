package exchange

import (
	"context"
	"fmt"

	"trade_supervisor/internal/models"
	"trade_supervisor/internal/ratelimit"
)

type none struct{}

// Limited routes every call of the wrapped client through the shared rate limiter.
// Endpoint buckets are scoped by exchange name ("okx/get_candles").
type Limited struct {
	inner  Client
	access *ratelimit.Access
}

func NewLimited(inner Client, access *ratelimit.Access) *Limited {
	return &Limited{inner: inner, access: access}
}

func (l *Limited) Name() string { return l.inner.Name() }

func (l *Limited) endpoint(ep string) string { return l.inner.Name() + "/" + ep }

func (l *Limited) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	key := fmt.Sprintf("candles:%s:%s:%s:%d", l.inner.Name(), symbol, interval, limit)
	return ratelimit.Execute(ctx, l.access, l.endpoint(ratelimit.EndpointGetCandles), key,
		func(ctx context.Context) ([]models.Candle, error) {
			return l.inner.GetCandles(ctx, symbol, interval, limit)
		})
}

// PlaceOrder is never cached.
func (l *Limited) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	return ratelimit.Execute(ctx, l.access, l.endpoint(ratelimit.EndpointPlaceOrder), "",
		func(ctx context.Context) (models.OrderResult, error) {
			return l.inner.PlaceOrder(ctx, req)
		})
}

func (l *Limited) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := ratelimit.Execute(ctx, l.access, l.endpoint(ratelimit.EndpointCancelOrder), "",
		func(ctx context.Context) (none, error) {
			return none{}, l.inner.CancelOrder(ctx, symbol, orderID)
		})
	return err
}

// GetPositions is not cached: pre-trade checks must see the effect of the last order.
func (l *Limited) GetPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	return ratelimit.Execute(ctx, l.access, l.endpoint(ratelimit.EndpointGetPositions), "",
		func(ctx context.Context) ([]models.Position, error) {
			return l.inner.GetPositions(ctx, symbol)
		})
}

func (l *Limited) Ping(ctx context.Context) error {
	_, err := ratelimit.Execute(ctx, l.access, l.endpoint(ratelimit.EndpointPing), "",
		func(ctx context.Context) (none, error) {
			return none{}, l.inner.Ping(ctx)
		})
	return err
}

func (l *Limited) Close() error { return l.inner.Close() }

var _ Client = (*Limited)(nil)
