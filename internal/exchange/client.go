package exchange

import (
	"context"

	"trade_supervisor/internal/models"
)

// Client is the capability a trader needs from an exchange. Implementations must
// classify their failures with apperr kinds (RateLimited, Unauthorized, Transient).
type Client interface {
	Name() string
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetPositions(ctx context.Context, symbol string) ([]models.Position, error)
	Ping(ctx context.Context) error
	Close() error
}

// Constructor opens a new connection to one exchange.
type Constructor func(ctx context.Context) (Client, error)
