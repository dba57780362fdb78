package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

const exchangeInfo = `{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT",
	"filters":[{"filterType":"LOT_SIZE","minQty":"0.00010000","maxQty":"9000.00000000","stepSize":"0.00010000"}]}]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL}, zap.NewNop())
}

func TestGetCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		_, _ = io.WriteString(w, `[
			[1700000000000,"1.0","2.0","0.5","1.5","10.0",1700003599999,"15.0",5,"1","1","0"],
			[1700003600000,"1.5","2.5","1.0","2.0","11.0",1700007199999,"22.0",5,"1","1","0"]]`)
	})

	candles, err := c.GetCandles(context.Background(), "BTCUSDT", "1H", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 2.0, candles[1].Close)
	assert.Equal(t, 22.0, candles[1].QuoteVolume)
	assert.Equal(t, int64(1700003600000), candles[1].Timestamp.UnixMilli())
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   apperr.Kind
	}{
		{http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, apperr.RateLimited},
		{http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key"}`, apperr.Unauthorized},
		{http.StatusBadRequest, `{"code":-1022,"msg":"Signature for this request is not valid."}`, apperr.Unauthorized},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		})
		err := c.Ping(context.Background())
		require.Error(t, err)
		assert.Equal(t, tc.kind, apperr.KindOf(err), tc.body)
	}
}

func TestPlaceMarketOrder(t *testing.T) {
	var form map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			_, _ = io.WriteString(w, exchangeInfo)
		case "/api/v3/order":
			_ = r.ParseForm()
			form = r.Form
			_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","orderId":77,"status":"FILLED","executedQty":"0.0120","cummulativeQuoteQty":"600.0"}`)
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          models.SideBuy,
		Quantity:      decimal.RequireFromString("0.01234"),
		ClientOrderID: "cid",
		MarketType:    models.MarketSpot,
	})
	require.NoError(t, err)
	assert.Equal(t, "77", res.OrderID)
	assert.Equal(t, "filled", res.Status)
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, "0.0123", form["quantity"][0])
	assert.Equal(t, "MARKET", form["type"][0])
	assert.Equal(t, "cid", form["newClientOrderId"][0])
}

func TestPlaceOrderRejectsDerivatives(t *testing.T) {
	c := newTestClient(t, http.NotFound)
	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTCUSDT",
		Quantity:   decimal.NewFromInt(1),
		MarketType: models.MarketSwap,
	})
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestGetPositionsFromBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			_, _ = io.WriteString(w, exchangeInfo)
		case "/api/v3/account":
			_, _ = io.WriteString(w, `{"updateTime":1700000000000,"balances":[
				{"asset":"USDT","free":"100","locked":"0"},
				{"asset":"BTC","free":"0.5","locked":"0.25"}]}`)
		}
	})
	ps, err := c.GetPositions(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, 0.75, ps[0].Size)
	assert.Equal(t, "long", ps[0].Side)
}
