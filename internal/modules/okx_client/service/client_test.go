package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		APIKey:     "key",
		APISecret:  "secret",
		Passphrase: "pass",
		BaseURL:    srv.URL,
	}, zap.NewNop())
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestGetCandlesAscending(t *testing.T) {
	var query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"code":"0","msg":"","data":[
			["1700000120000","3","4","2","3.5","10","1","35","0"],
			["1700000060000","2","3","1","2.5","10","1","25","1"],
			["1700000000000","1","2","0.5","1.5","10","1","15","1"]]}`)
	}))

	candles, err := c.GetCandles(context.Background(), "BTC-USDT-SWAP", "1h", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Contains(t, query, "bar=1H")
	assert.True(t, candles[0].Timestamp.Before(candles[2].Timestamp))
	assert.Equal(t, 1.5, candles[0].Close)
	assert.Equal(t, 35.0, candles[2].QuoteVolume)
}

func TestGetCandlesPaginates(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		rows := make([][]string, 0, candlesPage)
		base := int64(1_700_000_000_000) - int64(n-1)*candlesPage*60_000
		for i := range candlesPage {
			ts := base - int64(i)*60_000
			rows = append(rows, []string{decimal.NewFromInt(ts).String(), "1", "1", "1", "1", "1"})
		}
		if n > 1 {
			assert.NotEmpty(t, r.URL.Query().Get("after"))
		}
		body, _ := sonic.Marshal(map[string]any{"code": "0", "data": rows})
		_, _ = w.Write(body)
	}))

	candles, err := c.GetCandles(context.Background(), "BTC-USDT-SWAP", "1m", 450)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.Len(t, candles, 450)
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i-1].Timestamp.Before(candles[i].Timestamp))
	}
}

func TestUnsupportedBar(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.GetCandles(context.Background(), "BTC-USDT", "7m", 10)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   apperr.Kind
	}{
		{"http 429", http.StatusTooManyRequests, `{"code":"50011","msg":"Too Many Requests"}`, apperr.RateLimited},
		{"rate code", http.StatusOK, `{"code":"50011","msg":"Too Many Requests"}`, apperr.RateLimited},
		{"bad sign", http.StatusUnauthorized, `{"code":"50113","msg":"Invalid Sign"}`, apperr.Unauthorized},
		{"bad key code", http.StatusOK, `{"code":"50111","msg":"Invalid OK-ACCESS-KEY"}`, apperr.Unauthorized},
		{"server", http.StatusBadGateway, `bad gateway`, apperr.Transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			err := c.Ping(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestPlaceOrderSignedWithAttachedStops(t *testing.T) {
	var order orderBody
	var leverSet atomic.Int32
	var c *Client
	c = newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/public/instruments":
			assert.Equal(t, "SWAP", r.URL.Query().Get("instType"))
			_, _ = io.WriteString(w, `{"code":"0","data":[{"instId":"BTC-USDT-SWAP","lotSz":"0.1","minSz":"0.1","tickSz":"0.1","ctVal":"0.01","state":"live"}]}`)
		case "/api/v5/account/set-leverage":
			leverSet.Add(1)
			_, _ = io.WriteString(w, `{"code":"0","data":[{"lever":"5"}]}`)
		case "/api/v5/trade/order":
			raw, _ := io.ReadAll(r.Body)
			ts := fixedNow.Format(tsLayout)
			assert.Equal(t, "key", r.Header.Get("OK-ACCESS-KEY"))
			assert.Equal(t, ts, r.Header.Get("OK-ACCESS-TIMESTAMP"))
			assert.Equal(t, "pass", r.Header.Get("OK-ACCESS-PASSPHRASE"))
			assert.Equal(t, c.sign(ts, http.MethodPost, r.URL.Path, string(raw)), r.Header.Get("OK-ACCESS-SIGN"))
			assert.NoError(t, sonic.Unmarshal(raw, &order))
			_, _ = io.WriteString(w, `{"code":"0","data":[{"ordId":"42","clOrdId":"abc","sCode":"0"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))

	req := models.OrderRequest{
		Symbol:        "BTC-USDT-SWAP",
		Side:          models.SideBuy,
		Quantity:      decimal.RequireFromString("0.0157"),
		ClientOrderID: "abc",
		MarketType:    models.MarketSwap,
		Leverage:      5,
		StopLoss:      49500.07,
		TakeProfit:    51000.12,
	}
	res, err := c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)

	assert.Equal(t, "buy", order.Side)
	assert.Equal(t, "cross", order.TdMode)
	assert.Equal(t, "market", order.OrdType)
	assert.Equal(t, "1.5", order.Sz) // 0.0157 / 0.01 = 1.57 contracts -> 1.5
	require.Len(t, order.AttachAlgoOrds, 1)
	assert.Equal(t, "49500", order.AttachAlgoOrds[0].SlTriggerPx)
	assert.Equal(t, "51000.1", order.AttachAlgoOrds[0].TpTriggerPx)

	// leverage and instrument are cached
	_, err = c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, leverSet.Load())
}

func TestPlaceOrderRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v5/public/instruments" {
			_, _ = io.WriteString(w, `{"code":"0","data":[{"instId":"BTC-USDT","lotSz":"0.0001","minSz":"0.0001","tickSz":"0.1","state":"live"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":"1","data":[{"sCode":"51008","sMsg":"insufficient balance"}]}`)
	}))
	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:     "BTC-USDT",
		Side:       models.SideSell,
		Quantity:   decimal.NewFromFloat(0.01),
		MarketType: models.MarketSpot,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code=1")
}

func TestPrivateCallWithoutCredentials(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	c.cfg.APIKey = ""
	_, err := c.GetPositions(context.Background(), "BTC-USDT-SWAP")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}

func TestGetPositionsNetMode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"code":"0","data":[
			{"instId":"BTC-USDT-SWAP","posSide":"net","pos":"-2","avgPx":"50000","markPx":"49000","upl":"20","lever":"5","uTime":"1700000000000"},
			{"instId":"BTC-USDT-SWAP","posSide":"net","pos":"0","avgPx":"","markPx":"","upl":"0","lever":"5","uTime":"1700000000000"}]}`)
	}))
	ps, err := c.GetPositions(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "short", ps[0].Side)
	assert.Equal(t, -2.0, ps[0].Size)
	assert.Equal(t, 5, ps[0].Leverage)
	assert.Zero(t, ps[1].Size)
}
