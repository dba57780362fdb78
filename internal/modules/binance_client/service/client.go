package service

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
)

const ExchangeName = "binance"

// binance не отдаёт больше 1000 свечей за запрос
const klinesPage = 1000

type Config struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
	Testnet   bool   `mapstructure:"testnet"`
}

type symbolInfo struct {
	Base     string
	StepSize float64
	MinQty   float64
}

// Client trades Binance spot through go-binance.
type Client struct {
	api *binance.Client
	log *zap.Logger

	mu      sync.Mutex
	symbols map[string]symbolInfo
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	api := binance.NewClient(cfg.APIKey, cfg.APISecret)
	switch {
	case cfg.BaseURL != "":
		api.BaseURL = cfg.BaseURL
	case cfg.Testnet:
		api.BaseURL = "https://testnet.binance.vision"
	}
	return &Client{
		api:     api,
		log:     log.Named("binance"),
		symbols: make(map[string]symbolInfo),
	}
}

func (c *Client) Name() string { return ExchangeName }

func (c *Client) Close() error { return nil }

func (c *Client) Ping(ctx context.Context) error {
	return classify(c.api.NewPingService().Do(ctx))
}

func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if !helper.ValidTimeframe(interval) {
		return nil, apperr.Newf(apperr.Configuration, "binance: unsupported interval %q", interval)
	}
	if limit <= 0 {
		limit = 100
	}
	klines, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(helper.NormTF(interval)).
		Limit(min(limit, klinesPage)).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		cd, err := toCandle(k)
		if err != nil {
			return nil, errors.Wrapf(err, "binance kline %s", symbol)
		}
		out = append(out, cd)
	}
	return out, nil
}

func toCandle(k *binance.Kline) (models.Candle, error) {
	var f [6]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, err
		}
		f[i] = v
	}
	return models.Candle{
		Timestamp:   time.UnixMilli(k.OpenTime).UTC(),
		Open:        f[0],
		High:        f[1],
		Low:         f[2],
		Close:       f[3],
		Volume:      f[4],
		QuoteVolume: f[5],
	}, nil
}

// PlaceOrder sends a spot market order. Binance spot has no attached stops, so stop
// and take-profit levels are only logged.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if req.MarketType != "" && req.MarketType != models.MarketSpot {
		return models.OrderResult{}, apperr.Newf(apperr.Configuration, "binance: market type %s is not supported", req.MarketType)
	}
	info, err := c.symbol(ctx, req.Symbol)
	if err != nil {
		return models.OrderResult{}, err
	}
	qty := helper.RoundDownToStep(req.Quantity.InexactFloat64(), info.StepSize)
	if qty <= 0 || qty < info.MinQty {
		return models.OrderResult{}, apperr.Newf(apperr.Configuration, "binance: quantity %.8f below min %.8f for %s", qty, info.MinQty, req.Symbol)
	}

	side := binance.SideTypeBuy
	if req.Side == models.SideSell {
		side = binance.SideTypeSell
	}
	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(decimal.NewFromFloat(qty).Round(8).String())
	if req.Price.IsPositive() {
		svc = svc.Type(binance.OrderTypeLimit).Price(req.Price.String()).TimeInForce(binance.TimeInForceTypeGTC)
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return models.OrderResult{}, classify(err)
	}
	if req.StopLoss > 0 || req.TakeProfit > 0 {
		c.log.Info("spot order has no attached stops", zap.String("symbol", req.Symbol),
			zap.Float64("sl", req.StopLoss), zap.Float64("tp", req.TakeProfit))
	}

	res := models.OrderResult{
		OrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:  strings.ToLower(string(resp.Status)),
	}
	res.FilledQty, _ = decimal.NewFromString(resp.ExecutedQuantity)
	if quote, err := decimal.NewFromString(resp.CummulativeQuoteQuantity); err == nil && res.FilledQty.IsPositive() {
		res.AvgPrice = quote.Div(res.FilledQty)
	}
	return res, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return apperr.Wrap(apperr.Configuration, "binance: bad order id", err)
	}
	_, err = c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return classify(err)
}

// GetPositions reports the free+locked base asset balance as a long spot position.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	info, err := c.symbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	acc, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	for _, b := range acc.Balances {
		if b.Asset != info.Base {
			continue
		}
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		size := free + locked
		// пыль меньше шага лота позицией не считаем
		if size < info.MinQty || size <= 0 {
			return nil, nil
		}
		return []models.Position{{
			Symbol:   symbol,
			Side:     "long",
			Size:     size,
			Leverage: 1,
			Updated:  time.UnixMilli(int64(acc.UpdateTime)).UTC(),
		}}, nil
	}
	return nil, nil
}

func (c *Client) symbol(ctx context.Context, symbol string) (symbolInfo, error) {
	c.mu.Lock()
	info, ok := c.symbols[symbol]
	c.mu.Unlock()
	if ok {
		return info, nil
	}

	ex, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return symbolInfo{}, classify(err)
	}
	var found *binance.Symbol
	for i := range ex.Symbols {
		if ex.Symbols[i].Symbol == symbol {
			found = &ex.Symbols[i]
			break
		}
	}
	if found == nil {
		return symbolInfo{}, apperr.Newf(apperr.Configuration, "binance: symbol %s not found", symbol)
	}

	info = symbolInfo{Base: found.BaseAsset}
	if lot := found.LotSizeFilter(); lot != nil {
		info.StepSize, _ = strconv.ParseFloat(lot.StepSize, 64)
		info.MinQty, _ = strconv.ParseFloat(lot.MinQuantity, 64)
	}

	c.mu.Lock()
	c.symbols[symbol] = info
	c.mu.Unlock()
	return info, nil
}

// classify maps Binance API codes onto apperr kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var api *common.APIError
	if errors.As(err, &api) {
		switch api.Code {
		case -1003, -1015:
			return apperr.Wrap(apperr.RateLimited, "binance", err)
		case -1022, -2014, -2015:
			return apperr.Wrap(apperr.Unauthorized, "binance", err)
		case -1000, -1001, -1007:
			// unknown / disconnected / timeout on their side
			return apperr.Wrap(apperr.Transient, "binance", err)
		}
		return apperr.Wrap(apperr.Unknown, "binance", err)
	}
	return apperr.Wrap(apperr.Transient, "binance", err)
}
