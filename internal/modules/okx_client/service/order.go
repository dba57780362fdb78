package service

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
)

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type attachAlgo struct {
	TpTriggerPx string `json:"tpTriggerPx,omitempty"`
	TpOrdPx     string `json:"tpOrdPx,omitempty"`
	SlTriggerPx string `json:"slTriggerPx,omitempty"`
	SlOrdPx     string `json:"slOrdPx,omitempty"`
}

type orderBody struct {
	InstID         string       `json:"instId"`
	TdMode         string       `json:"tdMode"`
	Side           string       `json:"side"`
	OrdType        string       `json:"ordType"`
	Sz             string       `json:"sz"`
	Px             string       `json:"px,omitempty"`
	ClOrdID        string       `json:"clOrdId,omitempty"`
	TgtCcy         string       `json:"tgtCcy,omitempty"`
	AttachAlgoOrds []attachAlgo `json:"attachAlgoOrds,omitempty"`
}

func tdMode(mt models.MarketType) string {
	if mt == models.MarketSpot {
		return "cash"
	}
	return "cross"
}

// округление убирает хвосты вида 0.30000000000000004
func formatFloat(v float64) string { return decimal.NewFromFloat(v).Round(10).String() }

// PlaceOrder sends a market (or limit, when Price is set) order. Derivatives are sized
// in contracts; stop-loss and take-profit ride along as attached algo orders.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	if !req.Quantity.IsPositive() {
		return models.OrderResult{}, apperr.New(apperr.Configuration, "okx order: quantity must be positive")
	}
	inst, err := c.instrument(ctx, req.Symbol, req.MarketType)
	if err != nil {
		return models.OrderResult{}, err
	}

	qty := req.Quantity.InexactFloat64()
	sz := qty
	if inst.CtVal > 0 {
		sz = qty / inst.CtVal
	}
	sz = helper.RoundDownToStep(sz, inst.LotSz)
	if sz <= 0 || sz < inst.MinSz {
		return models.OrderResult{}, apperr.Newf(apperr.Configuration,
			"okx order: size %.8f below min %.8f for %s", sz, inst.MinSz, req.Symbol)
	}

	if req.MarketType != models.MarketSpot && req.Leverage > 0 {
		if err := c.ensureLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			return models.OrderResult{}, err
		}
	}

	body := orderBody{
		InstID:  req.Symbol,
		TdMode:  tdMode(req.MarketType),
		Side:    lower(string(req.Side)),
		OrdType: "market",
		Sz:      formatFloat(sz),
		ClOrdID: req.ClientOrderID,
	}
	if req.Price.IsPositive() {
		body.OrdType = "limit"
		body.Px = req.Price.String()
	}
	if req.MarketType == models.MarketSpot {
		body.TgtCcy = "base_ccy"
	}
	if req.StopLoss > 0 || req.TakeProfit > 0 {
		var a attachAlgo
		if req.TakeProfit > 0 {
			a.TpTriggerPx = formatFloat(helper.RoundDownToStep(req.TakeProfit, inst.TickSz))
			a.TpOrdPx = "-1"
		}
		if req.StopLoss > 0 {
			a.SlTriggerPx = formatFloat(helper.RoundDownToStep(req.StopLoss, inst.TickSz))
			a.SlOrdPx = "-1"
		}
		body.AttachAlgoOrds = []attachAlgo{a}
	}

	acks, err := call[orderAck](ctx, c, http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return models.OrderResult{}, err
	}
	if len(acks) == 0 {
		return models.OrderResult{}, apperr.New(apperr.Unknown, "okx order: empty response")
	}
	if ack := acks[0]; ack.SCode != "" && ack.SCode != "0" {
		return models.OrderResult{}, codeError(ack.SCode, ack.SMsg)
	}

	c.log.Debug("order accepted", zap.String("inst_id", req.Symbol), zap.String("ord_id", acks[0].OrdID), zap.String("sz", body.Sz))
	return models.OrderResult{
		OrderID:   acks[0].OrdID,
		Status:    "accepted",
		FilledQty: decimal.Zero,
		AvgPrice:  decimal.Zero,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]string{"instId": symbol, "ordId": orderID}
	acks, err := call[orderAck](ctx, c, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true)
	if err != nil {
		return err
	}
	if len(acks) > 0 && acks[0].SCode != "" && acks[0].SCode != "0" {
		return codeError(acks[0].SCode, acks[0].SMsg)
	}
	return nil
}

// ensureLeverage sets cross leverage once per instrument.
func (c *Client) ensureLeverage(ctx context.Context, instID string, lever int) error {
	c.mu.Lock()
	cur := c.levers[instID]
	c.mu.Unlock()
	if cur == lever {
		return nil
	}

	body := map[string]string{"instId": instID, "lever": strconv.Itoa(lever), "mgnMode": "cross"}
	if _, err := call[map[string]string](ctx, c, http.MethodPost, "/api/v5/account/set-leverage", nil, body, true); err != nil {
		return err
	}

	c.mu.Lock()
	c.levers[instID] = lever
	c.mu.Unlock()
	return nil
}
