package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

type instrumentRow struct {
	InstID string `json:"instId"`
	TickSz string `json:"tickSz"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	CtVal  string `json:"ctVal"`
	CtMult string `json:"ctMult"`
	State  string `json:"state"`
}

type instrument struct {
	ID     string
	LotSz  float64
	MinSz  float64
	TickSz float64
	// 0 for spot: size is in base currency
	CtVal float64
}

func instType(mt models.MarketType) string {
	switch mt {
	case models.MarketSwap:
		return "SWAP"
	case models.MarketFutures:
		return "FUTURES"
	}
	return "SPOT"
}

// instrument loads lot/tick sizes once per instId.
func (c *Client) instrument(ctx context.Context, instID string, mt models.MarketType) (instrument, error) {
	c.mu.Lock()
	inst, ok := c.insts[instID]
	c.mu.Unlock()
	if ok {
		return inst, nil
	}

	q := url.Values{}
	q.Set("instType", instType(mt))
	q.Set("instId", instID)
	rows, err := call[instrumentRow](ctx, c, http.MethodGet, "/api/v5/public/instruments", q, nil, false)
	if err != nil {
		return instrument{}, err
	}
	if len(rows) == 0 {
		return instrument{}, apperr.Newf(apperr.Configuration, "okx instrument %s not found", instID)
	}
	row := rows[0]
	if row.State != "" && row.State != "live" {
		return instrument{}, apperr.Newf(apperr.InvalidState, "okx instrument %s is %s", instID, row.State)
	}

	inst = instrument{ID: row.InstID}
	inst.LotSz, _ = strconv.ParseFloat(row.LotSz, 64)
	inst.MinSz, _ = strconv.ParseFloat(row.MinSz, 64)
	inst.TickSz, _ = strconv.ParseFloat(row.TickSz, 64)
	if mt != models.MarketSpot {
		ctVal, err := strconv.ParseFloat(row.CtVal, 64)
		if err != nil || ctVal <= 0 {
			return instrument{}, apperr.Newf(apperr.Configuration, "okx instrument %s: bad ctVal %q", instID, row.CtVal)
		}
		mult := 1.0
		if v, err := strconv.ParseFloat(row.CtMult, 64); err == nil && v > 0 {
			mult = v
		}
		inst.CtVal = ctVal * mult
	}

	c.mu.Lock()
	c.insts[instID] = inst
	c.mu.Unlock()
	return inst, nil
}
