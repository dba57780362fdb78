package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trade_supervisor/internal/models"
)

type positionRow struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	MarkPx  string `json:"markPx"`
	Upl     string `json:"upl"`
	Lever   string `json:"lever"`
	UTime   string `json:"uTime"`
}

func (c *Client) GetPositions(ctx context.Context, symbol string) ([]models.Position, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("instId", symbol)
	}
	rows, err := call[positionRow](ctx, c, http.MethodGet, "/api/v5/account/positions", q, nil, true)
	if err != nil {
		return nil, err
	}

	out := make([]models.Position, 0, len(rows))
	for _, r := range rows {
		p := models.Position{Symbol: r.InstID, Side: r.PosSide}
		p.Size, _ = strconv.ParseFloat(r.Pos, 64)
		p.EntryPrice, _ = strconv.ParseFloat(r.AvgPx, 64)
		p.MarkPrice, _ = strconv.ParseFloat(r.MarkPx, 64)
		p.UnrealizedPnL, _ = strconv.ParseFloat(r.Upl, 64)
		if lv, err := strconv.ParseFloat(r.Lever, 64); err == nil {
			p.Leverage = int(lv)
		}
		if ms, err := strconv.ParseInt(r.UTime, 10, 64); err == nil {
			p.Updated = time.UnixMilli(ms).UTC()
		}
		// net mode: знак pos задаёт направление
		if p.Side == "" || p.Side == "net" {
			switch {
			case p.Size > 0:
				p.Side = "long"
			case p.Size < 0:
				p.Side = "short"
			}
		}
		out = append(out, p)
	}
	return out, nil
}
