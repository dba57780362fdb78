package service

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
)

// okx отдаёт не больше 300 свечей за запрос
const candlesPage = 300

// GetCandles returns up to limit bars in ascending time order. The last bar may be
// still forming.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	bar, err := helper.OKXBar(interval)
	if err != nil {
		return nil, apperr.Wrap(apperr.Configuration, "okx candles", err)
	}
	if limit <= 0 {
		limit = 100
	}

	out := make([]models.Candle, 0, limit)
	after := ""
	for len(out) < limit {
		page := min(limit-len(out), candlesPage)
		q := url.Values{}
		q.Set("instId", symbol)
		q.Set("bar", bar)
		q.Set("limit", strconv.Itoa(page))
		if after != "" {
			q.Set("after", after)
		}

		rows, err := call[[]string](ctx, c, http.MethodGet, "/api/v5/market/candles", q, nil, false)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		// newest first
		for _, row := range rows {
			cd, err := parseCandleRow(row)
			if err != nil {
				return nil, errors.Wrapf(err, "okx candles %s", symbol)
			}
			out = append(out, cd)
		}
		after = rows[len(rows)-1][0]
		if len(rows) < page {
			break
		}
	}

	slices.Reverse(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// parseCandleRow parses [ts,o,h,l,c,vol,volCcy,volCcyQuote,confirm].
func parseCandleRow(row []string) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, errors.Errorf("short candle row: %v", row)
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, errors.Wrap(err, "ts")
	}
	var f [5]float64
	for i := range f {
		f[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return models.Candle{}, errors.Wrapf(err, "field %d", i+1)
		}
	}
	cd := models.Candle{
		Timestamp: time.UnixMilli(ms).UTC(),
		Open:      f[0],
		High:      f[1],
		Low:       f[2],
		Close:     f[3],
		Volume:    f[4],
	}
	if len(row) > 7 {
		cd.QuoteVolume, _ = strconv.ParseFloat(row[7], 64)
	}
	return cd, nil
}

// ParseCandleRow is shared with the websocket stream, which pushes the same row layout.
func ParseCandleRow(row []string) (models.Candle, bool, error) {
	cd, err := parseCandleRow(row)
	if err != nil {
		return models.Candle{}, false, err
	}
	confirmed := len(row) > 8 && row[8] == "1"
	return cd, confirmed, nil
}
