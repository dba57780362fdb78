package models

import "time"

// Candle is one OHLCV bar. Timestamp is the bar open time.
type Candle struct {
	Timestamp   time.Time `json:"ts"`
	Open        float64   `json:"o"`
	High        float64   `json:"h"`
	Low         float64   `json:"l"`
	Close       float64   `json:"c"`
	Volume      float64   `json:"v"`
	QuoteVolume float64   `json:"qv"`
}

// End returns the moment the bar's window closes for the given timeframe length.
func (c Candle) End(tf time.Duration) time.Time {
	return c.Timestamp.Add(tf)
}

// SeriesKey identifies one cached candle series.
type SeriesKey struct {
	Exchange string
	Symbol   string
	Interval string
}

func (k SeriesKey) String() string {
	return k.Exchange + ":" + k.Symbol + ":" + k.Interval
}
