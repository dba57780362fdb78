package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal // zero means market
	ClientOrderID string
	MarketType    MarketType
	Leverage      int
	// zero means no protective order
	StopLoss   float64
	TakeProfit float64
}

type OrderResult struct {
	OrderID   string
	Status    string
	FilledQty decimal.Decimal
	AvgPrice  decimal.Decimal
}

type Position struct {
	Symbol        string
	Side          string // long/short
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
	Updated       time.Time
}
