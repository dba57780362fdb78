package models

type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
	MarketSwap    MarketType = "swap"
)

// TraderConfig is the per-trader configuration. Immutable once a trader context is built.
type TraderConfig struct {
	ID         string             `yaml:"id" validate:"required,max=64"`
	Exchange   string             `yaml:"exchange" validate:"required"`
	Strategy   string             `yaml:"strategy" validate:"required"`
	Symbol     string             `yaml:"symbol" validate:"required"`
	MarketType MarketType         `yaml:"market_type" validate:"required,oneof=spot futures swap"`
	Timeframe  string             `yaml:"timeframe" validate:"required"`
	Leverage   int                `yaml:"leverage" validate:"gte=1,lte=125"`
	Risk       RiskParams         `yaml:"risk"`
	Params     map[string]float64 `yaml:"params"`
	Enabled    bool               `yaml:"enabled"`
}

// RiskParams sizes positions. Percentages are in percent (1.0 => 1%).
type RiskParams struct {
	Capital          float64 `yaml:"capital" validate:"gt=0"` // USDT, выделенные трейдеру
	RiskPct          float64 `yaml:"risk_pct" validate:"gt=0,lte=100"`
	StopPct          float64 `yaml:"stop_pct" validate:"gt=0,lt=100"`
	TakeProfitRR     float64 `yaml:"take_profit_rr" validate:"gte=0"`
	MaxOpenPositions int     `yaml:"max_open_positions" validate:"gte=0"`
	LotStep          float64 `yaml:"lot_step" validate:"gte=0"`
}
