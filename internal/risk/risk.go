package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
)

const defaultRR = 2.0

// Plan is a sized order derived from a signal.
type Plan struct {
	Side       models.Side
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Quantity   decimal.Decimal
	RiskAmount float64
}

// Sizer sizes positions so that hitting the stop loses RiskPct of the trader's capital,
// capped by what the capital can margin at the configured leverage.
type Sizer struct {
	p        models.RiskParams
	leverage float64
}

func NewSizer(p models.RiskParams, leverage int) (*Sizer, error) {
	if p.Capital <= 0 {
		return nil, apperr.New(apperr.Configuration, "risk: capital must be > 0")
	}
	if p.RiskPct <= 0 || p.RiskPct > 100 {
		return nil, apperr.Newf(apperr.Configuration, "risk: risk_pct %.4f out of (0,100]", p.RiskPct)
	}
	if p.StopPct <= 0 || p.StopPct >= 100 {
		return nil, apperr.Newf(apperr.Configuration, "risk: stop_pct %.4f out of (0,100)", p.StopPct)
	}
	if leverage <= 0 {
		leverage = 1
	}
	return &Sizer{p: p, leverage: float64(leverage)}, nil
}

func (s *Sizer) Params() models.RiskParams { return s.p }

// Plan computes stop, take profit and quantity. A positive stopHint on the right side of
// entry overrides the configured stop distance.
func (s *Sizer) Plan(side models.Side, entry, stopHint float64) (Plan, error) {
	if side != models.SideBuy && side != models.SideSell {
		return Plan{}, apperr.Newf(apperr.InvalidState, "risk: unknown side %q", side)
	}
	if entry <= 0 {
		return Plan{}, apperr.New(apperr.InvalidState, "risk: entry <= 0")
	}

	dir := 1.0
	if side == models.SideSell {
		dir = -1.0
	}

	stop := entry * (1 - dir*s.p.StopPct/100)
	if stopHint > 0 && dir*(entry-stopHint) > 0 {
		stop = stopHint
	}
	dist := math.Abs(entry - stop)

	rr := s.p.TakeProfitRR
	if rr <= 0 {
		rr = defaultRR
	}
	tp := entry + dir*rr*dist

	riskAmt := s.p.Capital * s.p.RiskPct / 100
	byRisk := riskAmt / dist
	byMargin := s.p.Capital * s.leverage / entry
	qty := math.Min(byRisk, byMargin)
	if s.p.LotStep > 0 {
		qty = helper.RoundDownToStep(qty, s.p.LotStep)
	}
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return Plan{}, apperr.Newf(apperr.InvalidState, "risk: quantity %.8f after rounding", qty)
	}

	return Plan{
		Side:       side,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: tp,
		Quantity:   decimal.NewFromFloat(qty),
		RiskAmount: math.Min(riskAmt, qty*dist),
	}, nil
}
