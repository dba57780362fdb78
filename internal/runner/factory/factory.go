package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
	"trade_supervisor/internal/risk"
	"trade_supervisor/internal/runner/sessions"
	"trade_supervisor/internal/strategy"
)

// Exchanges opens exchange clients by name.
type Exchanges interface {
	Has(name string) bool
	Open(ctx context.Context, name string) (exchange.Client, error)
}

// Strategies builds strategies by name.
type Strategies interface {
	Has(name string) bool
	New(name string, params map[string]float64) (strategy.Strategy, error)
}

// Factory validates a trader config and assembles a wired, not yet initialized session.
type Factory struct {
	exchanges    Exchanges
	strategies   Strategies
	validate     *validator.Validate
	errorHistory int
	log          *zap.Logger
}

func New(exchanges Exchanges, strategies Strategies, errorHistory int, log *zap.Logger) *Factory {
	return &Factory{
		exchanges:    exchanges,
		strategies:   strategies,
		validate:     validator.New(),
		errorHistory: errorHistory,
		log:          log.Named("factory"),
	}
}

// Validate checks struct tags and cross-field rules. It allocates nothing.
func (f *Factory) Validate(cfg models.TraderConfig) error {
	if err := f.validate.Struct(cfg); err != nil {
		return apperr.Wrap(apperr.Configuration, fmt.Sprintf("trader %q", cfg.ID), err)
	}

	var problems []string
	if !helper.ValidTimeframe(cfg.Timeframe) {
		problems = append(problems, fmt.Sprintf("unknown timeframe %q", cfg.Timeframe))
	}
	if !f.exchanges.Has(cfg.Exchange) {
		problems = append(problems, fmt.Sprintf("exchange %q is not configured", cfg.Exchange))
	}
	if !f.strategies.Has(cfg.Strategy) {
		problems = append(problems, fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	} else if _, err := f.strategies.New(cfg.Strategy, cfg.Params); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.MarketType == models.MarketSpot && cfg.Leverage > 1 {
		problems = append(problems, "spot trader cannot use leverage")
	}
	if _, err := risk.NewSizer(cfg.Risk, cfg.Leverage); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return apperr.Newf(apperr.Configuration, "trader %q: %s", cfg.ID, strings.Join(problems, "; "))
	}
	return nil
}

// Build returns a CREATED session holding an open exchange client, a strategy and a
// risk sizer. Validation happens before any resource is acquired.
func (f *Factory) Build(ctx context.Context, cfg models.TraderConfig) (*sessions.TraderSession, error) {
	if err := f.Validate(cfg); err != nil {
		return nil, err
	}

	sizer, err := risk.NewSizer(cfg.Risk, cfg.Leverage)
	if err != nil {
		return nil, err
	}

	deps := sessions.Deps{
		Validate: f.Validate,
		OpenExchange: func(ctx context.Context) (exchange.Client, error) {
			return f.exchanges.Open(ctx, cfg.Exchange)
		},
		NewStrategy: func() (strategy.Strategy, error) {
			return f.strategies.New(cfg.Strategy, cfg.Params)
		},
		Sizer:        sizer,
		ErrorHistory: f.errorHistory,
	}

	ex, err := deps.OpenExchange(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "trader %s", cfg.ID)
	}
	st, err := deps.NewStrategy()
	if err != nil {
		_ = ex.Close()
		return nil, err
	}

	f.log.Info("trader built",
		zap.String("trader_id", cfg.ID),
		zap.String("exchange", cfg.Exchange),
		zap.String("symbol", cfg.Symbol),
		zap.String("strategy", cfg.Strategy),
	)
	return sessions.New(cfg, deps, ex, st, f.log), nil
}
