package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/exchange/exchangetest"
	"trade_supervisor/internal/models"
	"trade_supervisor/internal/ratelimit"
	"trade_supervisor/internal/runner/sessions"
	"trade_supervisor/internal/strategy"
)

type FactoryTestSuite struct {
	suite.Suite
	opened  int
	openErr error
	f       *Factory
}

func TestFactoryTestSuite(t *testing.T) {
	suite.Run(t, new(FactoryTestSuite))
}

func (s *FactoryTestSuite) SetupTest() {
	s.opened = 0
	s.openErr = nil
	reg := exchange.NewRegistry(ratelimit.New(ratelimit.Config{RetryDelay: time.Millisecond}, zap.NewNop()), zap.NewNop())
	reg.Register("okx", func(context.Context) (exchange.Client, error) {
		if s.openErr != nil {
			return nil, s.openErr
		}
		s.opened++
		return exchangetest.NewFake("okx"), nil
	})
	s.f = New(reg, strategy.NewDefaultRegistry(), 10, zap.NewNop())
}

func validConfig() models.TraderConfig {
	return models.TraderConfig{
		ID:         "t1",
		Exchange:   "okx",
		Strategy:   strategy.NameEMACross,
		Symbol:     "BTC-USDT-SWAP",
		MarketType: models.MarketSwap,
		Timeframe:  "15m",
		Leverage:   10,
		Risk:       models.RiskParams{Capital: 1000, RiskPct: 1, StopPct: 0.5},
		Enabled:    true,
	}
}

func (s *FactoryTestSuite) TestBuildValid() {
	ts, err := s.f.Build(context.Background(), validConfig())
	s.Require().NoError(err)
	s.Equal(sessions.StateCreated, ts.State())
	s.NotNil(ts.Exchange())
	s.NotNil(ts.Strategy())
	s.NotNil(ts.Sizer())
	s.Equal(1, s.opened)

	s.Require().NoError(ts.Initialize(context.Background()))
	s.Equal(sessions.StateReady, ts.State())
	s.Equal(1, s.opened, "initialize reuses the built handle")
}

func (s *FactoryTestSuite) TestInvalidConfigsAllocateNothing() {
	cases := map[string]func(*models.TraderConfig){
		"missing symbol":   func(c *models.TraderConfig) { c.Symbol = "" },
		"bad market type":  func(c *models.TraderConfig) { c.MarketType = "options" },
		"leverage too big": func(c *models.TraderConfig) { c.Leverage = 500 },
		"zero capital":     func(c *models.TraderConfig) { c.Risk.Capital = 0 },
		"unknown exchange": func(c *models.TraderConfig) { c.Exchange = "kraken" },
		"unknown strategy": func(c *models.TraderConfig) { c.Strategy = "martingale" },
		"bad params":       func(c *models.TraderConfig) { c.Params = map[string]float64{"fast": 50, "slow": 5} },
		"bad timeframe":    func(c *models.TraderConfig) { c.Timeframe = "7m" },
		"leveraged spot": func(c *models.TraderConfig) {
			c.MarketType = models.MarketSpot
			c.Leverage = 3
		},
	}

	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		_, err := s.f.Build(context.Background(), cfg)
		s.Require().Error(err, name)
		s.True(apperr.Is(err, apperr.Configuration), name)
	}
	s.Equal(0, s.opened)
}

func (s *FactoryTestSuite) TestExchangeOpenFailure() {
	s.openErr = errors.New("dial tcp: refused")
	_, err := s.f.Build(context.Background(), validConfig())
	s.Require().Error(err)
	s.Contains(err.Error(), "refused")
}
