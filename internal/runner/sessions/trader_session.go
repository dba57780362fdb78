package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/exchange"
	"trade_supervisor/internal/models"
	"trade_supervisor/internal/risk"
	"trade_supervisor/internal/strategy"
)

// Deps are the builders a session uses to (re)acquire its resources.
type Deps struct {
	Validate     func(models.TraderConfig) error
	OpenExchange func(ctx context.Context) (exchange.Client, error)
	NewStrategy  func() (strategy.Strategy, error)
	Sizer        *risk.Sizer
	ErrorHistory int
	Now          func() time.Time
}

// TraderSession is the isolated state of one trader: its FSM, config, metrics and the
// exchange/strategy handles it owns. Every mutating method is serialized on mu.
type TraderSession struct {
	ID     string
	Config models.TraderConfig

	log  *zap.Logger
	deps Deps
	now  func() time.Time

	mu        sync.Mutex
	state     State
	exchange  exchange.Client
	strategy  strategy.Strategy
	errs      errorRing
	errCount  int64
	metrics   Metrics
	createdAt time.Time
	startedAt time.Time
	lastErr   string
}

// New builds a CREATED session. Resources may be pre-opened; missing ones are acquired
// by Initialize.
func New(cfg models.TraderConfig, deps Deps, ex exchange.Client, st strategy.Strategy, log *zap.Logger) *TraderSession {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if deps.ErrorHistory <= 0 {
		deps.ErrorHistory = 100
	}
	return &TraderSession{
		ID:        cfg.ID,
		Config:    cfg,
		log:       log.With(zap.String("trader_id", cfg.ID)),
		deps:      deps,
		now:       now,
		state:     StateCreated,
		exchange:  ex,
		strategy:  st,
		errs:      newErrorRing(deps.ErrorHistory),
		metrics:   Metrics{PnL: decimal.Zero},
		createdAt: now(),
	}
}

func (s *TraderSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transitionLocked applies one FSM edge; illegal edges are rejected with InvalidState.
func (s *TraderSession) transitionLocked(to State) error {
	if !CanTransition(s.state, to) {
		return apperr.Newf(apperr.InvalidState, "trader %s: %s -> %s not allowed", s.ID, s.state, to)
	}
	s.log.Info("state", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
	return nil
}

// Initialize validates the config and acquires missing resources: CREATED, STOPPED or
// ERROR -> INITIALIZING -> READY. An invalid config moves the session to ERROR and
// returns a Configuration error, which is never retried.
func (s *TraderSession) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if err := s.transitionLocked(StateInitializing); err != nil {
		s.mu.Unlock()
		return err
	}
	ex, st := s.exchange, s.strategy
	s.mu.Unlock()

	fail := func(err error) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.addErrorLocked(err)
		_ = s.transitionLocked(StateError)
		return err
	}

	if s.deps.Validate != nil {
		if err := s.deps.Validate(s.Config); err != nil {
			if !apperr.Is(err, apperr.Configuration) {
				err = apperr.Wrap(apperr.Configuration, "invalid trader config", err)
			}
			return fail(err)
		}
	}

	if ex == nil {
		if s.deps.OpenExchange == nil {
			return fail(apperr.Newf(apperr.Configuration, "trader %s: no exchange", s.ID))
		}
		var err error
		if ex, err = s.deps.OpenExchange(ctx); err != nil {
			return fail(errors.Wrap(err, "open exchange"))
		}
	}
	if st == nil {
		if s.deps.NewStrategy == nil {
			_ = ex.Close()
			return fail(apperr.Newf(apperr.Configuration, "trader %s: no strategy", s.ID))
		}
		var err error
		if st, err = s.deps.NewStrategy(); err != nil {
			_ = ex.Close()
			return fail(err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchange, s.strategy = ex, st
	return s.transitionLocked(StateReady)
}

// Start moves READY -> RUNNING.
func (s *TraderSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return apperr.Newf(apperr.InvalidState, "trader %s: start requires READY, is %s", s.ID, s.state)
	}
	s.startedAt = s.now()
	return s.transitionLocked(StateRunning)
}

func (s *TraderSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StatePaused)
}

func (s *TraderSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return apperr.Newf(apperr.InvalidState, "trader %s: resume requires PAUSED, is %s", s.ID, s.state)
	}
	return s.transitionLocked(StateRunning)
}

// BeginStop moves READY, RUNNING or PAUSED to STOPPING.
func (s *TraderSession) BeginStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(StateStopping)
}

// CompleteStop moves STOPPING -> STOPPED and releases the exchange and strategy.
func (s *TraderSession) CompleteStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StateStopped); err != nil {
		return err
	}
	s.releaseLocked()
	return nil
}

// Fail records err and moves to ERROR. Resources are kept until Release.
func (s *TraderSession) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addErrorLocked(err)
	if s.state != StateError {
		_ = s.transitionLocked(StateError)
	}
}

// Release closes the exchange handle and drops the strategy.
func (s *TraderSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *TraderSession) releaseLocked() {
	if s.exchange != nil {
		if err := s.exchange.Close(); err != nil {
			s.log.Warn("close exchange", zap.Error(err))
		}
		s.exchange = nil
	}
	s.strategy = nil
}

// AddError appends to the bounded history and bumps the error counter.
func (s *TraderSession) AddError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addErrorLocked(err)
}

func (s *TraderSession) addErrorLocked(err error) {
	if err == nil {
		return
	}
	s.errs.add(ErrorRecord{At: s.now(), Message: err.Error()})
	s.errCount++
	s.metrics.Errors++
	s.lastErr = err.Error()
}

// Errors returns the retained history, oldest first.
func (s *TraderSession) Errors() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs.list()
}

// ErrorCount is the total number of errors ever recorded, not just the retained ones.
func (s *TraderSession) ErrorCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCount
}

// ResetErrorCount zeroes the counter used by health checks; the history is kept.
func (s *TraderSession) ResetErrorCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errCount = 0
}

// RecordTrade counts one execution attempt.
func (s *TraderSession) RecordTrade(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TradesTotal++
	if !ok {
		s.metrics.TradesFailed++
		return
	}
	s.metrics.TradesSucceeded++
	s.metrics.LastTradeAt = s.now()
}

// RecordClose adds the realized PnL of a trade that closed or reduced a position.
func (s *TraderSession) RecordClose(pnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Closed++
	if pnl.IsPositive() {
		s.metrics.Wins++
	}
	s.metrics.PnL = s.metrics.PnL.Add(pnl)
}

func (s *TraderSession) RecordSignal() {
	s.mu.Lock()
	s.metrics.Signals++
	s.mu.Unlock()
}

func (s *TraderSession) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *TraderSession) Exchange() exchange.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchange
}

func (s *TraderSession) Strategy() strategy.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

func (s *TraderSession) Sizer() *risk.Sizer { return s.deps.Sizer }

// Reconnect replaces the exchange handle with a fresh, pinged one. The old handle is
// closed only after the new one works.
func (s *TraderSession) Reconnect(ctx context.Context) error {
	if s.deps.OpenExchange == nil {
		return apperr.Newf(apperr.Configuration, "trader %s: cannot reopen exchange", s.ID)
	}
	ex, err := s.deps.OpenExchange(ctx)
	if err != nil {
		return errors.Wrap(err, "reopen exchange")
	}
	if err := ex.Ping(ctx); err != nil {
		_ = ex.Close()
		return errors.Wrap(err, "ping exchange")
	}

	s.mu.Lock()
	old := s.exchange
	s.exchange = ex
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// ResetStrategy clears strategy state after a failure.
func (s *TraderSession) ResetStrategy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strategy != nil {
		s.strategy.Reset()
	}
}

// Snapshot is a read-only view for status endpoints.
type Snapshot struct {
	ID         string
	Exchange   string
	Symbol     string
	Strategy   string
	Timeframe  string
	State      State
	Metrics    Metrics
	ErrorCount int64
	LastError  string
	CreatedAt  time.Time
	StartedAt  time.Time
}

func (s *TraderSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.ID,
		Exchange:   s.Config.Exchange,
		Symbol:     s.Config.Symbol,
		Strategy:   s.Config.Strategy,
		Timeframe:  s.Config.Timeframe,
		State:      s.state,
		Metrics:    s.metrics,
		ErrorCount: s.errCount,
		LastError:  s.lastErr,
		CreatedAt:  s.createdAt,
		StartedAt:  s.startedAt,
	}
}
