package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
	"trade_supervisor/internal/runner/sessions"
)

// Builder assembles a trader session from its config.
type Builder interface {
	Build(ctx context.Context, cfg models.TraderConfig) (*sessions.TraderSession, error)
}

// Market serves candle series, fetching from src on miss.
type Market interface {
	Load(ctx context.Context, key models.SeriesKey, requiredLen int, src marketdata.CandleSource) ([]models.Candle, error)
}

// SignalGate persists a signal unless an equivalent one was accepted recently.
type SignalGate interface {
	Submit(ctx context.Context, sig models.Signal) (models.Signal, bool, error)
}

// HealthStatus of one trader. Written by the health loop and the failure handler under Manager.hmu.
type HealthStatus struct {
	IsHealthy         bool
	LastCheck         time.Time
	ConsecutiveErrors int
	ResponseTime      time.Duration
}

type trader struct {
	session *sessions.TraderSession

	// opMu serializes lifecycle operations on one trader. cancel/done/removed are guarded by it.
	opMu    sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	removed bool

	// guarded by Manager.hmu
	health HealthStatus
	halted bool // stopped on request, skipped by the health loop
	fatal  bool // force-stopped, no more recovery
}

// TraderStatus is a read-only view of one trader.
type TraderStatus struct {
	sessions.Snapshot
	Health HealthStatus
}

// Manager supervises traders: lifecycle, execution tasks, health, recovery and metrics.
type Manager struct {
	cfg     Config
	log     *zap.Logger
	builder Builder
	market  Market
	gate    SignalGate
	events  *EventBus
	stats   *stats
	now     func() time.Time

	baseCtx    context.Context
	baseCancel context.CancelFunc

	// mu guards the trader map, reservations and the trader list.
	mu       sync.Mutex
	traders  map[string]*trader
	reserved map[string]struct{}
	known    map[string]models.TraderConfig

	hmu sync.Mutex

	stateMu sync.Mutex
	state   ManagerState
	loops   sync.WaitGroup

	summaryMu sync.RWMutex
	summary   Summary
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTraders sets the trader list used by Start and by StartTrader for unknown ids.
func WithTraders(list []models.TraderConfig) Option {
	return func(m *Manager) {
		for _, c := range list {
			m.known[c.ID] = c
		}
	}
}

// WithRegisterer exports manager metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.stats = newStats(reg) }
}

func New(cfg Config, builder Builder, market Market, gate SignalGate, events *EventBus, log *zap.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg.withDefaults(),
		log:        log.Named("manager"),
		builder:    builder,
		market:     market,
		gate:       gate,
		events:     events,
		now:        time.Now,
		baseCtx:    ctx,
		baseCancel: cancel,
		traders:    make(map[string]*trader),
		reserved:   make(map[string]struct{}),
		known:      make(map[string]models.TraderConfig),
	}
	for _, o := range opts {
		o(m)
	}
	if m.stats == nil {
		m.stats = newStats(prometheus.NewRegistry())
	}
	return m
}

func (m *Manager) Events() *EventBus { return m.events }

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) get(id string) (*trader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traders[id]
	return t, ok
}

func (m *Manager) snapshot() []*trader {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*trader, 0, len(m.traders))
	for _, t := range m.traders {
		out = append(out, t)
	}
	return out
}

// reserve claims a slot for id so that concurrent creates never exceed MaxTraders.
func (m *Manager) reserve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traders[id]; ok {
		return apperr.Newf(apperr.AlreadyExists, "trader %s", id)
	}
	if _, ok := m.reserved[id]; ok {
		return apperr.Newf(apperr.AlreadyExists, "trader %s is being created", id)
	}
	if n := len(m.traders) + len(m.reserved); n >= m.cfg.MaxTraders {
		return apperr.Newf(apperr.TooManyTraders, "%d of %d traders live", n, m.cfg.MaxTraders)
	}
	m.reserved[id] = struct{}{}
	return nil
}

// CreateTrader builds and initializes a trader. On any failure nothing is registered.
func (m *Manager) CreateTrader(ctx context.Context, id string, cfg models.TraderConfig) (ts *sessions.TraderSession, err error) {
	if cfg.ID == "" {
		cfg.ID = id
	}
	if id == "" || cfg.ID != id {
		return nil, apperr.Newf(apperr.Configuration, "trader id %q does not match config id %q", id, cfg.ID)
	}
	if err := m.reserve(id); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			m.mu.Lock()
			delete(m.reserved, id)
			m.mu.Unlock()
		}
	}()

	ts, err = m.builder.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err = ts.Initialize(ctx); err != nil {
		ts.Release()
		return nil, err
	}

	m.mu.Lock()
	delete(m.reserved, id)
	m.traders[id] = &trader{
		session: ts,
		health:  HealthStatus{IsHealthy: true, LastCheck: m.now()},
	}
	m.mu.Unlock()

	m.log.Info("trader created", zap.String("trader_id", id), zap.String("symbol", cfg.Symbol))
	m.CollectMetrics()
	return ts, nil
}

// StartTrader runs a READY trader. Unknown ids are created from the trader list first.
func (m *Manager) StartTrader(ctx context.Context, id string) error {
	t, ok := m.get(id)
	if !ok {
		m.mu.Lock()
		cfg, known := m.known[id]
		m.mu.Unlock()
		if !known {
			return apperr.Newf(apperr.NotFound, "trader %s", id)
		}
		if _, err := m.CreateTrader(ctx, id, cfg); err != nil {
			return err
		}
		if t, ok = m.get(id); !ok {
			return apperr.Newf(apperr.NotFound, "trader %s", id)
		}
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.removed {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}

	switch st := t.session.State(); st {
	case sessions.StateRunning, sessions.StatePaused:
		m.log.Warn("trader already running", zap.String("trader_id", id), zap.Stringer("state", st))
		return nil
	case sessions.StateReady:
	default:
		return apperr.Newf(apperr.InvalidState, "trader %s is %s, start requires READY", id, st)
	}

	if err := t.session.Start(); err != nil {
		return err
	}
	m.launch(t)
	m.events.Publish(models.EventTraderStarted, id, traderPayload(t.session.Config))
	return nil
}

func traderPayload(cfg models.TraderConfig) map[string]any {
	return map[string]any{
		"exchange": cfg.Exchange,
		"symbol":   cfg.Symbol,
		"strategy": cfg.Strategy,
	}
}

// launch spawns the execution task. Caller holds t.opMu.
func (m *Manager) launch(t *trader) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	t.cancel, t.done = cancel, done

	m.hmu.Lock()
	t.halted = false
	m.hmu.Unlock()

	go func() {
		defer close(done)
		m.execute(ctx, t)
	}()
}

// halt cancels the execution task and waits until it exits. Caller holds t.opMu.
func (m *Manager) halt(ctx context.Context, t *trader) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
		return apperr.Newf(apperr.Timeout, "trader %s: execution task did not stop in %s", t.session.ID, m.cfg.StopTimeout)
	case <-ctx.Done():
		return apperr.Wrap(apperr.Timeout, "trader "+t.session.ID, ctx.Err())
	}
	t.cancel, t.done = nil, nil
	return nil
}

func (m *Manager) setHalted(t *trader) {
	m.hmu.Lock()
	t.halted = true
	m.hmu.Unlock()
}

// StopTrader cancels the execution task, waits for it and moves the trader to STOPPED.
func (m *Manager) StopTrader(ctx context.Context, id string) error {
	t, ok := m.get(id)
	if !ok {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.removed {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}
	return m.stopLocked(ctx, t)
}

func (m *Manager) stopLocked(ctx context.Context, t *trader) error {
	id := t.session.ID

	switch t.session.State() {
	case sessions.StateStopped:
		m.setHalted(t)
		return nil
	case sessions.StateError:
		// force-stopped or failed to initialize: nothing to transition, just make sure it is quiet
		err := m.halt(ctx, t)
		t.session.Release()
		m.setHalted(t)
		return err
	}

	if err := t.session.BeginStop(); err != nil {
		return err
	}
	if err := m.halt(ctx, t); err != nil {
		t.session.Fail(err)
		t.session.Release()
		return err
	}
	if err := t.session.CompleteStop(); err != nil {
		// the task escalated to ERROR while we were stopping it
		if t.session.State() == sessions.StateError {
			t.session.Release()
			m.setHalted(t)
			return nil
		}
		return err
	}
	m.setHalted(t)

	m.log.Info("trader stopped", zap.String("trader_id", id))
	m.events.Publish(models.EventTraderStopped, id, traderPayload(t.session.Config))
	return nil
}

// RemoveTrader stops the trader if needed and forgets it.
func (m *Manager) RemoveTrader(ctx context.Context, id string) error {
	t, ok := m.get(id)
	if !ok {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.removed {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}

	if err := m.stopLocked(ctx, t); err != nil {
		return err
	}
	t.session.Release()
	t.removed = true

	m.mu.Lock()
	delete(m.traders, id)
	m.mu.Unlock()

	m.log.Info("trader removed", zap.String("trader_id", id))
	m.CollectMetrics()
	return nil
}

// RestartTrader re-initializes a trader and runs it again. Error counters start from zero.
func (m *Manager) RestartTrader(ctx context.Context, id string) error {
	t, ok := m.get(id)
	if !ok {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if t.removed {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}

	if !t.session.State().Terminal() {
		if err := m.stopLocked(ctx, t); err != nil {
			return err
		}
	}
	if err := m.halt(ctx, t); err != nil {
		return err
	}

	t.session.ResetErrorCount()
	m.hmu.Lock()
	t.fatal = false
	t.health.ConsecutiveErrors = 0
	t.health.IsHealthy = true
	m.hmu.Unlock()

	if err := t.session.Initialize(ctx); err != nil {
		return err
	}
	if err := t.session.Start(); err != nil {
		return err
	}
	m.launch(t)

	payload := traderPayload(t.session.Config)
	payload["restart"] = true
	m.events.Publish(models.EventTraderStarted, id, payload)
	return nil
}

// PauseTrader keeps the execution task alive but makes it skip work.
func (m *Manager) PauseTrader(id string) error {
	t, ok := m.get(id)
	if !ok {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if err := t.session.Pause(); err != nil {
		return err
	}
	m.log.Info("trader paused", zap.String("trader_id", id))
	return nil
}

func (m *Manager) ResumeTrader(id string) error {
	t, ok := m.get(id)
	if !ok {
		return apperr.Newf(apperr.NotFound, "trader %s", id)
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()
	if err := t.session.Resume(); err != nil {
		return err
	}
	m.log.Info("trader resumed", zap.String("trader_id", id))
	return nil
}

func (m *Manager) status(t *trader) TraderStatus {
	m.hmu.Lock()
	h := t.health
	m.hmu.Unlock()
	return TraderStatus{Snapshot: t.session.Snapshot(), Health: h}
}

func (m *Manager) Status(id string) (TraderStatus, error) {
	t, ok := m.get(id)
	if !ok {
		return TraderStatus{}, apperr.Newf(apperr.NotFound, "trader %s", id)
	}
	return m.status(t), nil
}

// List returns every live trader ordered by id.
func (m *Manager) List() []TraderStatus {
	ts := m.snapshot()
	out := make([]TraderStatus, 0, len(ts))
	for _, t := range ts {
		out = append(out, m.status(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// State of the manager itself.
func (m *Manager) State() ManagerState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Manager) transition(to ManagerState) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if !canManagerTransition(m.state, to) {
		return apperr.Newf(apperr.InvalidState, "manager: %s -> %s not allowed", m.state, to)
	}
	m.log.Info("manager state", zap.Stringer("from", m.state), zap.Stringer("to", to))
	m.state = to
	return nil
}

// Start launches the health and metrics loops and auto-starts enabled traders from the list.
// A trader that fails to start is logged and skipped.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.transition(ManagerInitializing); err != nil {
		return err
	}

	m.loops.Add(2)
	go func() {
		defer m.loops.Done()
		m.runHealth(m.baseCtx)
	}()
	go func() {
		defer m.loops.Done()
		m.runMetrics(m.baseCtx)
	}()

	m.mu.Lock()
	list := make([]models.TraderConfig, 0, len(m.known))
	for _, c := range m.known {
		list = append(list, c)
	}
	m.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	for _, c := range list {
		if !c.Enabled {
			continue
		}
		if err := m.StartTrader(ctx, c.ID); err != nil {
			m.log.Error("auto-start failed", zap.String("trader_id", c.ID), zap.Error(err))
		}
	}
	return m.transition(ManagerRunning)
}

// Shutdown stops every trader and the background loops.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.transition(ManagerStopping); err != nil {
		return err
	}

	var errs error
	for _, t := range m.snapshot() {
		t.opMu.Lock()
		if !t.removed {
			errs = multierr.Append(errs, m.stopLocked(ctx, t))
			t.session.Release()
		}
		t.opMu.Unlock()
	}
	m.baseCancel()

	waited := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = multierr.Append(errs, apperr.Wrap(apperr.Timeout, "manager loops", ctx.Err()))
	}

	if errs != nil {
		m.log.Error("shutdown finished with errors", zap.Error(errs))
	}
	if err := m.transition(ManagerStopped); err != nil {
		return multierr.Append(errs, err)
	}
	return errs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
