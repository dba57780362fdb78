package runner

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Summary aggregates all traders.
type Summary struct {
	Traders         int
	ByState         map[string]int
	TradesTotal     int64
	TradesSucceeded int64
	TradesFailed    int64
	Closed          int64
	Wins            int64
	Errors          int64
	Signals         int64
	PnL             decimal.Decimal
	AvgResponseTime time.Duration
	UpdatedAt       time.Time
}

// WinRate is wins over closing trades across all traders.
func (s Summary) WinRate() float64 {
	if s.Closed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Closed)
}

type stats struct {
	traders      *prometheus.GaugeVec
	trades       *prometheus.GaugeVec
	errors       *prometheus.GaugeVec
	pnl          *prometheus.GaugeVec
	winRate      *prometheus.GaugeVec
	responseTime *prometheus.GaugeVec
	signals      *prometheus.CounterVec
	forcedStops  prometheus.Counter
}

func newStats(reg prometheus.Registerer) *stats {
	s := &stats{
		traders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_traders",
			Help: "Traders by state",
		}, []string{"state"}),
		trades: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_trader_trades",
			Help: "Trades per trader by result (total|succeeded|failed)",
		}, []string{"trader_id", "result"}),
		errors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_trader_errors",
			Help: "Errors recorded per trader",
		}, []string{"trader_id"}),
		pnl: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_trader_pnl",
			Help: "Realized PnL per trader",
		}, []string{"trader_id"}),
		winRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_trader_win_rate",
			Help: "Share of position-closing trades with positive PnL",
		}, []string{"trader_id"}),
		responseTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "supervisor_trader_health_response_seconds",
			Help: "Duration of the last health check",
		}, []string{"trader_id"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supervisor_signals_accepted_total",
			Help: "Signals accepted by deduplication",
		}, []string{"trader_id", "side"}),
		forcedStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supervisor_forced_stops_total",
			Help: "Traders force-stopped after repeated failures",
		}),
	}
	reg.MustRegister(s.traders, s.trades, s.errors, s.pnl, s.winRate, s.responseTime, s.signals, s.forcedStops)
	return s
}

func (m *Manager) runMetrics(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CollectMetrics()
		}
	}
}

// CollectMetrics rebuilds the summary from trader snapshots and refreshes the gauges.
func (m *Manager) CollectMetrics() Summary {
	sum := Summary{ByState: make(map[string]int), PnL: decimal.Zero, UpdatedAt: m.now()}

	m.stats.traders.Reset()
	m.stats.trades.Reset()
	m.stats.errors.Reset()
	m.stats.pnl.Reset()
	m.stats.winRate.Reset()
	m.stats.responseTime.Reset()

	var rtTotal time.Duration
	var rtCount int
	for _, st := range m.List() {
		met := st.Metrics
		sum.Traders++
		sum.ByState[st.State.String()]++
		sum.TradesTotal += met.TradesTotal
		sum.TradesSucceeded += met.TradesSucceeded
		sum.TradesFailed += met.TradesFailed
		sum.Closed += met.Closed
		sum.Wins += met.Wins
		sum.Errors += st.ErrorCount
		sum.Signals += met.Signals
		sum.PnL = sum.PnL.Add(met.PnL)
		if st.Health.ResponseTime > 0 {
			rtTotal += st.Health.ResponseTime
			rtCount++
		}

		m.stats.trades.WithLabelValues(st.ID, "total").Set(float64(met.TradesTotal))
		m.stats.trades.WithLabelValues(st.ID, "succeeded").Set(float64(met.TradesSucceeded))
		m.stats.trades.WithLabelValues(st.ID, "failed").Set(float64(met.TradesFailed))
		m.stats.errors.WithLabelValues(st.ID).Set(float64(st.ErrorCount))
		m.stats.pnl.WithLabelValues(st.ID).Set(met.PnL.InexactFloat64())
		m.stats.winRate.WithLabelValues(st.ID).Set(met.WinRate())
		m.stats.responseTime.WithLabelValues(st.ID).Set(st.Health.ResponseTime.Seconds())
	}
	for state, n := range sum.ByState {
		m.stats.traders.WithLabelValues(state).Set(float64(n))
	}
	if rtCount > 0 {
		sum.AvgResponseTime = rtTotal / time.Duration(rtCount)
	}

	m.summaryMu.Lock()
	m.summary = sum
	m.summaryMu.Unlock()
	return sum
}

// Summary returns the last aggregate built by the metrics loop.
func (m *Manager) Summary() Summary {
	m.summaryMu.RLock()
	defer m.summaryMu.RUnlock()
	return m.summary
}
