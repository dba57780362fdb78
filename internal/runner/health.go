package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade_supervisor/internal/models"
	"trade_supervisor/internal/runner/sessions"
)

const healthParallel = 8

func (m *Manager) runHealth(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}

// CheckHealth inspects every supervised trader once. Each check has its own timeout,
// so one stuck trader does not hold up the rest.
func (m *Manager) CheckHealth(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(healthParallel)
	for _, t := range m.snapshot() {
		g.Go(func() error {
			m.checkOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) checkOne(ctx context.Context, t *trader) {
	m.hmu.Lock()
	halted := t.halted
	m.hmu.Unlock()
	if halted {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.HealthCheckTimeout)
	defer cancel()

	started := time.Now()
	healthy, reason := m.assess(cctx, t)
	elapsed := time.Since(started)

	m.hmu.Lock()
	h := &t.health
	h.LastCheck = m.now()
	h.ResponseTime = elapsed
	h.IsHealthy = healthy
	if healthy {
		h.ConsecutiveErrors = 0
	} else {
		h.ConsecutiveErrors++
	}
	n := h.ConsecutiveErrors
	m.hmu.Unlock()

	if healthy {
		return
	}
	m.log.Warn("health check failed",
		zap.String("trader_id", t.session.ID),
		zap.String("reason", reason),
		zap.Int("consecutive_errors", n),
	)
	m.events.Publish(models.EventHealthCheckFailed, t.session.ID, map[string]any{
		"reason":             reason,
		"consecutive_errors": n,
	})
}

// assess: state not terminal, error count below the ceiling, and for a running trader
// an exchange ping inside the deadline.
func (m *Manager) assess(ctx context.Context, t *trader) (bool, string) {
	st := t.session.State()
	if st == sessions.StateError || st == sessions.StateStopped {
		return false, "state " + st.String()
	}
	if n := t.session.ErrorCount(); n >= m.cfg.MaxErrorCount {
		return false, fmt.Sprintf("error count %d >= %d", n, m.cfg.MaxErrorCount)
	}
	if st != sessions.StateRunning {
		return true, ""
	}

	ex := t.session.Exchange()
	if ex == nil {
		return false, "no exchange handle"
	}
	res := make(chan error, 1)
	go func() { res <- ex.Ping(ctx) }()
	select {
	case err := <-res:
		if err != nil {
			return false, "ping: " + err.Error()
		}
		return true, ""
	case <-ctx.Done():
		return false, "timeout"
	}
}
