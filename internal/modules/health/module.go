package health

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_supervisor/internal/modules/health/service"
	"trade_supervisor/internal/runner"
)

type Config struct {
	Addr string `mapstructure:"addr"` // например ":8080"
}

// ManagerView is what the endpoints read from the trader manager.
type ManagerView interface {
	State() runner.ManagerState
	Summary() runner.Summary
	List() []runner.TraderStatus
}

type traderHealth struct {
	ID                string `json:"id"`
	State             string `json:"state"`
	Healthy           bool   `json:"healthy"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	ErrorCount        int64  `json:"error_count"`
	LastError         string `json:"last_error,omitempty"`
}

type healthResponse struct {
	State        string         `json:"state"`
	Ready        bool           `json:"ready"`
	WSConnected  bool           `json:"ws_connected"`
	WSDrops      int64          `json:"ws_drops"`
	UptimeSec    int64          `json:"uptime_sec"`
	LastTickUnix int64          `json:"last_tick_unix"`
	Traders      int            `json:"traders"`
	ByState      map[string]int `json:"by_state"`
	Signals      int64          `json:"signals"`
	Trades       int64          `json:"trades"`
	Errors       int64          `json:"errors"`
	PnL          string         `json:"pnl"`
	WinRate      float64        `json:"win_rate"`
	Details      []traderHealth `json:"details"`
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func NewMux(state *service.State, view ManagerView, reg *prometheus.Registry, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// готов, только когда менеджер в RUNNING
		if view.State() != runner.ManagerRunning {
			http.Error(w, "not ready: "+view.State().String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sum := view.Summary()
		resp := healthResponse{
			State:       view.State().String(),
			Ready:       view.State() == runner.ManagerRunning,
			WSConnected: state.WSConnected(),
			WSDrops:     state.WSDrops(),
			UptimeSec:   int64(state.Uptime().Seconds()),
			Traders:     sum.Traders,
			ByState:     sum.ByState,
			Signals:     sum.Signals,
			Trades:      sum.TradesTotal,
			Errors:      sum.Errors,
			PnL:         sum.PnL.String(),
			WinRate:     sum.WinRate(),
		}
		if t := state.LastTick(); !t.IsZero() {
			resp.LastTickUnix = t.Unix()
		}
		for _, st := range view.List() {
			resp.Details = append(resp.Details, traderHealth{
				ID:                st.ID,
				State:             st.State.String(),
				Healthy:           st.Health.IsHealthy,
				ConsecutiveErrors: st.Health.ConsecutiveErrors,
				ErrorCount:        st.ErrorCount,
				LastError:         st.LastError,
			})
		}

		body, err := sonic.Marshal(resp)
		if err != nil {
			log.Error("healthz marshal", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return errors.Wrapf(err, "listen %s", cfg.Addr)
			}
			log.Info("health server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("health server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewRegistry,
			func(reg *prometheus.Registry) prometheus.Registerer { return reg },
			func(m *runner.Manager) ManagerView { return m },
			NewMux,
		),
		fx.Invoke(RunHTTP),
	)
}
