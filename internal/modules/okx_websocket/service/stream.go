package service

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
	okx "trade_supervisor/internal/modules/okx_client/service"
)

const DefaultURL = "wss://ws.okx.com:8443/ws/v5/business"

type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	// без пинга каждые <30s OKX рвёт соединение
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	return c
}

// Sink receives every pushed bar, forming or closed.
type Sink interface {
	UpdateLast(key models.SeriesKey, candle models.Candle)
}

type Monitor interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type frame struct {
	Event string     `json:"event"`
	Msg   string     `json:"msg"`
	Arg   subArg     `json:"arg"`
	Data  [][]string `json:"data"`
}

// Stream patches the candle cache from the OKX business websocket, one connection
// for every subscribed series.
type Stream struct {
	cfg    Config
	dialer *websocket.Dialer
	sink   Sink
	mon    Monitor
	log    *zap.Logger

	updates atomic.Int64
}

func NewStream(cfg Config, sink Sink, mon Monitor, log *zap.Logger) *Stream {
	return &Stream{
		cfg:    cfg.withDefaults(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		sink:   sink,
		mon:    mon,
		log:    log.Named("okx_ws"),
	}
}

// Updates is the number of bars pushed into the sink so far.
func (s *Stream) Updates() int64 { return s.updates.Load() }

// Keys picks the OKX series out of the trader list, deduplicated and sorted.
func Keys(traders []models.TraderConfig) []models.SeriesKey {
	seen := make(map[models.SeriesKey]struct{})
	var out []models.SeriesKey
	for _, t := range traders {
		if t.Exchange != okx.ExchangeName {
			continue
		}
		k := models.SeriesKey{Exchange: t.Exchange, Symbol: t.Symbol, Interval: helper.NormTF(t.Timeframe)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}

// Run keeps the connection up until ctx is done, resubscribing after every drop.
func (s *Stream) Run(ctx context.Context, keys []models.SeriesKey) {
	args := make([]subArg, 0, len(keys))
	intervals := make(map[string]string) // channel -> interval
	for _, k := range keys {
		bar, err := helper.OKXBar(k.Interval)
		if err != nil {
			s.log.Warn("series skipped", zap.String("symbol", k.Symbol), zap.Error(err))
			continue
		}
		ch := "candle" + bar
		intervals[ch] = k.Interval
		args = append(args, subArg{Channel: ch, InstID: k.Symbol})
	}
	if len(args) == 0 {
		s.log.Info("nothing to stream")
		return
	}

	for {
		err := s.session(ctx, args, intervals)
		s.mon.SetWSConnected(false)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("websocket dropped, reconnecting", zap.Error(err), zap.Duration("delay", s.cfg.ReconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection until it breaks.
func (s *Stream) session(ctx context.Context, args []subArg, intervals map[string]string) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	s.mon.SetWSConnected(true)
	s.log.Info("websocket subscribed", zap.Int("series", len(args)))

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(s.cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				// разблокирует ReadMessage
				_ = conn.Close()
				return
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		if string(msg) == "pong" {
			continue
		}

		var f frame
		if err := sonic.Unmarshal(msg, &f); err != nil {
			s.log.Debug("bad frame", zap.ByteString("msg", msg), zap.Error(err))
			continue
		}
		if f.Event == "error" {
			return errors.Errorf("okx ws error: %s", f.Msg)
		}
		interval, ok := intervals[f.Arg.Channel]
		if !ok || len(f.Data) == 0 {
			continue
		}

		key := models.SeriesKey{Exchange: okx.ExchangeName, Symbol: f.Arg.InstID, Interval: interval}
		for _, row := range f.Data {
			c, _, err := okx.ParseCandleRow(row)
			if err != nil {
				s.log.Debug("bad candle row", zap.Strings("row", row), zap.Error(err))
				continue
			}
			s.sink.UpdateLast(key, c)
			s.updates.Add(1)
		}
		s.mon.TouchTick(time.Now())
	}
}
