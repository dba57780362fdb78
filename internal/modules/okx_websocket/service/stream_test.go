package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade_supervisor/internal/models"
)

type recordingSink struct {
	mu  sync.Mutex
	got map[models.SeriesKey][]models.Candle
}

func (r *recordingSink) UpdateLast(key models.SeriesKey, c models.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = make(map[models.SeriesKey][]models.Candle)
	}
	r.got[key] = append(r.got[key], c)
}

func (r *recordingSink) count(key models.SeriesKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got[key])
}

type monitor struct {
	connected atomic.Bool
	ticks     atomic.Int32
}

func (m *monitor) SetWSConnected(v bool) { m.connected.Store(v) }
func (m *monitor) TouchTick(time.Time)   { m.ticks.Add(1) }

func TestKeysFilterAndDedup(t *testing.T) {
	keys := Keys([]models.TraderConfig{
		{Exchange: "okx", Symbol: "ETH-USDT-SWAP", Timeframe: "1H"},
		{Exchange: "okx", Symbol: "BTC-USDT-SWAP", Timeframe: "15m"},
		{Exchange: "okx", Symbol: "ETH-USDT-SWAP", Timeframe: "1h"},
		{Exchange: "binance", Symbol: "BTCUSDT", Timeframe: "15m"},
	})
	require.Len(t, keys, 2)
	assert.Equal(t, "BTC-USDT-SWAP", keys[0].Symbol)
	assert.Equal(t, "1h", keys[1].Interval)
}

func TestStreamPatchesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	var subscribed sync.Map
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		var sub struct {
			Op   string   `json:"op"`
			Args []subArg `json:"args"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		for _, a := range sub.Args {
			subscribed.Store(a.Channel+"/"+a.InstID, true)
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribe","arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},"data":[["1700000000000","1","2","0.5","1.5","10","1","15","0"]]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},"data":[["1700000000000","1","2","0.5","1.7","12","1","17","1"]]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))

		if n == 1 {
			// первое соединение рвём
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &recordingSink{}
	mon := &monitor{}
	s := NewStream(Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		PingInterval:   10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}, sink, mon, zap.NewNop())

	key := models.SeriesKey{Exchange: "okx", Symbol: "BTC-USDT-SWAP", Interval: "1m"}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, []models.SeriesKey{key})
	}()

	require.Eventually(t, func() bool { return sink.count(key) >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
	_, ok := subscribed.Load("candle1m/BTC-USDT-SWAP")
	assert.True(t, ok)
	assert.Positive(t, mon.ticks.Load())
	assert.True(t, mon.connected.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	assert.False(t, mon.connected.Load())

	sink.mu.Lock()
	last := sink.got[key][1]
	sink.mu.Unlock()
	assert.Equal(t, 1.7, last.Close)
}

func TestRunWithoutKeysReturns(t *testing.T) {
	s := NewStream(Config{}, &recordingSink{}, &monitor{}, zap.NewNop())
	s.Run(context.Background(), []models.SeriesKey{{Exchange: "okx", Symbol: "X", Interval: "7m"}})
}
