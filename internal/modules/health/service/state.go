package service

import (
	"sync/atomic"
	"time"
)

// State holds process-level signals that are not owned by the trader manager:
// the market-data websocket link and the time of the last pushed bar.
type State struct {
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds
	reconnects   atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetWSConnected(v bool) {
	// считаем только переходы up->down
	if !v && s.wsConnected.Swap(false) {
		s.reconnects.Add(1)
		return
	}
	s.wsConnected.Store(v)
}

func (s *State) WSConnected() bool { return s.wsConnected.Load() }
func (s *State) WSDrops() int64    { return s.reconnects.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }

func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
