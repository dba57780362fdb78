package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"trade_supervisor/internal/models"
)

// MemoryStore is used when no database is configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	candles map[models.SeriesKey]map[int64]models.Candle
	signals []models.Signal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make(map[models.SeriesKey]map[int64]models.Candle),
	}
}

func (m *MemoryStore) UpsertCandles(_ context.Context, key models.SeriesKey, candles []models.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	series, ok := m.candles[key]
	if !ok {
		series = make(map[int64]models.Candle)
		m.candles[key] = series
	}
	for _, c := range candles {
		series[c.Timestamp.UnixMilli()] = c
	}
	return nil
}

func (m *MemoryStore) RecentCandles(_ context.Context, key models.SeriesKey, limit int) ([]models.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Candle, 0, len(m.candles[key]))
	for _, c := range m.candles[key] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) ExistsSince(_ context.Context, symbol, fingerprint string, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.signals) - 1; i >= 0; i-- {
		s := m.signals[i]
		if s.Symbol == symbol && s.Fingerprint() == fingerprint && !s.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) InsertSignal(_ context.Context, sig models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	return nil
}

func (m *MemoryStore) PurgeSignals(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.signals[:0]
	for _, s := range m.signals {
		if !s.CreatedAt.Before(before) {
			kept = append(kept, s)
		}
	}
	n := int64(len(m.signals) - len(kept))
	m.signals = kept
	return n, nil
}

// Signals returns a copy of all stored signals.
func (m *MemoryStore) Signals() []models.Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Signal(nil), m.signals...)
}
