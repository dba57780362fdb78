package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
)

// UpdateKind is what the sync loop should do with a series.
type UpdateKind int

const (
	UpdateNone UpdateKind = iota
	UpdateLast
	UpdateFull
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateLast:
		return "last"
	case UpdateFull:
		return "full"
	default:
		return "none"
	}
}

// CandleSource is anything that can serve historical candles, usually a rate-limited exchange client.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

type entry struct {
	mu sync.Mutex

	candles         []models.Candle
	loadedAt        time.Time
	lastUpdate      time.Time
	lastAccess      time.Time
	needsLastUpdate bool

	// finalThrough: every row up to this timestamp was written after its window closed.
	finalThrough time.Time

	// persistMu serializes writes to storage for this series.
	persistMu     sync.Mutex
	lastPersisted time.Time
}

// Cache holds one ascending, duplicate-free candle series per key.
type Cache struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu      sync.RWMutex
	entries map[models.SeriesKey]*entry
}

func NewCache(cfg Config, log *zap.Logger) *Cache {
	return &Cache{
		cfg:     cfg.withDefaults(),
		log:     log.Named("marketdata"),
		now:     time.Now,
		entries: make(map[models.SeriesKey]*entry),
	}
}

func (c *Cache) Config() Config { return c.cfg }

// entry returns the key's entry, creating it when create is set.
func (c *Cache) entry(key models.SeriesKey, create bool) *entry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || !create {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; !ok {
		e = &entry{lastAccess: c.now()}
		c.entries[key] = e
	}
	return e
}

// Get returns a copy of the series when at least requiredLen candles are cached and fresh.
// The first request for a key starts tracking it, so the sync loop picks it up.
func (c *Cache) Get(key models.SeriesKey, requiredLen int) ([]models.Candle, bool) {
	e := c.entry(key, true)
	now := c.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastAccess = now

	if len(e.candles) == 0 || len(e.candles) < requiredLen {
		return nil, false
	}
	if now.Sub(e.lastUpdate) > c.cfg.TTL {
		return nil, false
	}

	out := make([]models.Candle, len(e.candles))
	copy(out, e.candles)
	return out, true
}

// Update replaces the series when complete, otherwise merges by timestamp with the new
// values winning. The result is truncated to MaxCandles from the tail.
func (c *Cache) Update(key models.SeriesKey, series []models.Candle, complete bool) {
	e := c.entry(key, true)
	now := c.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	tf := helper.TimeframeDuration(key.Interval)
	if complete {
		e.candles = normalize(append([]models.Candle(nil), series...))
		e.loadedAt = now
		e.finalThrough = time.Time{}
		if tf > 0 {
			for _, cd := range e.candles {
				if !cd.End(tf).After(now) {
					e.finalThrough = cd.Timestamp
				}
			}
		}
	} else {
		merged := make([]models.Candle, 0, len(e.candles)+len(series))
		merged = append(merged, e.candles...)
		merged = append(merged, series...)
		e.candles = normalize(merged)
		for _, cd := range normalize(append([]models.Candle(nil), series...)) {
			settleLocked(e, cd, tf, now)
		}
	}
	e.candles = c.truncate(e.candles)
	e.lastUpdate = now
	e.needsLastUpdate = false
}

// UpdateLast patches the row with the candle's timestamp in place or inserts it.
// Applying the same candle twice leaves the same state as applying it once.
func (c *Cache) UpdateLast(key models.SeriesKey, candle models.Candle) {
	e := c.entry(key, true)
	now := c.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.candles)
	switch {
	case n > 0 && e.candles[n-1].Timestamp.Equal(candle.Timestamp):
		e.candles[n-1] = candle
	case n == 0 || e.candles[n-1].Timestamp.Before(candle.Timestamp):
		e.candles = append(e.candles, candle)
	default:
		// запоздавшая свеча: вставляем на своё место
		i := sort.Search(n, func(i int) bool { return !e.candles[i].Timestamp.Before(candle.Timestamp) })
		if i < n && e.candles[i].Timestamp.Equal(candle.Timestamp) {
			e.candles[i] = candle
		} else {
			e.candles = append(e.candles, models.Candle{})
			copy(e.candles[i+1:], e.candles[i:])
			e.candles[i] = candle
		}
	}
	settleLocked(e, candle, helper.TimeframeDuration(key.Interval), now)
	e.candles = c.truncate(e.candles)
	e.lastUpdate = now
	e.needsLastUpdate = false
}

// settleLocked advances finalThrough when cd is the next row after it and cd was
// written once its window had closed.
func settleLocked(e *entry, cd models.Candle, tf time.Duration, now time.Time) {
	if tf <= 0 || cd.End(tf).After(now) || !cd.Timestamp.After(e.finalThrough) {
		return
	}
	i := sort.Search(len(e.candles), func(i int) bool { return e.candles[i].Timestamp.After(e.finalThrough) })
	if i < len(e.candles) && e.candles[i].Timestamp.Equal(cd.Timestamp) {
		e.finalThrough = cd.Timestamp
	}
}

// Unsettled returns how many bars, the current one included, must be refetched because
// the oldest not-final row has closed since it was last written. Zero when nothing is pending.
func (c *Cache) Unsettled(key models.SeriesKey) int {
	tf := helper.TimeframeDuration(key.Interval)
	e := c.entry(key, false)
	if e == nil || tf <= 0 {
		return 0
	}
	now := c.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	i := sort.Search(len(e.candles), func(i int) bool { return e.candles[i].Timestamp.After(e.finalThrough) })
	if i == len(e.candles) {
		return 0
	}
	next := e.candles[i]
	if next.End(tf).After(now) {
		return 0
	}
	return int(now.Sub(next.Timestamp)/tf) + 1
}

// NeedsUpdate: full when uncached or shorter than MinCandles, last when older than TTL
// or explicitly invalidated, none otherwise.
func (c *Cache) NeedsUpdate(key models.SeriesKey) UpdateKind {
	e := c.entry(key, false)
	if e == nil {
		return UpdateFull
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.candles) < c.cfg.MinCandles {
		return UpdateFull
	}
	if e.needsLastUpdate || c.now().Sub(e.lastUpdate) > c.cfg.TTL {
		return UpdateLast
	}
	return UpdateNone
}

// Invalidate forces the next sync of key to refresh its newest candle.
func (c *Cache) Invalidate(key models.SeriesKey) {
	e := c.entry(key, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.needsLastUpdate = true
	e.mu.Unlock()
}

// Load is Get with a fetch from src on miss. The fetched series replaces the cached one.
func (c *Cache) Load(ctx context.Context, key models.SeriesKey, requiredLen int, src CandleSource) ([]models.Candle, error) {
	if series, ok := c.Get(key, requiredLen); ok {
		return series, nil
	}

	limit := requiredLen
	if limit < c.cfg.MinCandles {
		limit = c.cfg.MinCandles
	}
	fetched, err := src.GetCandles(ctx, key.Symbol, key.Interval, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "load candles %s", key)
	}
	c.Update(key, fetched, true)

	series, ok := c.Get(key, requiredLen)
	if !ok {
		return nil, errors.Errorf("load candles %s: got %d, need %d", key, len(fetched), requiredLen)
	}
	return series, nil
}

// Keys returns the tracked series.
func (c *Cache) Keys() []models.SeriesKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.SeriesKey, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Prune forgets series nobody has read for IdleTTL.
func (c *Cache) Prune() int {
	cutoff := c.now().Add(-c.cfg.IdleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		e.mu.Lock()
		idle := e.lastAccess.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) truncate(s []models.Candle) []models.Candle {
	if len(s) <= c.cfg.MaxCandles {
		return s
	}
	out := make([]models.Candle, c.cfg.MaxCandles)
	copy(out, s[len(s)-c.cfg.MaxCandles:])
	return out
}

// normalize sorts ascending and keeps the last occurrence of each timestamp.
func normalize(s []models.Candle) []models.Candle {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })

	out := s[:0]
	for i := range s {
		if len(out) > 0 && out[len(out)-1].Timestamp.Equal(s[i].Timestamp) {
			out[len(out)-1] = s[i]
			continue
		}
		out = append(out, s[i])
	}
	return out
}
