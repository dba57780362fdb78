package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moznion/go-optional"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

// bucket is one endpoint's sliding window. token is a capacity-1 channel used as a
// cancellable lock: blocked senders are woken in arrival order.
type bucket struct {
	token chan struct{}
	refs  atomic.Int32

	// guarded by token
	calls        []time.Time
	backoffUntil time.Time
	lastUsed     time.Time
}

// Access gates exchange calls per endpoint and caches their results.
type Access struct {
	cfg    Config
	log    *zap.Logger
	tracer opentracing.Tracer
	now    func() time.Time

	mu      sync.RWMutex
	buckets map[string]*bucket

	cache *resultCache

	// test hook
	onAdmit func(endpoint string, at time.Time)
}

type Option func(*Access)

func WithClock(now func() time.Time) Option {
	return func(a *Access) { a.now = now }
}

func WithTracer(t opentracing.Tracer) Option {
	return func(a *Access) {
		if t != nil {
			a.tracer = t
		}
	}
}

func New(cfg Config, log *zap.Logger, opts ...Option) *Access {
	cfg = cfg.withDefaults()
	a := &Access{
		cfg:     cfg,
		log:     log.Named("ratelimit"),
		tracer:  opentracing.NoopTracer{},
		now:     time.Now,
		buckets: make(map[string]*bucket),
		cache:   newResultCache(cfg.CacheSize, cfg.CacheTTL),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Access) Config() Config { return a.cfg }

// Acquire returns the cached value for cacheKey if present. Otherwise it waits until the
// endpoint's window and backoff admit one more call, records it and returns None.
// An empty cacheKey skips the cache.
func (a *Access) Acquire(ctx context.Context, endpoint, cacheKey string) (optional.Option[any], error) {
	if cacheKey != "" {
		if v, ok := a.cache.get(cacheKey, a.now()); ok {
			return optional.Some(v), nil
		}
	}

	b := a.ref(endpoint)
	defer b.refs.Add(-1)

	select {
	case b.token <- struct{}{}:
	case <-ctx.Done():
		return optional.None[any](), ctx.Err()
	}
	defer func() { <-b.token }()

	limit := a.cfg.limitFor(endpoint)
	for {
		now := a.now()

		if wait := b.backoffUntil.Sub(now); wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				return optional.None[any](), err
			}
			continue
		}

		cutoff := now.Add(-limit.Window)
		i := 0
		for i < len(b.calls) && !b.calls[i].After(cutoff) {
			i++
		}
		b.calls = b.calls[i:]

		if len(b.calls) >= limit.MaxRequests {
			wait := b.calls[0].Add(limit.Window).Sub(now)
			a.log.Debug("window saturated",
				zap.String("endpoint", endpoint),
				zap.Duration("wait", wait),
			)
			if err := sleepCtx(ctx, wait); err != nil {
				return optional.None[any](), err
			}
			continue
		}

		b.calls = append(b.calls, now)
		b.lastUsed = now
		if a.onAdmit != nil {
			a.onAdmit(endpoint, now)
		}
		return optional.None[any](), nil
	}
}

// backoff pushes the endpoint's backoff-until forward; it never moves it back.
func (a *Access) backoff(ctx context.Context, endpoint string, d time.Duration) error {
	b := a.ref(endpoint)
	defer b.refs.Add(-1)

	select {
	case b.token <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	until := a.now().Add(d)
	if until.After(b.backoffUntil) {
		b.backoffUntil = until
	}
	<-b.token
	return nil
}

func (a *Access) ref(endpoint string) *bucket {
	a.mu.RLock()
	b, ok := a.buckets[endpoint]
	if ok {
		b.refs.Add(1)
		a.mu.RUnlock()
		return b
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok = a.buckets[endpoint]
	if !ok {
		b = &bucket{token: make(chan struct{}, 1), lastUsed: a.now()}
		a.buckets[endpoint] = b
	}
	b.refs.Add(1)
	return b
}

// Store puts a value in the shared result cache.
func (a *Access) Store(cacheKey string, v any) {
	if cacheKey == "" {
		return
	}
	a.cache.put(cacheKey, v, a.now())
}

// Prune drops idle endpoint buckets and expired cache entries.
func (a *Access) Prune() (buckets, entries int) {
	now := a.now()

	a.mu.Lock()
	for name, b := range a.buckets {
		if b.refs.Load() != 0 {
			continue
		}
		if now.Sub(b.lastUsed) > a.cfg.IdleTTL {
			delete(a.buckets, name)
			buckets++
		}
	}
	a.mu.Unlock()

	entries = a.cache.dropExpired(now)
	return buckets, entries
}

// Run prunes periodically until ctx is done.
func (a *Access) Run(ctx context.Context) {
	interval := a.cfg.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if b, e := a.Prune(); b+e > 0 {
				a.log.Debug("pruned", zap.Int("buckets", b), zap.Int("cache_entries", e))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
