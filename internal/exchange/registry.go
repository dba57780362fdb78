package exchange

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/ratelimit"
)

// Registry knows how to open each configured exchange. Every client it hands out is
// rate limited through the same Access.
type Registry struct {
	access *ratelimit.Access
	log    *zap.Logger

	mu     sync.Mutex
	ctors  map[string]Constructor
	shared map[string]Client
}

func NewRegistry(access *ratelimit.Access, log *zap.Logger) *Registry {
	return &Registry{
		access: access,
		log:    log.Named("exchange"),
		ctors:  make(map[string]Constructor),
		shared: make(map[string]Client),
	}
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ctors[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open creates a dedicated client, owned and closed by the caller.
func (r *Registry) Open(ctx context.Context, name string) (Client, error) {
	r.mu.Lock()
	ctor, ok := r.ctors[name]
	r.mu.Unlock()
	if !ok {
		return nil, apperr.Newf(apperr.Configuration, "exchange %q is not configured", name)
	}

	c, err := ctor(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "open exchange %s", name)
	}
	return NewLimited(c, r.access), nil
}

// Source returns the shared client used for market data, opening it on first use.
func (r *Registry) Source(ctx context.Context, name string) (marketdata.CandleSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.shared[name]; ok {
		return c, nil
	}
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, apperr.Newf(apperr.Configuration, "exchange %q is not configured", name)
	}
	c, err := ctor(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "open exchange %s", name)
	}
	limited := NewLimited(c, r.access)
	r.shared[name] = limited
	return limited, nil
}

// Close closes the shared market-data clients.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for name, c := range r.shared {
		if err := c.Close(); err != nil {
			r.log.Warn("close exchange", zap.String("exchange", name), zap.Error(err))
			if first == nil {
				first = err
			}
		}
		delete(r.shared, name)
	}
	return first
}

var _ marketdata.Sources = (*Registry)(nil)
