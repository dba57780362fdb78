package strategy

import (
	"sort"
	"sync"

	"trade_supervisor/internal/apperr"
	"trade_supervisor/internal/models"
)

// Strategy turns a candle series into at most one trade candidate per evaluation.
// Implementations are owned by a single trader and need not be goroutine safe.
type Strategy interface {
	Name() string
	// Warmup is the number of candles Evaluate needs.
	Warmup() int
	// Evaluate looks at the last closed candle of the series.
	Evaluate(symbol string, candles []models.Candle) (models.Signal, bool)
	// Reset drops internal state after a failure.
	Reset()
}

type Constructor func(params map[string]float64) (Strategy, error)

type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// NewDefaultRegistry knows every built-in strategy.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameEMACross, NewEMACross)
	r.Register(NameDonchian, NewDonchian)
	r.Register(NameEMARSI, NewEMARSI)
	return r
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) New(name string, params map[string]float64) (Strategy, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.Configuration, "unknown strategy %q", name)
	}
	return ctor(params)
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
