package service

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/marketdata"
	"trade_supervisor/internal/models"
)

// Sources resolves the candle source of an exchange.
type Sources interface {
	Source(ctx context.Context, exchange string) (marketdata.CandleSource, error)
}

// History is the persisted candle archive used when the exchange is unreachable.
type History interface {
	RecentCandles(ctx context.Context, key models.SeriesKey, limit int) ([]models.Candle, error)
}

// Warmuper preloads the candle cache for every enabled trader's series, so the first
// evaluation does not pay for a full history fetch.
type Warmuper struct {
	cache   *marketdata.Cache
	sources Sources
	history History
	log     *zap.Logger
	now     func() time.Time

	// ограничитель параллелизма, чтобы не словить rate limit
	parallel int
}

// history may be nil.
func NewWarmuper(cache *marketdata.Cache, sources Sources, history History, log *zap.Logger) *Warmuper {
	return &Warmuper{
		cache:    cache,
		sources:  sources,
		history:  history,
		log:      log.Named("warmup"),
		now:      time.Now,
		parallel: 8,
	}
}

// Warmup loads every series once. A failed series is logged and left to the lazy path;
// the combined error is returned after all series were tried.
func (w *Warmuper) Warmup(ctx context.Context, traders []models.TraderConfig) (int, error) {
	keys := SeriesKeys(traders)
	if len(keys) == 0 {
		return 0, nil
	}

	need := w.cache.Config().MaxCandles
	var (
		loaded atomic.Int64
		errs   = make([]error, len(keys))
	)

	var g errgroup.Group
	g.SetLimit(w.parallel)
	for i, key := range keys {
		g.Go(func() error {
			err := w.fetch(ctx, key, need)
			if err == nil {
				loaded.Add(1)
				return nil
			}
			if w.fromHistory(ctx, key, need) {
				w.log.Info("series restored from storage", zap.Stringer("series", key), zap.NamedError("fetch_error", err))
				loaded.Add(1)
				return nil
			}
			errs[i] = err
			w.log.Warn("series warmup failed", zap.Stringer("series", key), zap.Error(err))
			return nil
		})
	}
	_ = g.Wait()

	return int(loaded.Load()), multierr.Combine(errs...)
}

func (w *Warmuper) fetch(ctx context.Context, key models.SeriesKey, need int) error {
	src, err := w.sources.Source(ctx, key.Exchange)
	if err != nil {
		return err
	}
	candles, err := src.GetCandles(ctx, key.Symbol, key.Interval, need)
	if err != nil {
		return errors.Wrapf(err, "warmup %s", key)
	}
	w.cache.Update(key, candles, true)
	return nil
}

// fromHistory seeds the cache from storage when the archive reaches the previous bar.
// The series is invalidated so the next sync patches the newest candles.
func (w *Warmuper) fromHistory(ctx context.Context, key models.SeriesKey, need int) bool {
	if w.history == nil {
		return false
	}
	tf := helper.TimeframeDuration(key.Interval)
	if tf <= 0 {
		return false
	}
	candles, err := w.history.RecentCandles(ctx, key, need)
	if err != nil || len(candles) == 0 {
		return false
	}
	// старше двух баров: дыру одной заплаткой не закрыть
	if w.now().Sub(candles[len(candles)-1].Timestamp) > 2*tf {
		return false
	}
	w.cache.Update(key, candles, true)
	w.cache.Invalidate(key)
	return true
}

// SeriesKeys returns the distinct series of the enabled traders in a stable order.
func SeriesKeys(traders []models.TraderConfig) []models.SeriesKey {
	seen := make(map[models.SeriesKey]struct{}, len(traders))
	out := make([]models.SeriesKey, 0, len(traders))
	for _, t := range traders {
		if !t.Enabled || t.Exchange == "" || t.Symbol == "" {
			continue
		}
		key := models.SeriesKey{Exchange: t.Exchange, Symbol: t.Symbol, Interval: helper.NormTF(t.Timeframe)}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
