package marketdata

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
)

// Sources resolves a candle source by exchange name.
type Sources interface {
	Source(ctx context.Context, exchange string) (CandleSource, error)
}

// CandleStore persists completed candles. Upserts must be idempotent.
type CandleStore interface {
	UpsertCandles(ctx context.Context, key models.SeriesKey, candles []models.Candle) error
}

// Syncer keeps every tracked series fresh and writes completed candles to storage once.
type Syncer struct {
	cache   *Cache
	sources Sources
	store   CandleStore
	log     *zap.Logger
}

func NewSyncer(cache *Cache, sources Sources, store CandleStore, log *zap.Logger) *Syncer {
	return &Syncer{
		cache:   cache,
		sources: sources,
		store:   store,
		log:     log.Named("marketdata_sync"),
	}
}

// Run syncs immediately and then every SyncInterval until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	t := time.NewTicker(s.cache.cfg.SyncInterval)
	defer t.Stop()

	for {
		if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sync iteration", zap.Error(err))
		}
		if n := s.cache.Prune(); n > 0 {
			s.log.Info("pruned idle series", zap.Int("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SyncOnce refreshes all tracked series with bounded parallelism. A failing series is
// logged and does not stop the others; the returned error is the first one seen.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	keys := s.cache.Keys()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cache.cfg.Workers)

	errs := make([]error, len(keys))
	for i, key := range keys {
		g.Go(func() error {
			if err := s.syncKey(gctx, key); err != nil {
				s.log.Warn("sync series",
					zap.String("series", key.String()),
					zap.Error(err),
				)
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) syncKey(ctx context.Context, key models.SeriesKey) error {
	kind := s.cache.NeedsUpdate(key)
	// закрывшуюся свечу пишем в базу только с финальными значениями
	unsettled := s.cache.Unsettled(key)
	switch {
	case unsettled > s.cache.cfg.MaxCandles:
		kind = UpdateFull
	case unsettled > 0 && kind == UpdateNone:
		kind = UpdateLast
	}
	if kind != UpdateNone {
		src, err := s.sources.Source(ctx, key.Exchange)
		if err != nil {
			return errors.Wrapf(err, "source %s", key.Exchange)
		}

		switch kind {
		case UpdateFull:
			candles, err := src.GetCandles(ctx, key.Symbol, key.Interval, s.cache.cfg.MaxCandles)
			if err != nil {
				return errors.Wrap(err, "full reload")
			}
			s.cache.Update(key, candles, true)

		case UpdateLast:
			// минимум две последние: закрывшаяся и текущая
			candles, err := src.GetCandles(ctx, key.Symbol, key.Interval, max(2, unsettled))
			if err != nil {
				return errors.Wrap(err, "last candle")
			}
			for _, cd := range candles {
				s.cache.UpdateLast(key, cd)
			}
		}
	}

	return s.persistCompleted(ctx, key)
}

// persistCompleted stores final candles newer than the series' last persisted timestamp.
// A candle is final once it was written after its window closed.
func (s *Syncer) persistCompleted(ctx context.Context, key models.SeriesKey) error {
	if s.store == nil {
		return nil
	}
	tf := helper.TimeframeDuration(key.Interval)
	if tf <= 0 {
		return nil
	}
	e := s.cache.entry(key, false)
	if e == nil {
		return nil
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	var pending []models.Candle
	for _, cd := range e.candles {
		if cd.Timestamp.After(e.lastPersisted) && !cd.Timestamp.After(e.finalThrough) {
			pending = append(pending, cd)
		}
	}
	e.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := s.store.UpsertCandles(ctx, key, pending); err != nil {
		return errors.Wrap(err, "persist candles")
	}

	e.mu.Lock()
	e.lastPersisted = pending[len(pending)-1].Timestamp
	e.mu.Unlock()

	s.log.Debug("persisted candles",
		zap.String("series", key.String()),
		zap.Int("count", len(pending)),
	)
	return nil
}
