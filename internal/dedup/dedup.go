package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_supervisor/internal/helper"
	"trade_supervisor/internal/models"
)

type Config struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Bucket        time.Duration `mapstructure:"bucket"`
	Retention     time.Duration `mapstructure:"retention"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

func DefaultConfig() Config {
	return Config{
		TTL:           5 * time.Minute,
		Bucket:        5 * time.Minute,
		Retention:     7 * 24 * time.Hour,
		PurgeInterval: time.Hour,
	}
}

// SignalStore is the durable side of deduplication.
type SignalStore interface {
	// ExistsSince reports whether a signal for symbol with this fingerprint was created at or after since.
	ExistsSince(ctx context.Context, symbol, fingerprint string, since time.Time) (bool, error)
	InsertSignal(ctx context.Context, sig models.Signal) error
	PurgeSignals(ctx context.Context, before time.Time) (int64, error)
}

// Deduplicator persists at most one signal per fingerprint within TTL.
type Deduplicator struct {
	cfg   Config
	store SignalStore
	log   *zap.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func New(cfg Config, store SignalStore, log *zap.Logger) *Deduplicator {
	d := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = d.TTL
	}
	if cfg.Bucket < 0 {
		cfg.Bucket = 0
	}
	if cfg.Retention < cfg.TTL {
		cfg.Retention = d.Retention
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = d.PurgeInterval
	}
	return &Deduplicator{
		cfg:   cfg,
		store: store,
		log:   log.Named("dedup"),
		now:   time.Now,
		locks: make(map[string]*keyLock),
	}
}

// Fingerprint hashes symbol, type, strategy, timeframe and the creation time bucket.
// With a zero bucket width the time component is dropped.
func (d *Deduplicator) Fingerprint(sig models.Signal) string {
	parts := []string{
		strings.ToUpper(sig.Symbol),
		string(sig.Type),
		sig.Strategy,
		helper.NormTF(sig.Timeframe),
		strconv.FormatInt(helper.BucketIndex(sig.CreatedAt, d.cfg.Bucket), 10),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Submit persists sig unless one with the same fingerprint exists within TTL.
// The stored signal, with its ID and fingerprint metadata filled in, is returned on acceptance.
func (d *Deduplicator) Submit(ctx context.Context, sig models.Signal) (models.Signal, bool, error) {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = d.now()
	}
	fp := d.Fingerprint(sig)

	unlock := d.lock(fp)
	defer unlock()

	exists, err := d.store.ExistsSince(ctx, sig.Symbol, fp, sig.CreatedAt.Add(-d.cfg.TTL))
	if err != nil {
		return sig, false, errors.Wrap(err, "dedup lookup")
	}
	if exists {
		d.log.Debug("duplicate signal suppressed",
			zap.String("trader_id", sig.TraderID),
			zap.String("symbol", sig.Symbol),
			zap.String("fingerprint", fp),
		)
		return sig, false, nil
	}

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	meta := make(map[string]any, len(sig.Metadata)+1)
	for k, v := range sig.Metadata {
		meta[k] = v
	}
	meta[models.MetaFingerprint] = fp
	sig.Metadata = meta

	if err := d.store.InsertSignal(ctx, sig); err != nil {
		return sig, false, errors.Wrap(err, "dedup insert")
	}
	return sig, true, nil
}

// lock serializes submissions per fingerprint. Entries are dropped once nobody holds them.
func (d *Deduplicator) lock(key string) func() {
	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &keyLock{}
		d.locks[key] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}
}

// Purge deletes signal records older than Retention.
func (d *Deduplicator) Purge(ctx context.Context) (int64, error) {
	n, err := d.store.PurgeSignals(ctx, d.now().Add(-d.cfg.Retention))
	if err != nil {
		return 0, errors.Wrap(err, "purge signals")
	}
	return n, nil
}

// Run purges every PurgeInterval until ctx is done.
func (d *Deduplicator) Run(ctx context.Context) {
	t := time.NewTicker(d.cfg.PurgeInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := d.Purge(ctx)
			if err != nil {
				d.log.Error("purge signals", zap.Error(err))
				continue
			}
			if n > 0 {
				d.log.Info("purged signals", zap.Int64("count", n))
			}
		}
	}
}
