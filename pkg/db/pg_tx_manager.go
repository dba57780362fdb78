package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PoolConfig describes the single Postgres pool of the supervisor.
// Zero MaxConns and HealthCheckPeriod keep the pgxpool defaults.
type PoolConfig struct {
	DSN               string
	MaxConns          int32
	HealthCheckPeriod time.Duration
}

// PgTxManager owns the pool behind the candle and signal stores.
// Multi-statement writes (migrations, candle batches) go through RunMaster;
// single reads and DDL use Conn; Ping is the startup connectivity check.
type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

// Close releases the pool. Called from the fx stop hook.
func (m *PgTxManager) Close() {
	m.pool.Close()
}

// NewPool parses the DSN and applies limits. Connections are opened lazily,
// so a bad host surfaces on Ping, a bad DSN here.
func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse db dsn")
	}
	if conf.MaxConns > 0 {
		pc.MaxConns = conf.MaxConns
	}
	if conf.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = conf.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	return pool, nil
}

// RunMaster выполняет fn в транзакции ReadCommitted. Ошибка fn или паника откатывают транзакцию.
func (m *PgTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	return m.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// Conn returns the pool itself for statements that need no transaction:
// PgStore reads, the signal purge and the schema_migrations DDL in Migrate.
func (m *PgTxManager) Conn() Transaction {
	return m.pool
}

// Ping acquires a connection and round-trips to the server. The postgres module
// calls it once at startup and fails the app instead of degrading to memory.
func (m *PgTxManager) Ping(ctx context.Context) error {
	return errors.Wrap(m.pool.Ping(ctx), "ping")
}

func (m *PgTxManager) inTx(ctx context.Context, options pgx.TxOptions, fn func(ctxTx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := m.pool.BeginTx(ctx, options)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = errors.Wrap(tx.Commit(ctx), "commit tx")
	}()

	if err = fn(ctx, tx); err != nil {
		return errors.Wrap(err, "run in tx")
	}
	return nil
}
