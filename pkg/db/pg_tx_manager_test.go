package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolAppliesLimits(t *testing.T) {
	// пул ленивый, соединение не открывается
	pool, err := NewPool(context.Background(), PoolConfig{
		DSN:               "postgres://u:p@127.0.0.1:1/ts?sslmode=disable",
		MaxConns:          3,
		HealthCheckPeriod: 5 * time.Second,
	})
	require.NoError(t, err)
	defer pool.Close()

	assert.EqualValues(t, 3, pool.Config().MaxConns)
	assert.Equal(t, 5*time.Second, pool.Config().HealthCheckPeriod)
	assert.Same(t, pool, NewPgTxManager(pool).Conn())
}

func TestNewPoolRejectsBadDSN(t *testing.T) {
	_, err := NewPool(context.Background(), PoolConfig{DSN: "postgres://u:p@127.0.0.1:notaport/ts"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse db dsn")
}

func TestPingUnreachable(t *testing.T) {
	pool, err := NewPool(context.Background(), PoolConfig{DSN: "postgres://u:p@127.0.0.1:1/ts?sslmode=disable&connect_timeout=1"})
	require.NoError(t, err)
	tm := NewPgTxManager(pool)
	defer tm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = tm.Ping(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping")
}
