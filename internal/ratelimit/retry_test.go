package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
)

func fastConfig() Config {
	return Config{
		MaxRetries:  4,
		BaseBackoff: 20 * time.Millisecond,
		RetryDelay:  5 * time.Millisecond,
		CallTimeout: time.Second,
		Endpoints:   map[string]Limit{"ep": {MaxRequests: 100, Window: time.Second}},
	}
}

func TestExecuteSuccessIsCached(t *testing.T) {
	a := New(fastConfig(), zap.NewNop())
	var calls atomic.Int32
	call := func(context.Context) ([]int, error) {
		calls.Add(1)
		return []int{1, 2, 3}, nil
	}

	v, err := Execute(context.Background(), a, "ep", "key", call)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)

	v, err = Execute(context.Background(), a, "ep", "key", call)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteRateLimitedBacksOff(t *testing.T) {
	a := New(fastConfig(), zap.NewNop())
	var calls atomic.Int32
	start := time.Now()

	v, err := Execute(context.Background(), a, "ep", "", func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", apperr.New(apperr.RateLimited, "slow down")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(3), calls.Load())
	// 20ms + 40ms
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestExecuteUnauthorizedFailsFast(t *testing.T) {
	a := New(fastConfig(), zap.NewNop())
	var calls atomic.Int32

	_, err := Execute(context.Background(), a, "ep", "", func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("okx: http 401: Invalid API key")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, apperr.Unauthorized, Classify(err))
}

func TestExecuteExhaustsAndReturnsLastError(t *testing.T) {
	a := New(fastConfig(), zap.NewNop())
	var calls atomic.Int32

	_, err := Execute(context.Background(), a, "ep", "", func(context.Context) (int, error) {
		n := calls.Add(1)
		return 0, apperr.Newf(apperr.Transient, "boom %d", n)
	})
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.Contains(t, err.Error(), "boom 4")
}

func TestExecuteCallTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 2
	cfg.CallTimeout = 20 * time.Millisecond
	a := New(cfg, zap.NewNop())

	_, err := Execute(context.Background(), a, "ep", "", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Timeout))
}

func TestExecuteParentCancelled(t *testing.T) {
	a := New(fastConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Execute(ctx, a, "ep", "", func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("connection reset")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, apperr.RateLimited, Classify(errors.New("HTTP 429 Too Many Requests")))
	assert.Equal(t, apperr.Unauthorized, Classify(errors.New("invalid api key")))
	assert.Equal(t, apperr.Transient, Classify(errors.New("connection reset by peer")))
	assert.Equal(t, apperr.NotFound, Classify(apperr.New(apperr.NotFound, "x")))
}

func TestNextBackoffCeiling(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, backoffCeiling))
	assert.Equal(t, backoffCeiling, nextBackoff(45*time.Second, backoffCeiling))
}
