package apperr

import (
	"context"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(NotFound, "trader t1 not found")
	wrapped := pkgerrors.Wrap(base, "stop")
	wrapped = fmt.Errorf("api: %w", wrapped)

	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.True(t, Is(wrapped, NotFound))
	assert.False(t, Is(wrapped, AlreadyExists))
	assert.False(t, Is(nil, NotFound))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(context.Canceled))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(RateLimited, "get_candles", fmt.Errorf("http 429"))
	assert.Equal(t, "rate_limited: get_candles: http 429", err.Error())
	require.ErrorIs(t, err, New(RateLimited, ""))

	assert.Equal(t, "too_many_traders: cap 1", Newf(TooManyTraders, "cap %d", 1).Error())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(RateLimited, "")))
	assert.True(t, Retryable(New(Transient, "")))
	assert.True(t, Retryable(New(Timeout, "")))
	assert.False(t, Retryable(New(Unauthorized, "")))
	assert.False(t, Retryable(New(Configuration, "")))
	assert.False(t, Retryable(fmt.Errorf("plain")))
}
