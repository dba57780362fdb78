package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
)

// Execute runs call through the endpoint's limiter. A cached result for cacheKey is
// returned without calling. Rate-limit failures back off exponentially up to 60s,
// authorization failures return at once, anything else is retried after a fixed delay.
// When the retry budget is spent the last error is returned.
func Execute[T any](
	ctx context.Context,
	a *Access,
	endpoint, cacheKey string,
	call func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	span, ctx := opentracing.StartSpanFromContextWithTracer(ctx, a.tracer, "exchange."+endpoint)
	defer span.Finish()
	span.SetTag("endpoint", endpoint)

	delay := a.cfg.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		cached, err := a.Acquire(ctx, endpoint, cacheKey)
		if err != nil {
			ext.Error.Set(span, true)
			return zero, err
		}
		if cached.IsSome() {
			if v, ok := cached.Unwrap().(T); ok {
				span.SetTag("cache_hit", true)
				return v, nil
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		res, err := call(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			a.Store(cacheKey, res)
			return res, nil
		}
		if ctx.Err() != nil {
			ext.Error.Set(span, true)
			return zero, ctx.Err()
		}
		if timedOut && !apperr.Is(err, apperr.Timeout) {
			err = apperr.Wrapf(apperr.Timeout, err, "%s exceeded %s", endpoint, a.cfg.CallTimeout)
		}
		lastErr = err
		span.LogKV("attempt", attempt, "error", err.Error())

		if attempt == a.cfg.MaxRetries {
			break
		}

		switch Classify(err) {
		case apperr.Unauthorized:
			ext.Error.Set(span, true)
			return zero, err

		case apperr.RateLimited:
			a.log.Warn("rate limited, backing off",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			// Acquire ждёт до backoffUntil, отдельный sleep не нужен.
			if err := a.backoff(ctx, endpoint, delay); err != nil {
				return zero, err
			}
			delay = nextBackoff(delay, a.cfg.MaxBackoff)

		default:
			a.log.Warn("exchange call failed, retrying",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if err := sleepCtx(ctx, a.cfg.RetryDelay); err != nil {
				return zero, err
			}
		}
	}

	ext.Error.Set(span, true)
	return zero, lastErr
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// Classify maps an error to RateLimited, Unauthorized, or its own kind. Errors without
// a kind are sniffed by message, since some SDKs only give us text.
func Classify(err error) apperr.Kind {
	if k := apperr.KindOf(err); k != apperr.Unknown {
		return k
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"):
		return apperr.RateLimited
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid signature"):
		return apperr.Unauthorized
	}
	return apperr.Transient
}
