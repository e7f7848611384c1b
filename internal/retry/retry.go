// Package retry implements the Retry Executor (C1): exponential backoff with
// rate-limit detection for idempotent operations. Modeled on the
// attempt/backoff loop in the teacher's clickhouse writer
// (insertBatch) and the rate-limit predicate from
// duongtuttbn-toolkit/client_pool/error.go:isRateLimit.
package retry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tokenserver/internal/apperr"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
)

// Options configures one Do call. Zero values fall back to the defaults.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	return o
}

// IsRateLimited reports whether err looks like an upstream 429 or a
// rate-limit message from an RPC/HTTP provider. Non-rate-limit failures
// propagate immediately without retrying.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	if apperr.Is(err, apperr.KindRateLimited) {
		return true
	}

	type statusCoder interface{ StatusCode() int }
	if sc, ok := err.(statusCoder); ok && sc.StatusCode() == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"rate limit",
		"too many requests",
		"exceeded the quota",
		"limit exceeded",
		"exceeded limit",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}

	return false
}

// Do runs fn, retrying only when IsRateLimited(err) is true. Backoff is
// exponential with base Options.BaseDelay, doubling per attempt. Exhausting
// MaxAttempts surfaces as a RateLimited apperr. Cancellation aborts between
// attempts.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	var lastErr error
	delay := opts.BaseDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !IsRateLimited(err) {
			return zero, err
		}

		if attempt == opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return zero, apperr.RateLimited("rate limit retries exceeded", lastErr)
}
