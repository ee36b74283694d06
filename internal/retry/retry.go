// Package retry implements the bounded exponential backoff policy that
// wraps every outbound API call.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrExhausted is returned (wrapped around the last attempt's error) when
// the attempt budget runs out. Callers treat it as a skippable unit of
// work, not a fatal condition.
var ErrExhausted = errors.New("retry attempts exhausted")

// retryable is implemented by errors that may be retried.
type retryable interface {
	Retryable() bool
}

// retryAfter is implemented by errors carrying a server-supplied delay
// hint, which overrides the computed backoff.
type retryAfter interface {
	RetryAfter() time.Duration
}

// Policy holds the backoff configuration. A single Policy is built from
// config and injected wherever outbound calls are made; it is safe for
// concurrent use.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap on any single delay

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// onRetry, if set, observes every backoff sleep.
	onRetry func(attempt int, delay time.Duration)
}

// NewPolicy builds a Policy with sane floors on its parameters.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		sleep:       sleepCtx,
	}
}

// OnRetry registers a callback observing each backoff sleep.
func (p *Policy) OnRetry(fn func(attempt int, delay time.Duration)) {
	p.onRetry = fn
}

// Do runs op, retrying on rate-limit and transient network errors with
// exponential backoff plus jitter. Non-retryable errors return
// immediately. When attempts run out the last error is wrapped in
// ErrExhausted.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.delayFor(attempt-1, lastErr)
			if p.onRetry != nil {
				p.onRetry(attempt, delay)
			}
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// delayFor computes the backoff for the given zero-based retry index. A
// server hint on the triggering error overrides the computed value.
func (p *Policy) delayFor(retry int, cause error) time.Duration {
	var ra retryAfter
	if errors.As(cause, &ra) {
		if hint := ra.RetryAfter(); hint > 0 {
			if hint > p.MaxDelay {
				return p.MaxDelay
			}
			return hint
		}
	}

	delay := p.BaseDelay << uint(retry)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	// Full jitter on the upper half keeps retries from synchronizing.
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func isRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
