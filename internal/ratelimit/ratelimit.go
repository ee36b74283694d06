// Package ratelimit provides a small token-bucket limiter used by the API
// clients to stay under each source's request budget.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements a token bucket refilled at a fixed rate.
type Limiter struct {
	rate       float64 // tokens per second
	tokens     float64
	maxTokens  float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// New creates a limiter allowing rps requests per second with a burst of
// the same size.
func New(rps float64) *Limiter {
	return NewWithBurst(rps, rps)
}

// NewWithBurst creates a limiter allowing rps requests per second with an
// explicit burst capacity.
func NewWithBurst(rps, burst float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	if burst < 1 {
		burst = 1.0
	}
	return &Limiter{
		rate:       rps,
		tokens:     burst,
		maxTokens:  burst,
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, wait := l.take()
		if ok {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// take attempts to consume a token, returning the suggested wait time on
// failure.
func (l *Limiter) take() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()

	l.tokens += elapsed * l.rate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastUpdate = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - l.tokens
	return false, time.Duration(deficit / l.rate * float64(time.Second))
}
