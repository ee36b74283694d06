// Package source defines the canonical market and price-sample shapes that
// every API adapter must normalize into, plus the adapter contract and the
// error taxonomy shared by the retry controller and the coordinator.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Market statuses after normalization. Adapters map whatever the upstream
// API reports onto these three values.
const (
	StatusActive  = "active"
	StatusClosed  = "closed"
	StatusSettled = "settled"
)

// Market is the canonical market record. No source-specific field names
// survive past the adapter boundary; HistoryToken is an opaque handle the
// owning adapter uses to locate the market's price history.
type Market struct {
	Ticker          string
	Title           string
	Subtitle        string
	Category        string
	Status          string
	CurrentPrice    float64 // probability in [0,1]
	Volume24h       int64
	Liquidity       int64
	OpenTime        *time.Time
	CloseTime       *time.Time
	ExpirationTime  *time.Time
	SeriesTicker    string
	ResolutionRules string
	Tags            []string
	HistoryToken    string
}

// PriceSample is a single observed price for a market.
type PriceSample struct {
	Timestamp time.Time
	Price     float64 // probability in [0,1]
	Volume    int64
}

// MarketPage is one page of normalized markets. NextCursor is empty when
// pagination is done. Skipped counts records dropped during normalization.
type MarketPage struct {
	Markets    []Market
	NextCursor string
	Skipped    int
}

// History is the normalized result of a history fetch. Skipped counts
// samples dropped during normalization.
type History struct {
	Samples []PriceSample
	Skipped int
}

// Adapter is the per-source client contract consumed by the coordinator.
type Adapter interface {
	// Name identifies the source in logs, metrics and run summaries.
	Name() string

	// FetchActiveMarkets returns one page of active markets. Pass an empty
	// cursor for the first page; pagination is done when the returned page
	// has an empty NextCursor.
	FetchActiveMarkets(ctx context.Context, cursor string) (*MarketPage, error)

	// FetchMarketHistory returns price samples for the market strictly newer
	// than since. A zero since means "as far back as the source allows".
	FetchMarketHistory(ctx context.Context, mkt *Market, since time.Time) (*History, error)
}

// APIError is a non-2xx response from an upstream API.
type APIError struct {
	Source     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Source, e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports whether the status should be retried. Only rate
// limiting and temporary unavailability qualify; all other statuses mean
// the page or record is skipped.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode == 503
}

// RateLimitError is a 429/503 carrying a server-supplied retry hint.
type RateLimitError struct {
	Source     string
	Endpoint   string
	StatusCode int
	Hint       time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s %s: rate limited (%d), retry after %s", e.Source, e.Endpoint, e.StatusCode, e.Hint)
}

func (e *RateLimitError) Retryable() bool { return true }

// RetryAfter returns the server-supplied delay hint, zero if none was sent.
func (e *RateLimitError) RetryAfter() time.Duration { return e.Hint }

// AuthError is an authentication or signing failure. It aborts the whole
// run for that source rather than being retried or skipped.
type AuthError struct {
	Source string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Source, e.Reason)
}

// TransientError wraps a network-level failure (connection refused, reset,
// timeout). Always retryable.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient network error: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retryable() bool { return true }

// ErrMalformed marks a record that failed normalization and was skipped.
var ErrMalformed = errors.New("malformed record")

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
