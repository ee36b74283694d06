// Package report carries the end-of-run summary to its configured
// destinations.
package report

import (
	"context"
	"time"
)

// SourceSummary aggregates one source's run outcome.
type SourceSummary struct {
	Source              string        `json:"source"`
	PagesFetched        int           `json:"pages_fetched"`
	MarketsFetched      int           `json:"markets_fetched"`
	MarketsProcessed    int           `json:"markets_processed"`
	MarketsFailed       int           `json:"markets_failed"`
	RecordsSkipped      int           `json:"records_skipped"`
	PricePointsInserted int           `json:"price_points_inserted"`
	Duration            time.Duration `json:"duration_ns"`
	Error               string        `json:"error,omitempty"`
}

// Failed reports whether the source produced nothing usable. A source
// that processed at least one market is considered to have succeeded
// even when later pages or individual markets failed.
func (s *SourceSummary) Failed() bool {
	return s.MarketsProcessed == 0
}

// RunSummary aggregates one full scheduled run across all sources.
type RunSummary struct {
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Environment string          `json:"environment"`
	Sources     []SourceSummary `json:"sources"`
}

// Failed reports whether any source failed outright; this is what drives
// a non-zero exit in run-once mode.
func (r *RunSummary) Failed() bool {
	for i := range r.Sources {
		if r.Sources[i].Failed() {
			return true
		}
	}
	return false
}

// Sender delivers a run summary to one destination.
type Sender interface {
	Send(ctx context.Context, summary *RunSummary) error
}
