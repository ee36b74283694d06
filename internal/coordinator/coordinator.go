// Package coordinator drives a full ingestion run: paginate each enabled
// source, fan markets out to a bounded worker pool, persist normalized
// records, and materialize windowed change statistics.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marketpulse/ingestor/internal/change"
	"github.com/marketpulse/ingestor/internal/config"
	"github.com/marketpulse/ingestor/internal/metrics"
	"github.com/marketpulse/ingestor/internal/report"
	"github.com/marketpulse/ingestor/internal/retry"
	"github.com/marketpulse/ingestor/internal/source"
	"github.com/marketpulse/ingestor/internal/storage"
	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the coordinator needs. *storage.DB
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	UpsertMarket(ctx context.Context, mkt *storage.Market) error
	AppendPricePoints(ctx context.Context, points []storage.PricePoint) (int, error)
	LatestPricePoint(ctx context.Context, ticker string) (*storage.PricePoint, error)
	HistorySince(ctx context.Context, ticker string, since time.Time) ([]storage.PricePoint, error)
	SetCurrentPrice(ctx context.Context, ticker string, price float64) error
	UpsertMarketChanges(ctx context.Context, changes []storage.MarketChange) error
}

// Coordinator runs the ingestion pipeline for a set of source adapters.
type Coordinator struct {
	cfg        *config.Config
	store      Store
	sender     report.Sender
	workerPool chan struct{}
	log        *logrus.Logger
	now        func() time.Time
}

// New creates a new coordinator
func New(cfg *config.Config, store Store, sender report.Sender, log *logrus.Logger) *Coordinator {
	workerPool := make(chan struct{}, cfg.MarketWorkers)
	for i := 0; i < cfg.MarketWorkers; i++ {
		workerPool <- struct{}{}
	}

	return &Coordinator{
		cfg:        cfg,
		store:      store,
		sender:     sender,
		workerPool: workerPool,
		log:        log,
		now:        time.Now,
	}
}

// Run executes one full ingestion pass over all adapters and delivers the
// run summary. Sources run sequentially; markets within a source run on
// the worker pool. The returned summary is always non-nil.
func (c *Coordinator) Run(ctx context.Context, adapters []source.Adapter) (*report.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	summary := &report.RunSummary{
		StartedAt:   c.now().UTC(),
		Environment: c.cfg.Environment,
	}

	for _, adapter := range adapters {
		src := c.runSource(ctx, adapter)
		summary.Sources = append(summary.Sources, src)
		metrics.RecordRun(src.Source, src.Duration, src.Failed())
	}

	summary.FinishedAt = c.now().UTC()

	if err := c.sender.Send(ctx, summary); err != nil {
		c.log.WithError(err).Error("Failed to deliver run summary")
	}

	return summary, nil
}

// sourceState accumulates per-market outcomes across the worker pool.
type sourceState struct {
	mu      sync.Mutex
	summary report.SourceSummary
	aborted bool // set on auth failure, stops further dispatch
}

func (s *sourceState) markProcessed(inserted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.MarketsProcessed++
	s.summary.PricePointsInserted += inserted
}

func (s *sourceState) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.MarketsFailed++
}

func (s *sourceState) abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	if s.summary.Error == "" {
		s.summary.Error = err.Error()
	}
}

func (s *sourceState) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

func (c *Coordinator) runSource(ctx context.Context, adapter source.Adapter) report.SourceSummary {
	name := adapter.Name()
	started := c.now()

	policy := retry.NewPolicy(c.cfg.RetryMaxAttempts, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)
	policy.OnRetry(func(attempt int, delay time.Duration) {
		metrics.RecordRetrySleep(name)
		c.log.WithFields(logrus.Fields{
			"source":  name,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Retrying after transient failure")
	})

	state := &sourceState{summary: report.SourceSummary{Source: name}}

	var wg sync.WaitGroup
	cursor := ""
	for {
		if state.isAborted() || ctx.Err() != nil {
			break
		}

		var page *source.MarketPage
		err := policy.Do(ctx, func(ctx context.Context) error {
			var ferr error
			page, ferr = adapter.FetchActiveMarkets(ctx, cursor)
			return ferr
		})
		if err != nil {
			// Markets already dispatched keep their results; the
			// remaining pages are lost for this run.
			state.abort(fmt.Errorf("fetch markets page: %w", err))
			c.log.WithError(err).WithField("source", name).Error("Market pagination aborted")
			break
		}

		state.mu.Lock()
		state.summary.PagesFetched++
		state.summary.MarketsFetched += len(page.Markets)
		state.summary.RecordsSkipped += page.Skipped
		state.mu.Unlock()

		for i := range page.Markets {
			if state.isAborted() || ctx.Err() != nil {
				break
			}

			wg.Add(1)
			go func(mkt source.Market) {
				defer wg.Done()

				<-c.workerPool
				defer func() { c.workerPool <- struct{}{} }()

				inserted, err := c.processMarket(ctx, adapter, &mkt)
				if err != nil {
					if source.IsAuth(err) {
						state.abort(err)
					} else {
						state.markFailed()
					}
					metrics.RecordMarketProcessed(name, "failed")
					c.log.WithError(err).WithFields(logrus.Fields{
						"source": name,
						"ticker": mkt.Ticker,
					}).Error("Failed to process market")
					return
				}
				state.markProcessed(inserted)
				metrics.RecordMarketProcessed(name, "ok")
			}(page.Markets[i])
		}

		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}

	wg.Wait()

	state.mu.Lock()
	summary := state.summary
	state.mu.Unlock()
	summary.Duration = c.now().Sub(started)
	if summary.Error == "" && ctx.Err() != nil {
		summary.Error = fmt.Sprintf("run deadline exceeded: %v", ctx.Err())
	}
	return summary
}

// processMarket is the per-market unit of work: upsert the market row,
// fetch the history since the last stored point, append new points, roll
// the current price forward, and rewrite the windowed change rows. It
// returns the number of price points actually inserted.
func (c *Coordinator) processMarket(ctx context.Context, adapter source.Adapter, mkt *source.Market) (int, error) {
	name := adapter.Name()

	record, err := marketRecord(name, mkt)
	if err != nil {
		return 0, fmt.Errorf("build market record: %w", err)
	}
	if err := c.store.UpsertMarket(ctx, record); err != nil {
		return 0, fmt.Errorf("upsert market %s: %w", mkt.Ticker, err)
	}

	since := time.Time{}
	latest, err := c.store.LatestPricePoint(ctx, mkt.Ticker)
	if err != nil {
		return 0, fmt.Errorf("latest price point %s: %w", mkt.Ticker, err)
	}
	if latest != nil {
		since = latest.Timestamp
	}

	policy := retry.NewPolicy(c.cfg.RetryMaxAttempts, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)
	policy.OnRetry(func(attempt int, delay time.Duration) {
		metrics.RecordRetrySleep(name)
	})

	var hist *source.History
	err = policy.Do(ctx, func(ctx context.Context) error {
		var ferr error
		hist, ferr = adapter.FetchMarketHistory(ctx, mkt, since)
		return ferr
	})
	if err != nil {
		if errors.Is(err, source.ErrMalformed) {
			metrics.RecordRecordSkipped(name, "malformed_market")
		}
		return 0, fmt.Errorf("fetch history %s: %w", mkt.Ticker, err)
	}

	inserted, err := c.store.AppendPricePoints(ctx, pricePointRecords(mkt.Ticker, hist.Samples))
	if err != nil {
		return 0, fmt.Errorf("append price points %s: %w", mkt.Ticker, err)
	}
	metrics.RecordPricePointsInserted(name, inserted)

	// The current price is the newest observed point: the last fetched
	// sample, or the stored latest when this run brought nothing new. The
	// upsert above wrote the adapter's snapshot, so the rolled-forward
	// price must be persisted in both cases to keep the market row in
	// step with its price history.
	currentPrice := mkt.CurrentPrice
	switch {
	case len(hist.Samples) > 0:
		currentPrice = hist.Samples[len(hist.Samples)-1].Price
	case latest != nil:
		currentPrice = latest.Price
	}
	if len(hist.Samples) > 0 || latest != nil {
		if err := c.store.SetCurrentPrice(ctx, mkt.Ticker, currentPrice); err != nil {
			return inserted, fmt.Errorf("set current price %s: %w", mkt.Ticker, err)
		}
	}

	if err := c.updateChanges(ctx, mkt.Ticker, currentPrice); err != nil {
		return inserted, fmt.Errorf("update changes %s: %w", mkt.Ticker, err)
	}

	return inserted, nil
}

func (c *Coordinator) updateChanges(ctx context.Context, ticker string, currentPrice float64) error {
	maxWindow := 0
	for _, w := range c.cfg.ChangeWindows {
		if w > maxWindow {
			maxWindow = w
		}
	}

	now := c.now().UTC()
	stored, err := c.store.HistorySince(ctx, ticker, now.AddDate(0, 0, -maxWindow))
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	points := make([]change.Point, 0, len(stored))
	for _, p := range stored {
		points = append(points, change.Point{Timestamp: p.Timestamp, Price: p.Price})
	}

	stats := change.ComputeAll(points, currentPrice, now, c.cfg.ChangeWindows)
	rows := make([]storage.MarketChange, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, storage.MarketChange{
			Ticker:           ticker,
			WindowDays:       st.WindowDays,
			PriceChange:      st.PriceChange,
			MinPrice:         st.MinPrice,
			MaxPrice:         st.MaxPrice,
			ChangePercentage: st.ChangePercentage,
			CalculatedAt:     now,
		})
	}
	return c.store.UpsertMarketChanges(ctx, rows)
}

// marketRecord converts a normalized market into its storage row.
func marketRecord(sourceName string, mkt *source.Market) (*storage.Market, error) {
	tags := ""
	if len(mkt.Tags) > 0 {
		encoded, err := json.Marshal(mkt.Tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tags: %w", err)
		}
		tags = string(encoded)
	}

	return &storage.Market{
		Ticker:          mkt.Ticker,
		Source:          sourceName,
		Title:           mkt.Title,
		Subtitle:        mkt.Subtitle,
		Category:        mkt.Category,
		Status:          mkt.Status,
		CurrentPrice:    mkt.CurrentPrice,
		Volume24h:       mkt.Volume24h,
		Liquidity:       mkt.Liquidity,
		OpenTime:        mkt.OpenTime,
		CloseTime:       mkt.CloseTime,
		ExpirationTime:  mkt.ExpirationTime,
		SeriesTicker:    mkt.SeriesTicker,
		ResolutionRules: mkt.ResolutionRules,
		Tags:            tags,
	}, nil
}

func pricePointRecords(ticker string, samples []source.PriceSample) []storage.PricePoint {
	points := make([]storage.PricePoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, storage.PricePoint{
			Ticker:    ticker,
			Timestamp: s.Timestamp.UTC(),
			Price:     s.Price,
			Volume:    s.Volume,
		})
	}
	return points
}
