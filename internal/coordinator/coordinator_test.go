package coordinator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/marketpulse/ingestor/internal/config"
	"github.com/marketpulse/ingestor/internal/report"
	"github.com/marketpulse/ingestor/internal/source"
	"github.com/marketpulse/ingestor/internal/storage"
	"github.com/sirupsen/logrus"
)

var testNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Environment:      "test",
		ChangeWindows:    []int{7, 30},
		RetryMaxAttempts: 1,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    time.Millisecond,
		MarketWorkers:    2,
		RunTimeout:       time.Minute,
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeStore is an in-memory Store mirroring the persistence semantics:
// append-only price points keyed by (ticker, timestamp), markets and
// change rows keyed upserts.
type fakeStore struct {
	mu      sync.Mutex
	markets map[string]storage.Market
	points  map[string]map[time.Time]storage.PricePoint
	changes map[string]map[int]storage.MarketChange
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		markets: make(map[string]storage.Market),
		points:  make(map[string]map[time.Time]storage.PricePoint),
		changes: make(map[string]map[int]storage.MarketChange),
	}
}

func (s *fakeStore) UpsertMarket(ctx context.Context, mkt *storage.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[mkt.Ticker] = *mkt
	return nil
}

func (s *fakeStore) AppendPricePoints(ctx context.Context, points []storage.PricePoint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, p := range points {
		if s.points[p.Ticker] == nil {
			s.points[p.Ticker] = make(map[time.Time]storage.PricePoint)
		}
		if _, ok := s.points[p.Ticker][p.Timestamp]; ok {
			continue
		}
		s.points[p.Ticker][p.Timestamp] = p
		inserted++
	}
	return inserted, nil
}

func (s *fakeStore) LatestPricePoint(ctx context.Context, ticker string) (*storage.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *storage.PricePoint
	for _, p := range s.points[ticker] {
		p := p
		if latest == nil || p.Timestamp.After(latest.Timestamp) {
			latest = &p
		}
	}
	return latest, nil
}

func (s *fakeStore) HistorySince(ctx context.Context, ticker string, since time.Time) ([]storage.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.PricePoint
	for _, p := range s.points[ticker] {
		if !p.Timestamp.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *fakeStore) SetCurrentPrice(ctx context.Context, ticker string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mkt, ok := s.markets[ticker]
	if !ok {
		return fmt.Errorf("market %s not found", ticker)
	}
	mkt.CurrentPrice = price
	s.markets[ticker] = mkt
	return nil
}

func (s *fakeStore) UpsertMarketChanges(ctx context.Context, changes []storage.MarketChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		if s.changes[c.Ticker] == nil {
			s.changes[c.Ticker] = make(map[int]storage.MarketChange)
		}
		s.changes[c.Ticker][c.WindowDays] = c
	}
	return nil
}

func (s *fakeStore) pointCount(ticker string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points[ticker])
}

// fakeAdapter serves canned pages and histories.
type fakeAdapter struct {
	mu        sync.Mutex
	name      string
	pages     []*source.MarketPage
	histories map[string]*source.History
	histErr   map[string]error
	pageErr   error

	sinceSeen map[string]time.Time
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) FetchActiveMarkets(ctx context.Context, cursor string) (*source.MarketPage, error) {
	if a.pageErr != nil {
		return nil, a.pageErr
	}
	idx := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &idx)
	}
	if idx >= len(a.pages) {
		return &source.MarketPage{}, nil
	}
	page := a.pages[idx]
	if idx+1 < len(a.pages) {
		page.NextCursor = fmt.Sprintf("%d", idx+1)
	}
	return page, nil
}

func (a *fakeAdapter) FetchMarketHistory(ctx context.Context, mkt *source.Market, since time.Time) (*source.History, error) {
	a.mu.Lock()
	if a.sinceSeen == nil {
		a.sinceSeen = make(map[string]time.Time)
	}
	a.sinceSeen[mkt.Ticker] = since
	a.mu.Unlock()

	if err := a.histErr[mkt.Ticker]; err != nil {
		return nil, err
	}
	hist := a.histories[mkt.Ticker]
	if hist == nil {
		return &source.History{}, nil
	}
	var filtered []source.PriceSample
	for _, s := range hist.Samples {
		if s.Timestamp.After(since) {
			filtered = append(filtered, s)
		}
	}
	return &source.History{Samples: filtered, Skipped: hist.Skipped}, nil
}

type nopSender struct{}

func (nopSender) Send(ctx context.Context, summary *report.RunSummary) error { return nil }

func testMarket(ticker string) source.Market {
	return source.Market{
		Ticker:       ticker,
		Title:        "Test market " + ticker,
		Category:     "Economics",
		Status:       source.StatusActive,
		CurrentPrice: 0.5,
		HistoryToken: "tok-" + ticker,
	}
}

func sampleAt(daysAgo int, price float64) source.PriceSample {
	return source.PriceSample{Timestamp: testNow.AddDate(0, 0, -daysAgo), Price: price}
}

func newTestCoordinator(store Store) *Coordinator {
	c := New(testConfig(), store, nopSender{}, testLogger())
	c.now = func() time.Time { return testNow }
	return c
}

func TestRunPersistsAndComputesChanges(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "kalshi",
		pages: []*source.MarketPage{
			{Markets: []source.Market{testMarket("FED-25DEC")}},
		},
		histories: map[string]*source.History{
			"FED-25DEC": {Samples: []source.PriceSample{
				sampleAt(3, 0.40),
				sampleAt(2, 0.48),
				sampleAt(1, 0.55),
			}},
		},
	}

	c := newTestCoordinator(store)
	summary, err := c.Run(context.Background(), []source.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	src := summary.Sources[0]
	if src.MarketsProcessed != 1 || src.MarketsFailed != 0 {
		t.Fatalf("unexpected summary: %+v", src)
	}
	if src.PricePointsInserted != 3 {
		t.Errorf("expected 3 inserted points, got %d", src.PricePointsInserted)
	}
	if summary.Failed() {
		t.Error("run should not be failed")
	}

	mkt := store.markets["FED-25DEC"]
	if mkt.CurrentPrice != 0.55 {
		t.Errorf("current price should follow latest sample, got %v", mkt.CurrentPrice)
	}

	ch := store.changes["FED-25DEC"][7]
	if got, want := ch.PriceChange, 0.55-0.40; !closeTo(got, want) {
		t.Errorf("price change = %v, want %v", got, want)
	}
	if !closeTo(ch.MinPrice, 0.40) || !closeTo(ch.MaxPrice, 0.55) {
		t.Errorf("extrema = %v/%v, want 0.40/0.55", ch.MinPrice, ch.MaxPrice)
	}
	if got, want := ch.ChangePercentage, (0.55-0.40)/0.40*100; !closeTo(got, want) {
		t.Errorf("change percentage = %v, want %v", got, want)
	}
	if _, ok := store.changes["FED-25DEC"][30]; !ok {
		t.Error("expected a row for the 30 day window")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "kalshi",
		pages: []*source.MarketPage{
			{Markets: []source.Market{testMarket("FED-25DEC")}},
		},
		histories: map[string]*source.History{
			"FED-25DEC": {Samples: []source.PriceSample{
				sampleAt(2, 0.48),
				sampleAt(1, 0.55),
			}},
		},
	}

	c := newTestCoordinator(store)
	if _, err := c.Run(context.Background(), []source.Adapter{adapter}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := store.changes["FED-25DEC"][7]

	summary, err := c.Run(context.Background(), []source.Adapter{adapter})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := summary.Sources[0].PricePointsInserted; got != 0 {
		t.Errorf("second run inserted %d points, want 0", got)
	}
	if store.pointCount("FED-25DEC") != 2 {
		t.Errorf("expected 2 stored points, got %d", store.pointCount("FED-25DEC"))
	}

	// The upsert rewrote the row with the adapter snapshot (0.5); the run
	// must roll it forward to the latest stored point even though no new
	// samples arrived.
	if got := store.markets["FED-25DEC"].CurrentPrice; got != 0.55 {
		t.Errorf("after rerun market current price = %v, want 0.55 (latest stored point)", got)
	}

	second := store.changes["FED-25DEC"][7]
	if first.PriceChange != second.PriceChange || first.MinPrice != second.MinPrice ||
		first.MaxPrice != second.MaxPrice || first.ChangePercentage != second.ChangePercentage {
		t.Errorf("change rows differ between runs: %+v vs %+v", first, second)
	}
}

func TestRunPassesLatestTimestampAsSince(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "kalshi",
		pages: []*source.MarketPage{
			{Markets: []source.Market{testMarket("FED-25DEC")}},
		},
		histories: map[string]*source.History{
			"FED-25DEC": {Samples: []source.PriceSample{sampleAt(1, 0.55)}},
		},
	}

	c := newTestCoordinator(store)
	if _, err := c.Run(context.Background(), []source.Adapter{adapter}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !adapter.sinceSeen["FED-25DEC"].IsZero() {
		t.Error("first run should pass a zero since")
	}

	if _, err := c.Run(context.Background(), []source.Adapter{adapter}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	want := testNow.AddDate(0, 0, -1)
	if !adapter.sinceSeen["FED-25DEC"].Equal(want) {
		t.Errorf("second run since = %v, want %v", adapter.sinceSeen["FED-25DEC"], want)
	}
}

func TestMarketFailureDoesNotBlockOthers(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "polymarket",
		pages: []*source.MarketPage{
			{Markets: []source.Market{testMarket("0xbad"), testMarket("0xgood")}},
		},
		histories: map[string]*source.History{
			"0xgood": {Samples: []source.PriceSample{sampleAt(1, 0.3)}},
		},
		histErr: map[string]error{
			"0xbad": &source.APIError{Source: "polymarket", StatusCode: 404, Body: "not found"},
		},
	}

	c := newTestCoordinator(store)
	summary, err := c.Run(context.Background(), []source.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	src := summary.Sources[0]
	if src.MarketsProcessed != 1 {
		t.Errorf("processed = %d, want 1", src.MarketsProcessed)
	}
	if src.MarketsFailed != 1 {
		t.Errorf("failed = %d, want 1", src.MarketsFailed)
	}
	if store.pointCount("0xgood") != 1 {
		t.Error("healthy market should still be persisted")
	}
	if src.Error != "" {
		t.Errorf("per-market failure should not abort the source: %q", src.Error)
	}
}

func TestAuthErrorAbortsSource(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name:    "kalshi",
		pageErr: &source.AuthError{Source: "kalshi", Reason: "bad signature"},
	}

	c := newTestCoordinator(store)
	summary, err := c.Run(context.Background(), []source.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	src := summary.Sources[0]
	if src.Error == "" {
		t.Fatal("expected source error to be recorded")
	}
	if src.MarketsProcessed != 0 {
		t.Errorf("processed = %d, want 0", src.MarketsProcessed)
	}
	if !summary.Failed() {
		t.Error("auth failure should fail the run")
	}
}

func TestExpiredDeadlineStopsDispatch(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "kalshi",
		pages: []*source.MarketPage{
			{Markets: []source.Market{testMarket("FED-25DEC")}},
		},
		histories: map[string]*source.History{
			"FED-25DEC": {Samples: []source.PriceSample{sampleAt(1, 0.55)}},
		},
	}

	// Seed the store through a normal run first.
	if _, err := newTestCoordinator(store).Run(context.Background(), []source.Adapter{adapter}); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	// A run whose deadline has already passed must not dispatch anything.
	cfg := testConfig()
	cfg.RunTimeout = -time.Second
	c := New(cfg, store, nopSender{}, testLogger())
	c.now = func() time.Time { return testNow }

	summary, err := c.Run(context.Background(), []source.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	src := summary.Sources[0]
	if src.PagesFetched != 0 || src.MarketsProcessed != 0 {
		t.Errorf("expired run fetched %d pages and processed %d markets, want 0/0",
			src.PagesFetched, src.MarketsProcessed)
	}
	if src.Error == "" {
		t.Error("expired run should record the deadline error")
	}

	// Rows persisted by the earlier run stay untouched.
	if store.pointCount("FED-25DEC") != 1 {
		t.Errorf("stored points = %d, want 1", store.pointCount("FED-25DEC"))
	}
	if _, ok := store.markets["FED-25DEC"]; !ok {
		t.Error("market row from earlier run is gone")
	}
}

func TestPaginationAcrossPages(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "polymarket",
		pages: []*source.MarketPage{
			{Markets: []source.Market{testMarket("0xa")}, Skipped: 2},
			{Markets: []source.Market{testMarket("0xb")}},
		},
		histories: map[string]*source.History{
			"0xa": {Samples: []source.PriceSample{sampleAt(1, 0.2)}},
			"0xb": {Samples: []source.PriceSample{sampleAt(1, 0.8)}},
		},
	}

	c := newTestCoordinator(store)
	summary, err := c.Run(context.Background(), []source.Adapter{adapter})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	src := summary.Sources[0]
	if src.PagesFetched != 2 {
		t.Errorf("pages = %d, want 2", src.PagesFetched)
	}
	if src.MarketsFetched != 2 || src.MarketsProcessed != 2 {
		t.Errorf("fetched/processed = %d/%d, want 2/2", src.MarketsFetched, src.MarketsProcessed)
	}
	if src.RecordsSkipped != 2 {
		t.Errorf("skipped = %d, want 2", src.RecordsSkipped)
	}
}

func TestUndefinedChangeWithSinglePoint(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{
		name: "kalshi",
		pages: []*source.MarketPage{
			{Markets: []source.Market{testMarket("NEW-MKT")}},
		},
		histories: map[string]*source.History{
			"NEW-MKT": {Samples: []source.PriceSample{sampleAt(1, 0.5)}},
		},
	}

	c := newTestCoordinator(store)
	if _, err := c.Run(context.Background(), []source.Adapter{adapter}); err != nil {
		t.Fatalf("run: %v", err)
	}

	ch, ok := store.changes["NEW-MKT"][7]
	if !ok {
		t.Fatal("expected a zero-valued change row for a market with one point")
	}
	if ch.PriceChange != 0 || ch.MinPrice != 0 || ch.MaxPrice != 0 || ch.ChangePercentage != 0 {
		t.Errorf("expected zero stats, got %+v", ch)
	}
}

func closeTo(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
