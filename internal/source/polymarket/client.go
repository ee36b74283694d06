// Package polymarket implements the public Polymarket adapter: market
// listings come from the Gamma API, price history from the CLOB API.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/marketpulse/ingestor/internal/config"
	"github.com/marketpulse/ingestor/internal/metrics"
	"github.com/marketpulse/ingestor/internal/ratelimit"
	"github.com/marketpulse/ingestor/internal/source"
)

// historyBackstop bounds the first-ever history fetch for a market.
const historyBackstop = 30 * 24 * time.Hour

// Client is the Polymarket adapter. Both upstream APIs are public; no
// authentication headers are sent.
type Client struct {
	gammaURL     string
	clobURL      string
	httpClient   *http.Client
	gammaLimiter *ratelimit.Limiter
	clobLimiter  *ratelimit.Limiter
	pageLimit    int
	minVolume    float64
	now          func() time.Time
}

// NewClient creates a new Polymarket adapter.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		gammaURL:     cfg.GammaAPIBaseURL,
		clobURL:      cfg.ClobAPIBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		gammaLimiter: ratelimit.New(cfg.GammaRPS),
		clobLimiter:  ratelimit.New(cfg.ClobRPS),
		pageLimit:    cfg.PolymarketPageLimit,
		minVolume:    cfg.PolymarketMinVolume,
		now:          time.Now,
	}
}

// Name implements source.Adapter.
func (c *Client) Name() string { return config.SourcePolymarket }

// FetchActiveMarkets returns one page of active markets. The Gamma API
// paginates with limit/offset, so the opaque cursor is the next offset.
func (c *Client) FetchActiveMarkets(ctx context.Context, cursor string) (*source.MarketPage, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageLimit))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("active", "true")
	q.Set("closed", "false")

	var markets []gammaMarket
	if err := c.get(ctx, c.gammaURL, c.gammaLimiter, "/markets", q, &markets); err != nil {
		return nil, err
	}

	page := &source.MarketPage{}
	if len(markets) == c.pageLimit {
		page.NextCursor = strconv.Itoa(offset + c.pageLimit)
	}

	for i := range markets {
		m := &markets[i]
		if volumeOf(m) < c.minVolume {
			page.Skipped++
			metrics.RecordRecordSkipped(config.SourcePolymarket, "below_min_volume")
			continue
		}
		mkt, err := normalizeMarket(m)
		if err != nil {
			page.Skipped++
			metrics.RecordRecordSkipped(config.SourcePolymarket, "malformed_market")
			continue
		}
		page.Markets = append(page.Markets, *mkt)
	}

	return page, nil
}

// FetchMarketHistory fetches CLOB price history for the market's first
// outcome token and returns samples strictly newer than since.
func (c *Client) FetchMarketHistory(ctx context.Context, mkt *source.Market, since time.Time) (*source.History, error) {
	if mkt.HistoryToken == "" {
		return nil, fmt.Errorf("%w: market %s has no history token", source.ErrMalformed, mkt.Ticker)
	}

	endTS := c.now().Unix()
	startTS := since.Unix()
	if since.IsZero() {
		startTS = endTS - int64(historyBackstop.Seconds())
	}

	q := url.Values{}
	q.Set("market", mkt.HistoryToken)
	q.Set("startTs", strconv.FormatInt(startTS, 10))
	q.Set("endTs", strconv.FormatInt(endTS, 10))

	var resp clobHistoryResponse
	if err := c.get(ctx, c.clobURL, c.clobLimiter, "/prices-history", q, &resp); err != nil {
		return nil, err
	}

	history := &source.History{}
	for _, pt := range resp.History {
		sample, err := normalizeSample(pt)
		if err != nil {
			history.Skipped++
			metrics.RecordRecordSkipped(config.SourcePolymarket, "malformed_sample")
			continue
		}
		if !sample.Timestamp.After(since) {
			continue
		}
		history.Samples = append(history.Samples, *sample)
	}

	// The CLOB API usually responds in ascending order, but downstream
	// consumers take the last sample as the market's newest price.
	sort.Slice(history.Samples, func(i, j int) bool {
		return history.Samples[i].Timestamp.Before(history.Samples[j].Timestamp)
	})

	return history, nil
}

// get performs an unauthenticated GET against the given base URL and
// decodes the JSON response.
func (c *Client) get(ctx context.Context, baseURL string, limiter *ratelimit.Limiter, path string, query url.Values, result any) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	fullURL := baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest(config.SourcePolymarket, path, time.Since(start), err)
	if err != nil {
		return &source.TransientError{Source: config.SourcePolymarket, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &source.TransientError{Source: config.SourcePolymarket, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return source.ErrorFromResponse(config.SourcePolymarket, path, resp.StatusCode, body, resp.Header.Get("Retry-After"))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// normalizeMarket maps a Gamma market onto the canonical shape. A market
// without CLOB token ids has no fetchable history and fails
// normalization.
func normalizeMarket(m *gammaMarket) (*source.Market, error) {
	if m.ID == "" || m.Question == "" {
		return nil, fmt.Errorf("%w: missing id or question", source.ErrMalformed)
	}

	tokens := parseStringList(m.ClobTokenIDs)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no clob token ids", source.ErrMalformed)
	}

	price, err := firstOutcomePrice(m.OutcomePrices)
	if err != nil {
		return nil, err
	}

	status := source.StatusClosed
	if m.Active && !m.Closed {
		status = source.StatusActive
	}

	category := m.Category
	if category == "" {
		category = "Other"
	}

	seriesTicker := ""
	if len(m.Events) > 0 {
		seriesTicker = m.Events[0].ID
	}

	return &source.Market{
		Ticker:         m.ID,
		Title:          m.Question,
		Subtitle:       m.Description,
		Category:       category,
		Status:         status,
		CurrentPrice:   price,
		Volume24h:      int64(m.Volume24hr),
		Liquidity:      int64(m.LiquidityNum),
		ExpirationTime: parseTime(m.EndDate),
		CloseTime:      parseTime(m.EndDate),
		SeriesTicker:   seriesTicker,
		Tags:           []string{},
		HistoryToken:   tokens[0], // first token is the YES outcome
	}, nil
}

// normalizeSample converts a CLOB history point, tolerating millisecond
// timestamps.
func normalizeSample(pt clobPricePoint) (*source.PriceSample, error) {
	ts := pt.T
	if ts > 1e12 {
		ts /= 1000
	}
	if ts == 0 {
		return nil, fmt.Errorf("%w: missing timestamp", source.ErrMalformed)
	}
	if pt.P < 0 || pt.P > 1 || math.IsNaN(pt.P) {
		return nil, fmt.Errorf("%w: price %v outside [0,1]", source.ErrMalformed, pt.P)
	}

	return &source.PriceSample{
		Timestamp: time.Unix(ts, 0).UTC(),
		Price:     pt.P,
		// The prices-history endpoint carries no volume.
		Volume: 0,
	}, nil
}

// firstOutcomePrice extracts the YES outcome price, returning zero when
// the field is absent; the coordinator refreshes the current price from
// history anyway.
func firstOutcomePrice(raw json.RawMessage) (float64, error) {
	prices := parseStringList(raw)
	if len(prices) == 0 {
		return 0, nil
	}
	p, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable outcome price %q", source.ErrMalformed, prices[0])
	}
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: outcome price %v outside [0,1]", source.ErrMalformed, p)
	}
	return p, nil
}

// parseStringList handles Gamma fields that are either a JSON array of
// strings or that same array double-encoded as a string.
func parseStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &list); err != nil {
		return nil
	}
	return list
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// volumeOf prefers the 24h figure and falls back to lifetime volume for
// markets where Gamma omits it.
func volumeOf(m *gammaMarket) float64 {
	if m.Volume24hr > 0 {
		return m.Volume24hr
	}
	return m.VolumeNum
}
