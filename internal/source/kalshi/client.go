// Package kalshi implements the signed Kalshi trade API adapter.
package kalshi

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

// historyBackstop bounds the first-ever history fetch for a market whose
// open time is unknown.
const historyBackstop = 30 * 24 * time.Hour

// candlesPerCall is the API's maximum number of periods per candlesticks
// request.
const candlesPerCall = 5000

// Client is the Kalshi adapter. All outbound requests are signed with the
// configured key id and private key.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	creds        *Credentials
	limiter      *ratelimit.Limiter
	pageLimit    int
	statusFilter string
	candlePeriod int // minutes
	now          func() time.Time
}

// NewClient creates a new Kalshi adapter, loading the signing key from
// disk. A missing or unparseable key is a configuration error and fatal
// for the run.
func NewClient(cfg *config.Config) (*Client, error) {
	creds, err := LoadCredentials(cfg.KalshiKeyID, cfg.KalshiPrivateKeyPath)
	if err != nil {
		return nil, &source.AuthError{Source: config.SourceKalshi, Reason: err.Error()}
	}

	return &Client{
		baseURL:      cfg.KalshiAPIBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		creds:        creds,
		limiter:      ratelimit.New(cfg.KalshiRPS),
		pageLimit:    cfg.KalshiPageLimit,
		statusFilter: cfg.KalshiStatusFilter,
		candlePeriod: cfg.CandlePeriodMinutes,
		now:          time.Now,
	}, nil
}

// Name implements source.Adapter.
func (c *Client) Name() string { return config.SourceKalshi }

// FetchActiveMarkets returns one cursor page of markets, normalized.
func (c *Client) FetchActiveMarkets(ctx context.Context, cursor string) (*source.MarketPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageLimit))
	q.Set("status", c.statusFilter)
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp marketsResponse
	if err := c.get(ctx, "/markets", q, &resp); err != nil {
		return nil, err
	}

	page := &source.MarketPage{NextCursor: resp.Cursor}
	for i := range resp.Markets {
		mkt, err := normalizeMarket(&resp.Markets[i])
		if err != nil {
			page.Skipped++
			metrics.RecordRecordSkipped(config.SourceKalshi, "malformed_market")
			continue
		}
		page.Markets = append(page.Markets, *mkt)
	}

	return page, nil
}

// FetchMarketHistory downloads candlesticks for the market in backward
// chunks bounded by the API's per-call span limit and returns mid-price
// samples strictly newer than since.
func (c *Client) FetchMarketHistory(ctx context.Context, mkt *source.Market, since time.Time) (*source.History, error) {
	seriesTicker := mkt.HistoryToken
	if seriesTicker == "" {
		seriesTicker = mkt.Ticker
	}

	endTS := c.now().Unix()
	startTS := since.Unix()
	if since.IsZero() {
		if mkt.OpenTime != nil {
			startTS = mkt.OpenTime.Unix()
		} else {
			startTS = endTS - int64(historyBackstop.Seconds())
		}
	}

	path := "/series/" + url.PathEscape(seriesTicker) + "/markets/" + url.PathEscape(mkt.Ticker) + "/candlesticks"
	periodSec := int64(c.candlePeriod) * 60
	maxSpan := periodSec * candlesPerCall

	history := &source.History{}
	for windowEnd := endTS; windowEnd > startTS; {
		windowStart := windowEnd - maxSpan
		if windowStart < startTS {
			windowStart = startTS
		}

		q := url.Values{}
		q.Set("period_interval", strconv.Itoa(c.candlePeriod))
		q.Set("start_ts", strconv.FormatInt(windowStart, 10))
		q.Set("end_ts", strconv.FormatInt(windowEnd, 10))

		var resp candlesticksResponse
		if err := c.get(ctx, path, q, &resp); err != nil {
			return nil, err
		}

		for i := range resp.Candlesticks {
			sample, err := normalizeCandle(&resp.Candlesticks[i])
			if err != nil {
				history.Skipped++
				metrics.RecordRecordSkipped(config.SourceKalshi, "malformed_sample")
				continue
			}
			if !sample.Timestamp.After(since) {
				continue
			}
			history.Samples = append(history.Samples, *sample)
		}

		windowEnd = windowStart - periodSec
	}

	sort.Slice(history.Samples, func(i, j int) bool {
		return history.Samples[i].Timestamp.Before(history.Samples[j].Timestamp)
	})

	return history, nil
}

// get performs a signed GET request and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	signedPath := path
	if len(query) > 0 {
		signedPath += "?" + query.Encode()
	}

	// The signed path is relative to the API root, which includes the base
	// URL's own path segment.
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}

	headers, err := c.creds.SignRequest(http.MethodGet, base.Path+signedPath)
	if err != nil {
		return &source.AuthError{Source: config.SourceKalshi, Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+signedPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordAPIRequest(config.SourceKalshi, path, time.Since(start), err)
	if err != nil {
		return &source.TransientError{Source: config.SourceKalshi, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &source.TransientError{Source: config.SourceKalshi, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return source.ErrorFromResponse(config.SourceKalshi, path, resp.StatusCode, body, resp.Header.Get("Retry-After"))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// normalizeMarket maps a Kalshi market onto the canonical shape. Cents
// become probabilities; unknown statuses and out-of-range prices fail
// normalization.
func normalizeMarket(m *apiMarket) (*source.Market, error) {
	if m.Ticker == "" || m.Title == "" {
		return nil, fmt.Errorf("%w: missing ticker or title", source.ErrMalformed)
	}

	status, ok := normalizeStatus(m.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", source.ErrMalformed, m.Status)
	}

	price := m.LastPrice / 100.0
	if price < 0 || price > 1 || math.IsNaN(price) {
		return nil, fmt.Errorf("%w: price %v outside [0,1]", source.ErrMalformed, price)
	}

	seriesTicker := m.SeriesTicker
	if seriesTicker == "" {
		seriesTicker = m.EventTicker
	}

	category := m.Category
	if category == "" {
		category = "Other"
	}

	return &source.Market{
		Ticker:          m.Ticker,
		Title:           m.Title,
		Subtitle:        m.Subtitle,
		Category:        category,
		Status:          status,
		CurrentPrice:    price,
		Volume24h:       m.Volume24h,
		Liquidity:       m.Liquidity,
		OpenTime:        parseTime(m.OpenTime),
		CloseTime:       parseTime(m.CloseTime),
		ExpirationTime:  parseTime(m.ExpirationTime),
		SeriesTicker:    seriesTicker,
		ResolutionRules: m.RulesPrimary,
		Tags:            m.Tags,
		HistoryToken:    seriesTicker,
	}, nil
}

// normalizeCandle converts a candlestick to a mid-price sample.
func normalizeCandle(c *candlestick) (*source.PriceSample, error) {
	if c.EndPeriodTS == 0 {
		return nil, fmt.Errorf("%w: missing period timestamp", source.ErrMalformed)
	}

	mid := (c.YesBid.Close + c.YesAsk.Close) / 2.0
	price := math.Round(mid/100.0*10000) / 10000
	if price < 0 || price > 1 || math.IsNaN(price) {
		return nil, fmt.Errorf("%w: price %v outside [0,1]", source.ErrMalformed, price)
	}

	return &source.PriceSample{
		Timestamp: time.Unix(c.EndPeriodTS, 0).UTC(),
		Price:     price,
		Volume:    c.Volume,
	}, nil
}

func normalizeStatus(s string) (string, bool) {
	switch s {
	case "open", "active":
		return source.StatusActive, true
	case "closed", "inactive":
		return source.StatusClosed, true
	case "settled", "finalized":
		return source.StatusSettled, true
	default:
		return "", false
	}
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
