package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sampleSummary() *RunSummary {
	start := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	return &RunSummary{
		StartedAt:   start,
		FinishedAt:  start.Add(90 * time.Second),
		Environment: "test",
		Sources: []SourceSummary{
			{
				Source:              "kalshi",
				PagesFetched:        3,
				MarketsFetched:      250,
				MarketsProcessed:    248,
				MarketsFailed:       2,
				PricePointsInserted: 4100,
				Duration:            40 * time.Second,
			},
		},
	}
}

func TestRunSummaryFailed(t *testing.T) {
	summary := sampleSummary()
	if summary.Failed() {
		t.Fatal("summary with processed markets should not be failed")
	}

	summary.Sources[0].MarketsProcessed = 0
	if !summary.Failed() {
		t.Fatal("source with zero processed markets should fail the run")
	}

	summary = sampleSummary()
	summary.Sources[0].Error = "pagination aborted"
	if summary.Failed() {
		t.Fatal("a source that processed markets succeeds despite a late error")
	}
}

func TestWebhookSender(t *testing.T) {
	var received RunSummary
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	if err := sender.Send(context.Background(), sampleSummary()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(received.Sources) != 1 || received.Sources[0].Source != "kalshi" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if received.Sources[0].PricePointsInserted != 4100 {
		t.Errorf("expected 4100 inserted points, got %d", received.Sources[0].PricePointsInserted)
	}
}

func TestWebhookSenderBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	if err := sender.Send(context.Background(), sampleSummary()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

type failingSender struct{}

func (failingSender) Send(ctx context.Context, summary *RunSummary) error {
	return errors.New("unreachable")
}

type countingSender struct {
	calls int
}

func (s *countingSender) Send(ctx context.Context, summary *RunSummary) error {
	s.calls++
	return nil
}

func TestMultiSenderContinuesPastFailures(t *testing.T) {
	counter := &countingSender{}
	multi := NewMultiSender(failingSender{}, counter)

	err := multi.Send(context.Background(), sampleSummary())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if counter.calls != 1 {
		t.Fatalf("expected later sender to still run, calls=%d", counter.calls)
	}
}
