package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		DatabaseDSN:          "host=localhost dbname=marketpulse",
		Sources:              []string{SourceKalshi, SourcePolymarket},
		KalshiKeyID:          "key-id",
		KalshiPrivateKeyPath: "kalshi.pem",
		CandlePeriodMinutes:  60,
		ChangeWindows:        []int{1, 7, 30, 90},
		MarketWorkers:        5,
		RetryMaxAttempts:     4,
		RunTimeout:           30 * time.Minute,
		ReportMode:           "log",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing dsn", func(c *Config) { c.DatabaseDSN = "" }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"unknown source", func(c *Config) { c.Sources = []string{"betfair"} }},
		{"kalshi without key id", func(c *Config) { c.KalshiKeyID = "" }},
		{"kalshi without key path", func(c *Config) { c.KalshiPrivateKeyPath = "" }},
		{"zero candle period", func(c *Config) { c.CandlePeriodMinutes = 0 }},
		{"negative candle period", func(c *Config) { c.CandlePeriodMinutes = -5 }},
		{"no windows", func(c *Config) { c.ChangeWindows = nil }},
		{"zero workers", func(c *Config) { c.MarketWorkers = 0 }},
		{"zero attempts", func(c *Config) { c.RetryMaxAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.RunTimeout = 0 }},
		{"webhook without url", func(c *Config) { c.ReportMode = "webhook" }},
		{"unknown report mode", func(c *Config) { c.ReportMode = "pager" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidatePolymarketOnlyNeedsNoCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = []string{SourcePolymarket}
	cfg.KalshiKeyID = ""
	cfg.KalshiPrivateKeyPath = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestParseWindows(t *testing.T) {
	windows, err := parseWindows("1, 7,30,90")
	if err != nil {
		t.Fatalf("parseWindows returned error: %v", err)
	}
	want := []int{1, 7, 30, 90}
	if len(windows) != len(want) {
		t.Fatalf("windows = %v, want %v", windows, want)
	}
	for i := range want {
		if windows[i] != want[i] {
			t.Errorf("windows[%d] = %d, want %d", i, windows[i], want[i])
		}
	}
}

func TestParseWindowsRejectsNonPositive(t *testing.T) {
	for _, in := range []string{"0", "-7", "seven", "7,,x"} {
		if _, err := parseWindows(in); err == nil {
			t.Errorf("parseWindows(%q) = nil error, want failure", in)
		}
	}
}

func TestSourceEnabled(t *testing.T) {
	cfg := validConfig()
	if !cfg.SourceEnabled(SourceKalshi) {
		t.Error("SourceEnabled(kalshi) = false")
	}
	cfg.Sources = []string{SourcePolymarket}
	if cfg.SourceEnabled(SourceKalshi) {
		t.Error("SourceEnabled(kalshi) = true for polymarket-only config")
	}
}
