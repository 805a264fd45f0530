package config

import (
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "livetrader-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if cfg.Instrument.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected symbol: %s", cfg.Instrument.Symbol)
	}
	if cfg.Instrument.LotSize != 0.001 {
		t.Fatalf("unexpected lot size: %f", cfg.Instrument.LotSize)
	}
	if cfg.Feed.QueueSize != 1000 {
		t.Fatalf("unexpected queue size: %d", cfg.Feed.QueueSize)
	}
	if cfg.Session.Mode != "poll" {
		t.Fatalf("unexpected mode: %s", cfg.Session.Mode)
	}
	if len(cfg.Risk.TakeProfits) != 2 || cfg.Risk.TakeProfits[1].Offset != 20 {
		t.Fatalf("unexpected take profit ladder: %+v", cfg.Risk.TakeProfits)
	}
	start, end, err := cfg.Session.WindowMinutes()
	if err != nil {
		t.Fatalf("WindowMinutes returned error: %v", err)
	}
	if start != 9*60+15 || end != 15*60+30 {
		t.Fatalf("unexpected window: %d-%d", start, end)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateFailsFast(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(filepath.Join("testdata", "config.yaml"))
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		return cfg
	}

	cases := map[string]func(*Config){
		"missing lot size":        func(c *Config) { c.Instrument.LotSize = 0 },
		"missing tick size":       func(c *Config) { c.Instrument.TickSize = 0 },
		"missing capital":         func(c *Config) { c.Risk.Capital = 0 },
		"missing stop loss":       func(c *Config) { c.Risk.StopLossOffset = 0 },
		"bad risk fraction":       func(c *Config) { c.Risk.RiskPerTrade = 1.5 },
		"unknown mode":            func(c *Config) { c.Session.Mode = "hybrid" },
		"missing poll interval":   func(c *Config) { c.Session.PollIntervalMs = 0 },
		"missing daily cap":       func(c *Config) { c.Session.MaxDailyTrades = 0 },
		"missing error streak":    func(c *Config) { c.Session.MaxErrorStreak = 0 },
		"inverted window":         func(c *Config) { c.Session.WindowStart, c.Session.WindowEnd = "16:00", "09:00" },
		"bad window format":       func(c *Config) { c.Session.WindowStart = "9am" },
		"half-configured trail":   func(c *Config) { c.Risk.TrailingDistance = 0 },
		"descending ladder":       func(c *Config) { c.Risk.TakeProfits[1].Offset = 5 },
		"ladder fraction over":    func(c *Config) { c.Risk.TakeProfits[0].Fraction = 0.8 },
		"fast not below slow":     func(c *Config) { c.Strategy.FastPeriod = 9 },
		"missing consecutive":     func(c *Config) { c.Strategy.ConsecutiveTicks = 0 },
		"replay needs path":       func(c *Config) { c.Feed.Provider = "replay" },
		"unknown provider":        func(c *Config) { c.Feed.Provider = "kraken" },
		"missing queue size":      func(c *Config) { c.Feed.QueueSize = 0 },
		"missing silence timeout": func(c *Config) { c.Feed.SilenceTimeoutMs = 0 },
		"unordered backoff":       func(c *Config) { c.Feed.ReconnectMaxMs = 1 },
	}

	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
