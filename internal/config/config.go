// Package config exposes strongly typed application configuration structs
// loaded from YAML. Sizing and risk parameters are never defaulted: a missing
// value fails validation instead of silently substituting something that can
// change position size.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment,
// metrics address, and logging level.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Instrument identifies the traded instrument and its sizing constraints.
type Instrument struct {
	Symbol   string  `yaml:"symbol"`
	LotSize  float64 `yaml:"lot_size"`
	TickSize float64 `yaml:"tick_size"`
}

// Feed describes upstream connectivity and the adapter's buffering and
// reconnect parameters.
type Feed struct {
	Provider             string `yaml:"provider"` // binance | replay | stub
	URL                  string `yaml:"url"`
	QueueSize            int    `yaml:"queue_size"`
	SilenceTimeoutMs     int    `yaml:"silence_timeout_ms"`
	ReconnectMinMs       int    `yaml:"reconnect_min_ms"`
	ReconnectMaxMs       int    `yaml:"reconnect_max_ms"`
	ReconnectMaxAttempts int    `yaml:"reconnect_max_attempts"`
	ReplayPath           string `yaml:"replay_path"`
	RecordPath           string `yaml:"record_path"`
}

// Session groups run-loop parameters: consumption mode, cadences, trading
// window, and failure thresholds.
type Session struct {
	Mode                string `yaml:"mode"` // poll | callback
	PollIntervalMs      int    `yaml:"poll_interval_ms"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	WindowStart         string `yaml:"window_start"` // HH:MM
	WindowEnd           string `yaml:"window_end"`   // HH:MM, 24:00 allowed
	MaxDailyTrades      int    `yaml:"max_daily_trades"`
	MaxErrorStreak      int    `yaml:"max_error_streak"`
}

// TakeProfitLevel is one rung of the take-profit ladder, expressed as a
// favorable offset from entry and the fraction of the opened quantity to
// close when the rung is hit.
type TakeProfitLevel struct {
	Offset   float64 `yaml:"offset"`
	Fraction float64 `yaml:"fraction"`
}

// Risk encodes capital and the position risk parameters.
type Risk struct {
	Capital                  float64           `yaml:"capital"`
	RiskPerTrade             float64           `yaml:"risk_per_trade"`
	StopLossOffset           float64           `yaml:"stop_loss_offset"`
	TrailingActivationOffset float64           `yaml:"trailing_activation_offset"`
	TrailingDistance         float64           `yaml:"trailing_distance"`
	TakeProfits              []TakeProfitLevel `yaml:"take_profits"`
	ExitPrecedence           []string          `yaml:"exit_precedence"`
}

// Strategy groups tunable knobs for the decision engine.
type Strategy struct {
	FastPeriod        int     `yaml:"fast_period"`
	SlowPeriod        int     `yaml:"slow_period"`
	ConsecutiveTicks  int     `yaml:"consecutive_ticks"`
	MomentumThreshold float64 `yaml:"momentum_threshold"`
	MinVolume         float64 `yaml:"min_volume"`
	RequireVWAP       bool    `yaml:"require_vwap"`
	ExitOnDecline     bool    `yaml:"exit_on_decline"`
	AllowShort        bool    `yaml:"allow_short"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Instrument Instrument `yaml:"instrument"`
	Feed       Feed       `yaml:"feed"`
	Session    Session    `yaml:"session"`
	Risk       Risk       `yaml:"risk"`
	Strategy   Strategy   `yaml:"strategy"`
}

// Load reads a YAML file from disk, hydrates a Config struct, and validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &config, nil
}

// Validate refuses any configuration missing a required sizing, risk, or
// session parameter.
func (c *Config) Validate() error {
	if c.Instrument.Symbol == "" {
		return fmt.Errorf("instrument.symbol is required")
	}
	if c.Instrument.LotSize <= 0 {
		return fmt.Errorf("instrument.lot_size is required and must be positive")
	}
	if c.Instrument.TickSize <= 0 {
		return fmt.Errorf("instrument.tick_size is required and must be positive")
	}

	switch c.Feed.Provider {
	case "binance", "stub":
	case "replay":
		if c.Feed.ReplayPath == "" {
			return fmt.Errorf("feed.replay_path is required for the replay provider")
		}
	default:
		return fmt.Errorf("feed.provider %q is not one of binance, replay, stub", c.Feed.Provider)
	}
	if c.Feed.QueueSize <= 0 {
		return fmt.Errorf("feed.queue_size is required and must be positive")
	}
	if c.Feed.SilenceTimeoutMs <= 0 {
		return fmt.Errorf("feed.silence_timeout_ms is required and must be positive")
	}
	if c.Feed.ReconnectMinMs <= 0 || c.Feed.ReconnectMaxMs < c.Feed.ReconnectMinMs {
		return fmt.Errorf("feed.reconnect_min_ms/reconnect_max_ms must be positive and ordered")
	}
	if c.Feed.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("feed.reconnect_max_attempts is required and must be positive")
	}

	switch c.Session.Mode {
	case "poll":
		if c.Session.PollIntervalMs <= 0 {
			return fmt.Errorf("session.poll_interval_ms is required in poll mode")
		}
	case "callback":
	default:
		return fmt.Errorf("session.mode %q is not one of poll, callback", c.Session.Mode)
	}
	if c.Session.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("session.heartbeat_interval_ms is required and must be positive")
	}
	start, end, err := c.Session.WindowMinutes()
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("session window must be non-empty: start %q end %q", c.Session.WindowStart, c.Session.WindowEnd)
	}
	if c.Session.MaxDailyTrades <= 0 {
		return fmt.Errorf("session.max_daily_trades is required and must be positive")
	}
	if c.Session.MaxErrorStreak <= 0 {
		return fmt.Errorf("session.max_error_streak is required and must be positive")
	}

	if c.Risk.Capital <= 0 {
		return fmt.Errorf("risk.capital is required and must be positive")
	}
	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade > 1 {
		return fmt.Errorf("risk.risk_per_trade is required and must be in (0, 1]")
	}
	if c.Risk.StopLossOffset <= 0 {
		return fmt.Errorf("risk.stop_loss_offset is required and must be positive")
	}
	trailingSet := c.Risk.TrailingActivationOffset > 0 || c.Risk.TrailingDistance > 0
	if trailingSet && (c.Risk.TrailingActivationOffset <= 0 || c.Risk.TrailingDistance <= 0) {
		return fmt.Errorf("risk trailing stop needs both trailing_activation_offset and trailing_distance")
	}
	var tpFractions float64
	prevOffset := 0.0
	for i, tp := range c.Risk.TakeProfits {
		if tp.Offset <= prevOffset {
			return fmt.Errorf("risk.take_profits[%d].offset must be positive and ascending", i)
		}
		if tp.Fraction <= 0 || tp.Fraction > 1 {
			return fmt.Errorf("risk.take_profits[%d].fraction must be in (0, 1]", i)
		}
		prevOffset = tp.Offset
		tpFractions += tp.Fraction
	}
	if tpFractions > 1+1e-9 {
		return fmt.Errorf("risk.take_profits fractions sum to %.2f, may not exceed 1", tpFractions)
	}

	if c.Strategy.FastPeriod <= 0 || c.Strategy.SlowPeriod <= c.Strategy.FastPeriod {
		return fmt.Errorf("strategy.fast_period/slow_period must be positive with fast < slow")
	}
	if c.Strategy.ConsecutiveTicks <= 0 {
		return fmt.Errorf("strategy.consecutive_ticks is required and must be positive")
	}
	if c.Strategy.MomentumThreshold < 0 {
		return fmt.Errorf("strategy.momentum_threshold must not be negative")
	}
	return nil
}

// WindowMinutes parses the session window into minutes since midnight.
func (s Session) WindowMinutes() (int, int, error) {
	start, err := parseClock(s.WindowStart)
	if err != nil {
		return 0, 0, fmt.Errorf("session.window_start: %w", err)
	}
	end, err := parseClock(s.WindowEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("session.window_end: %w", err)
	}
	return start, end, nil
}

func parseClock(v string) (int, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%q is not HH:MM", v)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 24 {
		return 0, fmt.Errorf("%q has an invalid hour", v)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("%q has an invalid minute", v)
	}
	return hh*60 + mm, nil
}
