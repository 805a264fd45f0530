package trader

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"livetrader-go/internal/config"
	"livetrader-go/internal/diag"
	"livetrader-go/internal/exchange"
	"livetrader-go/internal/risk"
	"livetrader-go/internal/strategy"
	"livetrader-go/internal/util"
)

// Events emitted by the entry/exit funnel are rate limited with this window
// so a stream of identical rejections cannot flood the log.
const eventWindow = 2 * time.Second

// NewSession builds a ready-to-run LiveTrader from a validated config: it
// resolves the feed source from the provider name, translates the risk and
// strategy sections into their engine parameters, and wires the optional
// tick recorder.
func NewSession(cfg *config.Config, log zerolog.Logger) (*LiveTrader, error) {
	mode, err := ParseMode(cfg.Session.Mode)
	if err != nil {
		return nil, err
	}
	precedence, err := risk.ParsePrecedence(cfg.Risk.ExitPrecedence)
	if err != nil {
		return nil, err
	}
	winStart, winEnd, err := cfg.Session.WindowMinutes()
	if err != nil {
		return nil, err
	}

	events := diag.NewEmitter(diag.LogSink{Log: util.Component(log, "events")}, eventWindow, 3)

	targets := make([]risk.ProfitTarget, len(cfg.Risk.TakeProfits))
	for i, tp := range cfg.Risk.TakeProfits {
		targets[i] = risk.ProfitTarget{Offset: tp.Offset, Fraction: tp.Fraction}
	}
	mgr, err := risk.NewManager(risk.Config{
		Symbol: cfg.Instrument.Symbol,
		Sizing: risk.Sizing{
			Capital:      cfg.Risk.Capital,
			RiskPerTrade: cfg.Risk.RiskPerTrade,
			LotSize:      cfg.Instrument.LotSize,
			TickSize:     cfg.Instrument.TickSize,
		},
		StopLossOffset:           cfg.Risk.StopLossOffset,
		TrailingActivationOffset: cfg.Risk.TrailingActivationOffset,
		TrailingDistance:         cfg.Risk.TrailingDistance,
		TakeProfits:              targets,
		Precedence:               precedence,
	}, events, util.Component(log, "risk"))
	if err != nil {
		return nil, err
	}

	engine := strategy.NewEngine(strategy.Params{
		FastPeriod:        cfg.Strategy.FastPeriod,
		SlowPeriod:        cfg.Strategy.SlowPeriod,
		ConsecutiveTicks:  cfg.Strategy.ConsecutiveTicks,
		MomentumThreshold: cfg.Strategy.MomentumThreshold,
		MinVolume:         cfg.Strategy.MinVolume,
		RequireVWAP:       cfg.Strategy.RequireVWAP,
		ExitOnDecline:     cfg.Strategy.ExitOnDecline,
		AllowShort:        cfg.Strategy.AllowShort,
		WindowStartMin:    winStart,
		WindowEndMin:      winEnd,
		MaxDailyTrades:    cfg.Session.MaxDailyTrades,
	}, mgr, events, util.Component(log, "strategy"))

	src, err := newSource(cfg, log)
	if err != nil {
		return nil, err
	}

	var opts []exchange.AdapterOption
	if cfg.Feed.RecordPath != "" {
		rec, err := exchange.NewRecorder(cfg.Feed.RecordPath)
		if err != nil {
			return nil, fmt.Errorf("open tick recorder: %w", err)
		}
		opts = append(opts, exchange.WithRecorder(rec))
	}

	acfg := exchange.AdapterConfig{
		QueueSize:            cfg.Feed.QueueSize,
		SilenceTimeout:       time.Duration(cfg.Feed.SilenceTimeoutMs) * time.Millisecond,
		ReconnectMin:         time.Duration(cfg.Feed.ReconnectMinMs) * time.Millisecond,
		ReconnectMax:         time.Duration(cfg.Feed.ReconnectMaxMs) * time.Millisecond,
		ReconnectMaxAttempts: cfg.Feed.ReconnectMaxAttempts,
	}
	tcfg := Config{
		Mode:           mode,
		PollInterval:   time.Duration(cfg.Session.PollIntervalMs) * time.Millisecond,
		Heartbeat:      time.Duration(cfg.Session.HeartbeatIntervalMs) * time.Millisecond,
		MaxErrorStreak: cfg.Session.MaxErrorStreak,
	}
	return New(tcfg, src, acfg, engine, mgr, log, opts...), nil
}

func newSource(cfg *config.Config, log zerolog.Logger) (exchange.FeedSource, error) {
	switch cfg.Feed.Provider {
	case "binance":
		return exchange.NewBinanceSource(cfg.Instrument.Symbol, cfg.Feed.URL, util.Component(log, "binance")), nil
	case "replay":
		return exchange.NewReplaySource(cfg.Feed.ReplayPath), nil
	case "stub":
		return exchange.NewStubSource(cfg.Instrument.Symbol, 100*time.Millisecond), nil
	}
	return nil, fmt.Errorf("unknown feed provider %q", cfg.Feed.Provider)
}
