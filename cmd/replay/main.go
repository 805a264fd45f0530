// Command replay runs a full trading session against a recorded JSONL tick
// file instead of a live feed. The feed section of the config is overridden
// so the same config file drives live and replay runs.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"livetrader-go/internal/config"
	"livetrader-go/internal/trader"
	"livetrader-go/internal/util"
)

func main() {
	_ = godotenv.Load() // best-effort
	cfgPath := flag.String("config", envOr("LIVETRADER_CONFIG", "internal/config/config.yaml"), "path to YAML config")
	file := flag.String("file", "", "JSONL tick file to replay (overrides feed.replay_path)")
	flag.Parse()

	log := util.NewLogger("info")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	cfg.Feed.Provider = "replay"
	cfg.Feed.RecordPath = "" // never re-record a replay
	if *file != "" {
		cfg.Feed.ReplayPath = *file
	}
	if cfg.Feed.ReplayPath == "" {
		log.Fatal().Msg("no tick file: set -file or feed.replay_path")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session, err := trader.NewSession(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build session")
	}

	report, err := session.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}

	for _, pos := range report.Closed {
		log.Info().
			Str("id", pos.ID).
			Str("side", pos.Side.String()).
			Float64("entry", pos.EntryPrice).
			Float64("exit", pos.ExitPrice).
			Float64("qty", pos.InitialQuantity).
			Str("reason", string(pos.CloseReason)).
			Float64("pnl", pos.RealizedPnL).
			Msg("trade")
	}
	log.Info().
		Str("cause", report.StopCause).
		Uint64("ticks", report.Ticks).
		Uint64("tick_errors", report.TickErrors).
		Uint64("evicted", report.Evicted).
		Int("trades", len(report.Closed)).
		Float64("realized_pnl", report.RealizedPnL).
		Msg("replay report")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
