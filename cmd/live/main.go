package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"livetrader-go/internal/config"
	"livetrader-go/internal/metrics"
	"livetrader-go/internal/trader"
	"livetrader-go/internal/util"
)

func main() {
	_ = godotenv.Load() // best-effort
	cfgPath := flag.String("config", envOr("LIVETRADER_CONFIG", "internal/config/config.yaml"), "path to YAML config")
	flag.Parse()

	log := util.NewLogger("info")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
	}
	log = util.NewLogger(cfg.App.LogLevel)

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	session, err := trader.NewSession(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build session")
	}

	report, err := session.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("session failed")
	}
	log.Info().
		Str("cause", report.StopCause).
		Uint64("ticks", report.Ticks).
		Int("trades", len(report.Closed)).
		Float64("realized_pnl", report.RealizedPnL).
		Msg("final report")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
