package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	TicksEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticks_evicted_total", Help: "Ticks dropped from the bounded queue to admit newer ones"},
	)
	TickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tick_errors_total", Help: "Malformed ticks skipped by the decision engine"},
	)
	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Reconnect attempts against the upstream feed"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted by the decision engine"},
		[]string{"action"},
	)
	PositionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "positions_opened_total", Help: "Positions opened"},
	)
	PositionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "positions_closed_total", Help: "Positions closed"},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, TicksEvictedTotal, TickErrorsTotal,
		FeedReconnectsTotal, SignalsTotal,
		PositionsOpenedTotal, PositionsClosedTotal,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
