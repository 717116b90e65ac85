package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skycrash_rounds_total",
		Help: "Completed crash rounds.",
	})
	BetsPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skycrash_bets_placed_total",
		Help: "Accepted bets.",
	})
	CashoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skycrash_cashouts_total",
		Help: "Bets settled as won, manual and auto.",
	})
	LossesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skycrash_losses_total",
		Help: "Bets settled as lost at crash.",
	})
	SettlementRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skycrash_settlement_retries_total",
		Help: "Durable settlement write retries.",
	})
	SettlementFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skycrash_settlement_failures_total",
		Help: "Settlement writes that exhausted retries and need an operator.",
	})
	DroppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skycrash_dropped_events_total",
		Help: "Broadcast events dropped from slow subscriber queues.",
	})
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skycrash_connected_clients",
		Help: "Live broadcast subscribers.",
	})
	CrashPoints = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skycrash_crash_points",
		Help:    "Distribution of derived crash multipliers.",
		Buckets: []float64{1, 1.2, 1.5, 2, 3, 5, 10, 20, 50, 100, 500, 1000},
	})
)

type HealthFunc func(ctx context.Context) error

// StartServer runs a small HTTP server that only serves /metrics and
// /healthz, separate from the public API port.
func StartServer(port string, healthFn HealthFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("unhealthy: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
