package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SweepDuration - time spent on one full sweep.
var SweepDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "lpwatcher",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Duration of a full monitoring sweep in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
)

// PositionsChecked - positions evaluated for range, per network.
var PositionsChecked = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lpwatcher",
		Subsystem: "sweep",
		Name:      "positions_checked_total",
		Help:      "Total number of positions evaluated for range",
	},
	[]string{"network"},
)

// UnitFailures - per-unit failures isolated during the sweep, by stage.
var UnitFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lpwatcher",
		Subsystem: "sweep",
		Name:      "unit_failures_total",
		Help:      "Total number of isolated per-unit failures",
	},
	[]string{"network", "stage"},
)

// OutOfRangeEntries - live out-of-range entries after the last sweep.
var OutOfRangeEntries = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "lpwatcher",
		Subsystem: "state",
		Name:      "out_of_range_entries",
		Help:      "Number of live out-of-range entries after the last sweep",
	},
)

// NotificationsSent - successfully dispatched user notifications.
var NotificationsSent = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "lpwatcher",
		Subsystem: "alerting",
		Name:      "notifications_sent_total",
		Help:      "Total number of notifications successfully dispatched",
	},
)

// NotificationFailures - failed notification dispatches.
var NotificationFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "lpwatcher",
		Subsystem: "alerting",
		Name:      "notification_failures_total",
		Help:      "Total number of failed notification dispatches",
	},
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	log := logger.With().Str("component", "metrics").Logger()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics listener failed")
	}
}
