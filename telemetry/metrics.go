// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RoomsOpened   prometheus.Counter
	SeedsRolled   prometheus.Counter
	RacesStarted  prometheus.Counter
	RacesRecorded prometheus.Counter
	SweepFailures prometheus.Counter
	DMFailures    prometheus.Counter

	// Histograms (seconds)
	SeedRollDuration prometheus.Observer
	SweepDuration    prometheus.Observer

	// Gauges
	UnrecordedRaces prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RoomsOpened = promauto.NewCounter(prometheus.CounterOpts{Name: "race_rooms_opened_total", Help: "Number of race rooms opened"})
		SeedsRolled = promauto.NewCounter(prometheus.CounterOpts{Name: "race_seeds_rolled_total", Help: "Number of seeds rolled"})
		RacesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "race_races_started_total", Help: "Number of races that went live"})
		RacesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "race_races_recorded_total", Help: "Number of finished races recorded to the results sheet"})
		SweepFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "race_sweep_failures_total", Help: "Number of per-record failures during result sweeps"})
		DMFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "race_dm_failures_total", Help: "Number of direct messages that could not be delivered"})
		SeedRollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "race_seed_roll_duration_seconds", Help: "Seed roll duration seconds", Buckets: prometheus.DefBuckets})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "race_sweep_duration_seconds", Help: "Result sweep pass duration seconds", Buckets: prometheus.DefBuckets})
		UnrecordedRaces = promauto.NewGauge(prometheus.GaugeOpts{Name: "race_unrecorded_races", Help: "Current number of races awaiting recording"})
	})
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
