// Package metrics exports recur's counters to Prometheus.
//
// One Metrics value implements the observer interfaces of the engine, the
// materializer and the action queue, so the CLI wires it into all three.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/recur/internal/actionqueue"
	"github.com/roach88/recur/internal/engine"
	"github.com/roach88/recur/internal/materialize"
)

var (
	_ engine.Observer      = (*Metrics)(nil)
	_ materialize.Observer = (*Metrics)(nil)
	_ actionqueue.Observer = (*Metrics)(nil)
)

// Metrics holds the collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	ActionsTotal           *prometheus.CounterVec
	JobDuration            *prometheus.HistogramVec
	JobErrorsTotal         *prometheus.CounterVec
	SaveRetriesTotal       *prometheus.CounterVec
	PendingScheduledTotal  prometheus.Counter
	ChainsTerminatedTotal  prometheus.Counter
	ItemsMaterializedTotal prometheus.Counter
	SweepBatchSize         prometheus.Histogram
}

// New creates the collectors on a fresh registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_actions_total",
				Help: "Inbound actions and delivery marks by kind and outcome",
			},
			[]string{"kind", "outcome"}, // buffered, applied, dropped, failed
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recur_job_duration_seconds",
				Help:    "Duration of jobs run on the engine loop",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"job"},
		),
		JobErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_job_errors_total",
				Help: "Jobs on the engine loop that returned an error",
			},
			[]string{"job"},
		),
		SaveRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recur_save_retries_total",
				Help: "Store writes retried after a busy or locked database",
			},
			[]string{"op"},
		),
		PendingScheduledTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "recur_pending_scheduled_total",
			Help: "Pending recurrences persisted",
		}),
		ChainsTerminatedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "recur_chains_terminated_total",
			Help: "Recurrence chains that reached their occurrence limit",
		}),
		ItemsMaterializedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "recur_items_materialized_total",
			Help: "Items created from pending recurrences",
		}),
		SweepBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recur_sweep_batch_size",
			Help:    "Items created per sweep",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe counts an action queue outcome.
func (m *Metrics) Observe(kind string, outcome actionqueue.Outcome) {
	m.ActionsTotal.WithLabelValues(kind, string(outcome)).Inc()
}

// JobDone records a finished engine job.
func (m *Metrics) JobDone(name string, elapsed time.Duration, err error) {
	m.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		m.JobErrorsTotal.WithLabelValues(name).Inc()
	}
}

// SaveRetried counts a retried store write.
func (m *Metrics) SaveRetried(op string) {
	m.SaveRetriesTotal.WithLabelValues(op).Inc()
}

// PendingScheduled counts a persisted pending recurrence.
func (m *Metrics) PendingScheduled() { m.PendingScheduledTotal.Inc() }

// ChainTerminated counts a chain that hit its occurrence limit.
func (m *Metrics) ChainTerminated() { m.ChainsTerminatedTotal.Inc() }

// Materialized records one sweep's output.
func (m *Metrics) Materialized(n int) {
	m.ItemsMaterializedTotal.Add(float64(n))
	m.SweepBatchSize.Observe(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
