// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/studypilot/api/schemas"
)

const namespace = "studypilot"

// Metrics holds the run's collectors on a private registry, so tests can
// create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	TaskResultsTotal    *prometheus.CounterVec
	ResolutionsTotal    *prometheus.CounterVec
	StepDurationSeconds *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TaskResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_results_total",
				Help:      "Work items finished, labeled by final status and reason.",
			},
			[]string{"status", "reason"},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Strategy chain resolutions, labeled by role, winning strategy and outcome.",
			},
			[]string{"role", "strategy", "outcome"},
		),
		StepDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Time spent in each workflow phase.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
			},
			[]string{"phase", "status"},
		),
	}
	m.Registry.MustRegister(m.TaskResultsTotal, m.ResolutionsTotal, m.StepDurationSeconds)
	return m
}

// Resolution outcomes.
const (
	OutcomeFound    = "found"
	OutcomeDegraded = "degraded"
	OutcomeNotFound = "not_found"
)

// Resolution records one resolver call. strategy is empty when nothing matched.
func (m *Metrics) Resolution(role, strategy, outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(role, strategy, outcome).Inc()
}

// Step records one workflow transition.
func (m *Metrics) Step(o schemas.StepOutcome) {
	if m == nil {
		return
	}
	m.StepDurationSeconds.WithLabelValues(string(o.Phase), string(o.Status)).Observe(o.Elapsed.Seconds())
}

// Result records one finished work item.
func (m *Metrics) Result(r schemas.TaskResult) {
	if m == nil {
		return
	}
	m.TaskResultsTotal.WithLabelValues(string(r.FinalStatus), string(r.Reason)).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics.", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
