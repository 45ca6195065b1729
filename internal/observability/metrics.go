// Package observability exposes Prometheus metrics for the ingestion
// pipeline on an optional HTTP endpoint.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpaulin/freebird-go/internal/logging"
)

var logger *slog.Logger

func init() {
	logger = logging.ForService("observability")
}

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	PollCycles        *prometheus.CounterVec
	EventsProcessed   prometheus.Counter
	LifersDetected    prometheus.Counter
	ClassifierErrors  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates and registers all pipeline collectors on a private
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freebird_poll_cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"status"}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freebird_events_processed_total",
			Help: "New motion events processed.",
		}),
		LifersDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freebird_lifers_total",
			Help: "First-ever species sightings detected.",
		}),
		ClassifierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freebird_classifier_errors_total",
			Help: "Classifier invocation failures by source.",
		}, []string{"source"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freebird_notifications_sent_total",
			Help: "Notifications dispatched by kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.PollCycles,
		m.EventsProcessed,
		m.LifersDetected,
		m.ClassifierErrors,
		m.NotificationsSent,
	)
	return m
}

// Serve runs the metrics HTTP endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	logger.Info("metrics endpoint listening", "address", listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
