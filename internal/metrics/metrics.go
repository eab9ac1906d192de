// Package metrics exposes relay activity as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all relay collectors.
type Metrics struct {
	MessagesTotal      *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	CompletionsTotal   *prometheus.CounterVec
	KnownUsers         prometheus.Gauge
	InFlight           prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses
// a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_total",
				Help: "Inbound messages processed, by command",
			},
			[]string{"command"},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Failed message handling, by error kind",
			},
			[]string{"kind"},
		),
		CompletionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_completion_duration_seconds",
				Help:    "Latency of completion calls",
				Buckets: []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
			},
			[]string{"model"},
		),
		CompletionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_completions_total",
				Help: "Completion calls, by model and status",
			},
			[]string{"model", "status"},
		),
		KnownUsers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_known_users",
				Help: "Distinct users seen since start",
			},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_handlers_in_flight",
				Help: "Messages currently being handled",
			},
		),
		gatherer: reg,
	}
}

// The Record and Set helpers are no-ops on a nil *Metrics.

// RecordMessage counts one handled message under the given command label
// ("text" for free text).
func (m *Metrics) RecordMessage(command string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(command).Inc()
}

// RecordError counts one failure.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordCompletion observes one completion call.
func (m *Metrics) RecordCompletion(modelID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionDuration.WithLabelValues(modelID).Observe(d.Seconds())
	m.CompletionsTotal.WithLabelValues(modelID, status).Inc()
}

// IncKnownUsers counts one newly seen user.
func (m *Metrics) IncKnownUsers() {
	if m == nil {
		return
	}
	m.KnownUsers.Inc()
}

// TrackHandler marks one handler as in flight and returns the func that
// clears it.
func (m *Metrics) TrackHandler() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Server serves /metrics and /health until its context is cancelled.
type Server struct {
	server *http.Server
}

// NewServer builds the observability HTTP server on addr.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"tgrelay"}`))
	})
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run blocks serving requests until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
