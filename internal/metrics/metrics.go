// Package metrics exposes bot activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matt0x6f/alis-bot/internal/dispatch"
	"github.com/matt0x6f/alis-bot/internal/events"
	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/logger"
)

// Metrics holds all Prometheus metrics for the bot
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	requests     *prometheus.CounterVec // by network and outcome
	listDuration *prometheus.HistogramVec
	collected    *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec

	// Connection metrics
	connectionState *prometheus.GaugeVec
	reconnects      *prometheus.CounterVec
	failures        *prometheus.CounterVec
}

// NewMetrics creates the metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alis_requests_total",
				Help: "Total number of requests served, by outcome",
			},
			[]string{"network", "outcome"},
		),
		listDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alis_list_duration_seconds",
				Help:    "Time from sending LIST to answering the requester",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
			},
			[]string{"network"},
		),
		collected: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alis_channels_collected",
				Help:    "Number of channels received per completed listing",
				Buckets: []float64{10, 100, 500, 1000, 5000, 10000, 50000},
			},
			[]string{"network"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alis_list_queue_depth",
				Help: "List requests waiting behind the active one",
			},
			[]string{"network"},
		),
		connectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alis_connection_state",
				Help: "Protocol state per network (0 disconnected, 1 connecting, 2 registering, 3 ready)",
			},
			[]string{"network"},
		),
		reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alis_reconnects_total",
				Help: "Total number of connection losses followed by a reconnect",
			},
			[]string{"network"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alis_connection_failures_total",
				Help: "Networks abandoned after a fatal registration error",
			},
			[]string{"network"},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records one finished request
func (m *Metrics) RecordRequest(network, outcome string, collected int, duration time.Duration) {
	m.requests.WithLabelValues(network, outcome).Inc()
	switch outcome {
	case dispatch.OutcomeComplete:
		m.collected.WithLabelValues(network).Observe(float64(collected))
		m.listDuration.WithLabelValues(network).Observe(duration.Seconds())
	case dispatch.OutcomeTimeout:
		m.listDuration.WithLabelValues(network).Observe(duration.Seconds())
	}
}

// SetQueueDepth records the current list queue length
func (m *Metrics) SetQueueDepth(network string, depth int) {
	m.queueDepth.WithLabelValues(network).Set(float64(depth))
}

// RecordState records a protocol state change
func (m *Metrics) RecordState(network string, state irc.State) {
	m.connectionState.WithLabelValues(network).Set(float64(state))
	if state == irc.Disconnected {
		m.reconnects.WithLabelValues(network).Inc()
	}
}

// OnEvent updates the metrics from bus events
func (m *Metrics) OnEvent(ev events.Event) {
	network := ev.String("network")
	switch ev.Type {
	case irc.EventRequestCompleted:
		m.RecordRequest(network, ev.String("outcome"), ev.Int("collected"), time.Duration(ev.Int("duration_ms"))*time.Millisecond)
		m.SetQueueDepth(network, ev.Int("queued"))
	case irc.EventConnectionState:
		if state, ok := parseState(ev.String("state")); ok {
			m.RecordState(network, state)
		}
	case irc.EventConnectionFailed:
		m.failures.WithLabelValues(network).Inc()
		m.connectionState.WithLabelValues(network).Set(float64(irc.Disconnected))
	}
}

func parseState(name string) (irc.State, bool) {
	for _, s := range []irc.State{irc.Disconnected, irc.Connecting, irc.Registering, irc.Ready} {
		if s.String() == name {
			return s, true
		}
	}
	return irc.Disconnected, false
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
