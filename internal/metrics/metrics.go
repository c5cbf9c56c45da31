// Package metrics exposes broker activity as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/mqtt"
)

const namespace = "wsbroker"

// Metrics holds the broker collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessionsActive    prometheus.Gauge
	connectionsTotal  prometheus.Counter
	packetsReceived   *prometheus.CounterVec
	publishesTotal    prometheus.Counter
	deliveriesTotal   prometheus.Counter
	deliveriesDropped prometheus.Counter
}

var _ connection.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg. subscriptions is
// sampled at scrape time for the active subscription gauge.
func New(reg prometheus.Registerer, subscriptions func() int) (*Metrics, error) {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open client sessions",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted client connections",
		}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total number of control packets received, by packet type",
		}, []string{"type"}),
		publishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Total number of messages routed",
		}),
		deliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of messages queued to subscribers",
		}),
		deliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Total number of messages dropped because a subscriber outbox was full",
		}),
	}

	collectors := []prometheus.Collector{
		m.sessionsActive,
		m.connectionsTotal,
		m.packetsReceived,
		m.publishesTotal,
		m.deliveriesTotal,
		m.deliveriesDropped,
	}
	if subscriptions != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Number of (session, topic) subscriptions held by the registry",
		}, func() float64 {
			return float64(subscriptions())
		}))
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register broker metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) SessionOpened(*connection.Session) {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(*connection.Session, error) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) PacketReceived(pt mqtt.PacketType) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(pt.String()).Inc()
}

// Routed records one routed message with its delivered and dropped counts.
func (m *Metrics) Routed(delivered, dropped int) {
	if m == nil {
		return
	}
	m.publishesTotal.Inc()
	m.deliveriesTotal.Add(float64(delivered))
	m.deliveriesDropped.Add(float64(dropped))
}

// Serve exposes gatherer on address under /metrics until ctx is done.
func Serve(ctx context.Context, address string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoF("Metrics listening on http://%s/metrics", address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}
