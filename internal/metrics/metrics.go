// Package metrics holds the Prometheus collectors of the bot on a dedicated
// registry, so /metrics exposes only what this process records.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signbot/internal/eventbus"
	"signbot/internal/notifier"
)

const namespace = "signbot"

// Metrics implements the sign-in recorder port.
type Metrics struct {
	reg *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_runs_total",
			Help:      "Sign-in runs by result (ok, skipped, error).",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signin_run_duration_seconds",
			Help:      "Wall time of one sign-in run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signin_attempts_total",
			Help:      "Site attempts by outcome category.",
		}, []string{"category"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signin_attempt_duration_seconds",
			Help:      "Duration of one site attempt.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"category"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifier lifecycle events (sent, failed, dropped).",
		}, []string{"event"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signin_last_run_timestamp_seconds",
			Help:      "Unix time of the last finished sign-in run.",
		}),
	}
	reg.MustRegister(
		m.runs, m.runDuration, m.attempts, m.attemptDuration, m.notifications, m.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveRun(result string, took time.Duration) {
	m.runs.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.runDuration.Observe(took.Seconds())
	}
	m.lastRun.SetToCurrentTime()
}

func (m *Metrics) ObserveAttempt(category string, took time.Duration) {
	m.attempts.WithLabelValues(category).Inc()
	m.attemptDuration.WithLabelValues(category).Observe(took.Seconds())
}

// Consume counts notifier events from the bus until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case notifier.EventSent, notifier.EventFailed, notifier.EventDropped:
				m.notifications.WithLabelValues(strings.TrimPrefix(ev.Type, "notifier.")).Inc()
			}
		}
	}
}
