// Package metrics turns bus events into Prometheus series.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"linkrotor/internal/eventbus"
	"linkrotor/internal/task/scheduler"
)

const namespace = "linkrotor"

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type Metrics struct {
	WorkersActive    prometheus.Gauge
	WorkerStarts     prometheus.Counter
	AliasChanges     prometheus.Counter
	NameTaken        prometheus.Counter
	RateLimited      prometheus.Counter
	RateLimitWait    prometheus.Histogram
	CycleFailures    prometheus.Counter
	Notifications    *prometheus.CounterVec
	HousekeepingRuns *prometheus.CounterVec
	ConfigReloads    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "workers_active",
			Help:      "Number of live rotation workers.",
		}),
		WorkerStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "worker_starts_total",
			Help:      "Total number of rotation workers started.",
		}),
		AliasChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "alias_changes_total",
			Help:      "Total number of successful public link changes.",
		}),
		NameTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "name_taken_total",
			Help:      "Total number of candidate names already occupied.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "rate_limited_total",
			Help:      "Total number of flood waits returned by Telegram.",
		}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "rate_limit_wait_seconds",
			Help:      "Server-requested wait of each flood wait.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600, 14400, 86400},
		}),
		CycleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "cycle_failures_total",
			Help:      "Total number of rotation cycles that ended in a failure.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "events_total",
			Help:      "Notifier events, by outcome.",
		}, []string{"outcome"}),
		HousekeepingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "housekeeping",
			Name:      "runs_total",
			Help:      "Housekeeping job runs, by job and result.",
		}, []string{"job", "result"}),
		ConfigReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of applied config reloads.",
		}),
	}
	reg.MustRegister(
		m.WorkersActive, m.WorkerStarts, m.AliasChanges, m.NameTaken, m.RateLimited,
		m.RateLimitWait, m.CycleFailures, m.Notifications, m.HousekeepingRuns, m.ConfigReloads,
	)
	return m
}

// Observe records one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeWorkerStarted:
		m.WorkerStarts.Inc()
		m.WorkersActive.Inc()
	case eventbus.TypeWorkerStopped:
		m.WorkersActive.Dec()
	case eventbus.TypeAliasChanged:
		m.AliasChanges.Inc()
	case eventbus.TypeNameTaken:
		m.NameTaken.Inc()
	case eventbus.TypeRateLimited:
		m.RateLimited.Inc()
		if ev, ok := e.Data.(eventbus.RotationEvent); ok {
			m.RateLimitWait.Observe(ev.Wait.Seconds())
		}
	case eventbus.TypeCycleFailed:
		m.CycleFailures.Inc()
	case eventbus.TypeConfigReloaded:
		m.ConfigReloads.Inc()
	case eventbus.TypeTaskFinished:
		if ev, ok := e.Data.(scheduler.TaskEvent); ok {
			result := "ok"
			if ev.Error != "" {
				result = "error"
			}
			m.HousekeepingRuns.WithLabelValues(ev.Name, result).Inc()
		}
	default:
		if outcome, ok := strings.CutPrefix(e.Type, "notifier."); ok {
			m.Notifications.WithLabelValues(outcome).Inc()
		}
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
