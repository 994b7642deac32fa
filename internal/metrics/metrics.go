// Package metrics exposes the collector's Prometheus instruments on a dedicated registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beacon"

type Metrics struct {
	registry *prometheus.Registry

	Reports         *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	HostsOffline    prometheus.Counter
	OutagesOpened   prometheus.Counter
	OutagesClosed   prometheus.Counter
	Notifications   *prometheus.CounterVec
	NotifyDropped   prometheus.Counter
	ReconcileErrors prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Inbound reports by result.",
		}, []string{"result"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent authenticating and persisting a report.",
			Buckets:   prometheus.DefBuckets,
		}),
		HostsOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hosts_marked_offline_total",
			Help:      "Hosts flipped offline by the staleness sweep.",
		}),
		OutagesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outages_opened_total",
			Help:      "Outage records opened.",
		}),
		OutagesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outages_closed_total",
			Help:      "Outage records closed.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result.",
		}, []string{"result"}),
		NotifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the dispatch queue was full.",
		}),
		ReconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Per-host reconciliation failures.",
		}),
	}

	m.registry.MustRegister(
		m.Reports,
		m.IngestDuration,
		m.HostsOffline,
		m.OutagesOpened,
		m.OutagesClosed,
		m.Notifications,
		m.NotifyDropped,
		m.ReconcileErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
