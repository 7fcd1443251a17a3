// Package metrics holds the prometheus collectors of the helpdesk backend.
// All recording methods accept a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpdesk"

type Metrics struct {
	WebhookRequests       *prometheus.CounterVec
	IngestedEvents        *prometheus.CounterVec
	AutoReplyOutcomes     *prometheus.CounterVec
	AutoReplyQueueDropped prometheus.Counter
	AutoReplyQueueDepth   prometheus.Gauge
	AutoReplyDuration     prometheus.Histogram
	CyclesCompleted       *prometheus.CounterVec
	SLAScans              *prometheus.CounterVec
	SLAScanDuration       prometheus.Histogram
	SLAAlerts             *prometheus.CounterVec
	ViewerConnections     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. A *prometheus.Registry also serves /metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook deliveries by result",
		}, []string{"result"}),
		IngestedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_events_total",
			Help:      "Normalized channel events by kind and outcome",
		}, []string{"kind", "outcome"}),
		AutoReplyOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_reply_outcomes_total",
			Help:      "Auto-reply decisions by outcome",
		}, []string{"outcome"}),
		AutoReplyQueueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_reply_queue_dropped_total",
			Help:      "Auto-reply tasks dropped because the queue was full",
		}),
		AutoReplyQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auto_reply_queue_depth",
			Help:      "Auto-reply tasks waiting for a worker",
		}),
		AutoReplyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auto_reply_duration_seconds",
			Help:      "Time spent deciding and sending one auto-reply, delay included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		CyclesCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_completed_total",
			Help:      "Completed conversation cycles by trigger",
		}, []string{"trigger"}),
		SLAScans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_scans_total",
			Help:      "SLA breach scans by result",
		}, []string{"result"}),
		SLAScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sla_scan_duration_seconds",
			Help:      "Time taken by one SLA breach scan",
			Buckets:   prometheus.DefBuckets,
		}),
		SLAAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_alerts_total",
			Help:      "SLA alert sends by result",
		}, []string{"result"}),
		ViewerConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewer_connections",
			Help:      "Connected real-time viewers",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry the metrics were created on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) Ingested(kind, outcome string) {
	if m == nil {
		return
	}
	m.IngestedEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) AutoReply(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.AutoReplyOutcomes.WithLabelValues(outcome).Inc()
	m.AutoReplyDuration.Observe(took.Seconds())
}

func (m *Metrics) QueueDropped() {
	if m == nil {
		return
	}
	m.AutoReplyQueueDropped.Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.AutoReplyQueueDepth.Set(float64(n))
}

func (m *Metrics) CycleCompleted(trigger string) {
	if m == nil {
		return
	}
	m.CyclesCompleted.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SLAScan(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.SLAScans.WithLabelValues(result).Inc()
	m.SLAScanDuration.Observe(took.Seconds())
}

func (m *Metrics) SLAAlert(result string) {
	if m == nil {
		return
	}
	m.SLAAlerts.WithLabelValues(result).Inc()
}

func (m *Metrics) ViewerConnected(delta int) {
	if m == nil {
		return
	}
	m.ViewerConnections.Add(float64(delta))
}
