// Package metrics exposes Prometheus collectors for reconciliation cycles and
// roster ingestion on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lojf/rostersync/internal/events"
)

const namespace = "rostersync"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	FieldIssues   prometheus.Counter
	Assigned      prometheus.Counter
	Unidentified  prometheus.Gauge
	Lapsed        prometheus.Gauge
	Enrollments   prometheus.Gauge
	MemberEvents  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by outcome.",
		}, []string{"status"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of reconciliation cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		FieldIssues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_field_issues_total",
			Help:      "Feed fields that failed to parse.",
		}),
		Assigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_codes_assigned_total",
			Help:      "Identity codes assigned by the correlator.",
		}),
		Unidentified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members_unidentified",
			Help:      "Members without an identity code after the last cycle.",
		}),
		Lapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members_lapsed",
			Help:      "Members classified lapsed by the last cycle.",
		}),
		Enrollments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enrollment_records",
			Help:      "Records in the current enrollment snapshot.",
		}),
		MemberEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "member_events_total",
			Help:      "Membership events by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CyclesTotal, m.CycleDuration, m.FieldIssues, m.Assigned,
		m.Unidentified, m.Lapsed, m.Enrollments, m.MemberEvents,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// CycleSucceeded records a completed cycle.
func (m *Metrics) CycleSucceeded(d time.Duration, r events.CycleReport) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues("succeeded").Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.FieldIssues.Add(float64(r.Issues))
	m.Assigned.Add(float64(r.Assigned))
	m.Unidentified.Set(float64(len(r.Unidentified)))
	m.Lapsed.Set(float64(len(r.Lapsed)))
	m.Enrollments.Set(float64(r.Records))
}

// CycleFailed records a failed cycle. Gauges keep their last good values.
func (m *Metrics) CycleFailed(d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues("failed").Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// MemberEvent counts n membership events with the given result.
func (m *Metrics) MemberEvent(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MemberEvents.WithLabelValues(result).Add(float64(n))
}
