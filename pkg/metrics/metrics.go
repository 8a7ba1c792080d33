// Package metrics exposes crawler counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
)

const namespace = "crawl_frontier"

// Metrics holds every collector, registered on one registry
type Metrics struct {
	registry *prometheus.Registry

	Claims          *prometheus.CounterVec // result: claimed, empty, error
	Releases        *prometheus.CounterVec // state the link moved to
	GuardRejections *prometheus.CounterVec // reason
	FetchErrors     *prometheus.CounterVec // category from utils.CategorizeError
	PageSaves       *prometheus.CounterVec // action: insert, update
	LinksEnqueued   prometheus.Counter
	FrontierLinks   *prometheus.GaugeVec // state
	FetchDuration   prometheus.Histogram
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Claims: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "ClaimNext calls by result.",
		}, []string{"result"}),
		Releases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_outcomes_total",
			Help:      "Leases ended, by the state the link moved to.",
		}, []string{"state"}),
		GuardRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Responses rejected by the trap guard, by reason.",
		}, []string{"reason"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed fetches by error category.",
		}, []string{"category"}),
		PageSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_saves_total",
			Help:      "Pages written, by insert or near-duplicate update.",
		}, []string{"action"}),
		LinksEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_enqueued_total",
			Help:      "New links added to the frontier.",
		}),
		FrontierLinks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_links",
			Help:      "Frontier records by state at the last progress report.",
		}, []string{"state"}),
		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetches including retries.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
		}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records how long one fetch took
func (m *Metrics) ObserveFetch(start time.Time) {
	m.FetchDuration.Observe(time.Since(start).Seconds())
}

// SetFrontierStats publishes a stats snapshot
func (m *Metrics) SetFrontierStats(stats models.FrontierStats) {
	m.FrontierLinks.WithLabelValues(string(models.LinkStatePending)).Set(float64(stats.Pending))
	m.FrontierLinks.WithLabelValues(string(models.LinkStateLeased)).Set(float64(stats.Leased))
	m.FrontierLinks.WithLabelValues(string(models.LinkStateDone)).Set(float64(stats.Done))
	m.FrontierLinks.WithLabelValues(string(models.LinkStateFailed)).Set(float64(stats.Failed))
	m.FrontierLinks.WithLabelValues("finished").Set(float64(stats.Finished))
}
