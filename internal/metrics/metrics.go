// Package metrics exposes Prometheus collectors for publishing and fetching.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Publish results.
const (
	PublishSuccess = "success"
	PublishFailure = "failure"
)

// Fetch results.
const (
	FetchMerged        = "merged"
	FetchStale         = "stale"
	FetchNotFound      = "not_found"
	FetchProtocolError = "protocol_error"
	FetchMalformed     = "malformed"
	FetchSubstrate     = "substrate_error"
	FetchRejected      = "rejected"
)

// Collector holds the application metrics on its own registry.
//
// All methods are safe to call on a nil *Collector, which records nothing.
type Collector struct {
	registry *prometheus.Registry

	publishes       *prometheus.CounterVec
	publishDuration prometheus.Histogram
	fetches         *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	newContent      *prometheus.CounterVec
	breakerOpen     *prometheus.GaugeVec
}

// NewCollector creates a collector whose metrics are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publishes_total",
				Help:      "Publish attempts of local identities by result.",
			},
			[]string{"result"},
		),
		publishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Duration of substrate publish calls.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Fetches of remote identities by result.",
			},
			[]string{"result"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of fetch, decode and merge of a remote identity.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		newContent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "new_content_total",
				Help:      "Posts and replies seen for the first time.",
			},
			[]string{"kind"},
		),
		breakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_unreachable",
				Help:      "1 while fetching from a remote identity is suspended.",
			},
			[]string{"sone"},
		),
	}
	c.registry.MustRegister(
		c.publishes,
		c.publishDuration,
		c.fetches,
		c.fetchDuration,
		c.newContent,
		c.breakerOpen,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry returns the registry holding all collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObservePublish records one publish attempt.
func (c *Collector) ObservePublish(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.publishes.WithLabelValues(result).Inc()
	c.publishDuration.Observe(d.Seconds())
}

// ObserveFetch records one fetch attempt.
func (c *Collector) ObserveFetch(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(result).Inc()
	c.fetchDuration.Observe(d.Seconds())
}

// AddNewContent counts newly seen posts and replies.
func (c *Collector) AddNewContent(posts, replies int) {
	if c == nil {
		return
	}
	c.newContent.WithLabelValues("post").Add(float64(posts))
	c.newContent.WithLabelValues("reply").Add(float64(replies))
}

// SetRemoteUnreachable records whether fetching from a remote identity is suspended.
func (c *Collector) SetRemoteUnreachable(soneID string, unreachable bool) {
	if c == nil {
		return
	}
	v := 0.0
	if unreachable {
		v = 1
	}
	c.breakerOpen.WithLabelValues(soneID).Set(v)
}
