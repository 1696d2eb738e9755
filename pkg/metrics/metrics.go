// Package metrics provides a Prometheus collector for the request
// lifecycle and quota governance events. It satisfies the Metrics
// interfaces of pkg/quota, pkg/request and pkg/backup; all components
// accept a nil collector and skip instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes Prometheus metrics. Safe for concurrent use.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec

	throttleEngagedTotal prometheus.Counter
	quotaRemaining       prometheus.Gauge

	backupsTotal *prometheus.CounterVec
}

// NewCollector creates a collector on the default registerer.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewCollectorWithRegistry(registry prometheus.Registerer) *Collector {
	return &Collector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_requests_total",
				Help: "Total number of Alma API requests made",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alma_request_duration_seconds",
				Help:    "Duration of Alma API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_retries_total",
				Help: "Total number of retry attempts by kind (network, server)",
			},
			[]string{"method", "kind"},
		),
		throttleEngagedTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "alma_throttle_engaged_total",
				Help: "Number of times the per-second call window forced a suspension",
			},
		),
		quotaRemaining: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "alma_quota_remaining_calls",
				Help: "Remaining permitted API calls as reported by the remote service",
			},
		),
		backupsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_backups_written_total",
				Help: "Total number of pre-mutation backup records written",
			},
			[]string{"resource_type"},
		),
	}
}

// RequestObserved records one completed request attempt.
func (c *Collector) RequestObserved(method string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	c.requestsTotal.WithLabelValues(method, code).Inc()
	c.requestDuration.WithLabelValues(method, code).Observe(duration.Seconds())
}

// RetryAttempted records one retry of the given kind.
func (c *Collector) RetryAttempted(method, kind string) {
	c.retriesTotal.WithLabelValues(method, kind).Inc()
}

// ThrottleEngaged records one governor suspension.
func (c *Collector) ThrottleEngaged() {
	c.throttleEngagedTotal.Inc()
}

// QuotaRemaining records the remote-reported remaining call count.
func (c *Collector) QuotaRemaining(remaining int) {
	c.quotaRemaining.Set(float64(remaining))
}

// BackupWritten records one backup record.
func (c *Collector) BackupWritten(resourceType string) {
	c.backupsTotal.WithLabelValues(resourceType).Inc()
}
