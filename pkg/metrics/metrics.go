package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHitsTotal / CacheMissesTotal count Cached wrapper lookups by
	// kind ("name" or "contract").
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_cache_hits_total",
			Help: "Total number of Cached wrapper hits by kind",
		},
		[]string{"kind"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_cache_misses_total",
			Help: "Total number of Cached wrapper misses by kind",
		},
		[]string{"kind"},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_cache_evictions_total",
			Help: "Total number of FIFO cache evictions by kind",
		},
		[]string{"kind"},
	)

	CacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_cache_size",
			Help: "Current number of entries held by the Cached wrapper by kind",
		},
		[]string{"kind"},
	)

	// BagOccupancy tracks available/processing message counts per bag,
	// observed by the lease sweeper on each sweep.
	BagOccupancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_bag_occupancy",
			Help: "Current message count per bag by partition",
		},
		[]string{"bag", "partition"},
	)

	// BagClaimRacesTotal counts retries in the claim loops of the backends
	// whose RemoveMessage can lose a race (LocalFS, S3).
	BagClaimRacesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_bag_claim_races_total",
			Help: "Total number of lost claim races retried during RemoveMessage",
		},
		[]string{"bag"},
	)

	MessagesSweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_messages_swept_total",
			Help: "Total number of expired processing messages returned to available by the lease sweeper",
		},
		[]string{"bag"},
	)

	// HTTPRequestsTotal / HTTPRequestDuration cover the RequestEngine
	// boundary.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_http_requests_total",
			Help: "Total number of HTTP requests by method, namespace, and status",
		},
		[]string{"method", "namespace", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "namespace"},
	)
)

func init() {
	prometheus.MustRegister(
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		CacheSize,
		BagOccupancy,
		BagClaimRacesTotal,
		MessagesSweptTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time to a histogram vec with the
// given label values, in the order the vec was declared.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
