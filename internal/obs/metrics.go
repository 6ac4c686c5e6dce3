package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carestream"

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	subscriptionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Live record subscriptions currently open.",
		},
		[]string{"kind"},
	)

	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots delivered to views.",
		},
		[]string{"kind"},
	)

	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Record mutations by outcome.",
		},
		[]string{"kind", "operation", "outcome"},
	)

	denialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denials_total",
			Help:      "Operations refused by the authorization gate.",
		},
		[]string{"kind", "operation"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ready",
		Help:      "1 when the last readiness check passed.",
	})

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			subscriptionsActive, snapshotsTotal, mutationsTotal, denialsTotal, ready,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPStarted marks a request in flight; call the returned func when it completes.
func HTTPStarted() func(method, path string, status int) {
	httpInFlight.Inc()
	start := time.Now()
	return func(method, path string, status int) {
		httpInFlight.Dec()
		labels := []string{method, path, strconv.Itoa(status)}
		httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(labels...).Inc()
	}
}

// SubscriptionOpened and SubscriptionReleased track live subscriptions per kind.
func SubscriptionOpened(kind string)   { subscriptionsActive.WithLabelValues(kind).Inc() }
func SubscriptionReleased(kind string) { subscriptionsActive.WithLabelValues(kind).Dec() }

// SnapshotDelivered counts one snapshot handed to a view.
func SnapshotDelivered(kind string) { snapshotsTotal.WithLabelValues(kind).Inc() }

// Denied counts one gate refusal.
func Denied(kind, operation string) { denialsTotal.WithLabelValues(kind, operation).Inc() }

// Mutation counts one write attempt with outcome ok, denied, invalid or failed.
func Mutation(kind, operation, outcome string) {
	mutationsTotal.WithLabelValues(kind, operation, outcome).Inc()
}

// SetReady records the last readiness result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

var idSegments = map[string]bool{
	"patients":      true,
	"appointments":  true,
	"prescriptions": true,
	"users":         true,
}

// CanonicalPath collapses record ids in API paths so metric labels stay bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if idSegments[parts[i-1]] && parts[i] != "" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
