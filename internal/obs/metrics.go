package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Client-sync metrics shared by the collection stores, the identity resolver
// and the remote transport.
var (
	syncMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mutations_total",
			Help: "Optimistic mutations by collection, operation and outcome.",
		},
		[]string{"collection", "op", "outcome"},
	)

	syncRollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_rollbacks_total",
			Help: "Optimistic mutations rolled back after a remote failure.",
		},
		[]string{"collection", "op"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cache_lookups_total",
			Help: "Owner-keyed snapshot cache lookups.",
		},
		[]string{"collection", "result"},
	)

	identityResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_resolutions_total",
			Help: "Identity resolutions by outcome (owner, member, fallback).",
		},
		[]string{"outcome"},
	)

	remoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_request_duration_seconds",
			Help:    "Remote data/auth service call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "status"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(syncMutations, syncRollbacks, cacheLookups, identityResolutions, remoteRequestDuration)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// MutationObserved records the terminal outcome of an optimistic mutation.
func MutationObserved(collection, op, outcome string) {
	syncMutations.WithLabelValues(collection, op, outcome).Inc()
}

// RollbackObserved records a rollback of an optimistic mutation.
func RollbackObserved(collection, op string) {
	syncRollbacks.WithLabelValues(collection, op).Inc()
}

// CacheLookup records a snapshot cache hit or miss.
func CacheLookup(collection, result string) {
	cacheLookups.WithLabelValues(collection, result).Inc()
}

// ResolutionObserved records an identity resolution outcome.
func ResolutionObserved(outcome string) {
	identityResolutions.WithLabelValues(outcome).Inc()
}

// ObserveRemote records one remote service call.
func ObserveRemote(op string, status int, started time.Time) {
	remoteRequestDuration.WithLabelValues(op, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}
