// Package metrics exposes Prometheus counters and histograms for the ubiq
// client's session and cache activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ubiq"

// Registry is the package-local registry rather than the global default, so
// embedding applications can mount it at whatever path they choose (or not
// at all) without colliding with their own metrics.
var Registry = prometheus.NewRegistry()

var (
	// SessionsCreated tracks encryption sessions negotiated via Create.
	SessionsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of encryption sessions created",
		},
		[]string{"status"}, // success, failure
	)

	// SessionUsesRequested tracks the uses budget requested per session.
	SessionUsesRequested = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "uses_requested",
			Help:      "Number of uses requested per session",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// CacheHits and CacheMisses track the unwrapped-data-key cache the
	// decrypt package keeps.
	CacheHits = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of unwrap-cache hits",
		},
	)
	CacheMisses = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of unwrap-cache misses",
		},
	)

	// EncryptBytes and DecryptBytes track throughput by operation.
	EncryptBytes = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "io",
			Name:      "encrypt_bytes_total",
			Help:      "Total plaintext bytes encrypted",
		},
	)
	DecryptBytes = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "io",
			Name:      "decrypt_bytes_total",
			Help:      "Total ciphertext bytes decrypted",
		},
	)

	// AEADFailures tracks tag-verification failures, the signal an operator
	// watches for tampering or corruption on the wire.
	AEADFailures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "aead_failures_total",
			Help:      "Total authentication tag verification failures",
		},
	)

	// RESTLatency tracks key-service round trip time by endpoint.
	RESTLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "request_duration_seconds",
			Help:      "Key-service REST request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"endpoint", "status"},
	)
)
