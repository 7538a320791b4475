// Package metrics defines the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidvault"

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Queue jobs processed, by type and final status.",
	}, []string{"type", "status"})

	RequestsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Distinct events received from relays, by kind.",
	}, []string{"kind"})

	RequestsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_dropped_total",
		Help:      "Request events that could not be decoded or decrypted.",
	}, []string{"reason"})

	UploadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "Bytes sent to blob servers.",
	}, []string{"server"})

	UploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_failures_total",
		Help:      "Failed blob uploads, by server and file.",
	}, []string{"server", "file"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publish_failures_total",
		Help:      "Failed event publishes, by relay.",
	}, []string{"relay"})

	BlobsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_blobs_deleted_total",
		Help:      "Blobs removed by the retention sweep.",
	}, []string{"server"})

	StoredBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stored_bytes",
		Help:      "Bytes stored per blob server at the last sweep.",
	}, []string{"server"})

	OpenSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_subscriptions_open",
		Help:      "Relay subscriptions currently open.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Admin API requests, by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Admin API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	UploadSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upload_speed_bytes_per_second",
		Help:      "Smoothed upload speed used for ETAs.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
