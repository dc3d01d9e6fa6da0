package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabscan_rate_limit_hits_total",
			Help: "Total number of rejected requests by limit",
		},
		[]string{"limit"}, // minute, hour, requests, data
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabscan_upload_size_bytes",
			Help:    "Size of uploaded documents in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
	)

	resultDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabscan_result_downloads_total",
			Help: "Job results served, by format",
		},
		[]string{"format"},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabscan_websocket_active_connections",
			Help: "Number of active job event streams",
		},
	)

	websocketMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabscan_websocket_messages_sent_total",
			Help: "Total number of job events sent over websockets",
		},
	)
)
