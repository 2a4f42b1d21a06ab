package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekolahchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sekolahchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekolahchat_messages_sent_total",
			Help: "Total messages appended",
		},
		[]string{"room_kind", "type"},
	)

	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekolahchat_rooms_created_total",
			Help: "Total rooms created",
		},
		[]string{"room_kind"},
	)

	ReadCursorAdvanced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sekolahchat_read_cursor_advanced_total",
			Help: "Total markRead calls that moved a cursor forward",
		},
	)

	// Attachment metrics
	AttachmentsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekolahchat_attachments_uploaded_total",
			Help: "Total attachments stored",
		},
		[]string{"family"}, // "image" / "video"
	)

	AttachmentsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekolahchat_attachments_rejected_total",
			Help: "Total attachments rejected before storage",
		},
		[]string{"reason"},
	)

	AttachmentBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sekolahchat_attachment_size_bytes",
			Help:    "Size of accepted attachments",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		},
	)

	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sekolahchat_orphan_attachments_reaped_total",
			Help: "Total never-linked attachments garbage collected",
		},
	)

	// Realtime metrics
	RealtimePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sekolahchat_realtime_published_total",
			Help: "Total realtime events published",
		},
		[]string{"kind"},
	)

	RealtimeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sekolahchat_realtime_publish_failures_total",
			Help: "Total realtime publishes that failed (NotifierUnavailable)",
		},
	)

	RealtimeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sekolahchat_realtime_subscriptions",
			Help: "Currently open topic subscriptions",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sekolahchat_websocket_connections",
			Help: "Currently open websocket connections",
		},
	)
)
