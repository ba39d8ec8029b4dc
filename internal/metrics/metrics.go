package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_events_received_total",
		Help: "Total number of inbound events, labeled by event type and outcome.",
	}, []string{"event_type", "outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_jobs_processed_total",
		Help: "Total number of channel jobs processed, labeled by channel and status.",
	}, []string{"channel", "status"})

	SendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatcher_send_latency_seconds",
		Help:    "Latency of outbound send attempts.",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_rate_limit_rejections_total",
		Help: "Send attempts deferred by a rate limiter, labeled by scope.",
	}, []string{"scope"})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatcher_websocket_connections",
		Help: "Currently connected real-time clients.",
	})
)
