package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framegate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "Connection accept attempts by transport and result.",
		},
		[]string{"transport", "result"},
	)
	channels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Subsystem: "transport",
			Name:      "channels_total",
			Help:      "Channels accepted by transport.",
		},
		[]string{"transport"},
	)
	flows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Subsystem: "receiver",
			Name:      "flows_total",
			Help:      "Channel flows by last state reached and outcome.",
		},
		[]string{"reached", "outcome"},
	)
	bodyBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "framegate",
			Subsystem: "receiver",
			Name:      "body_bytes",
			Help:      "Size of fully received message bodies.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
	)
	flowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "framegate",
			Subsystem: "receiver",
			Name:      "flow_duration_seconds",
			Help:      "Time from channel accept to flow close.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, connections, channels, flows, bodyBytes, flowDuration)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnection(transport, result string) {
	RegisterMetrics()
	connections.WithLabelValues(transport, result).Inc()
}

func RecordChannel(transport string) {
	RegisterMetrics()
	channels.WithLabelValues(transport).Inc()
}

// RecordFlow counts one finished channel flow. bodyLen < 0 means the body
// was never fully received.
func RecordFlow(reached, outcome string, bodyLen int, duration time.Duration) {
	RegisterMetrics()
	flows.WithLabelValues(reached, outcome).Inc()
	if bodyLen >= 0 {
		bodyBytes.Observe(float64(bodyLen))
	}
	flowDuration.Observe(duration.Seconds())
}
