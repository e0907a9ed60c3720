package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelcheck",
		Name:      "probe_total",
		Help:      "Probe outcomes by endpoint type and status.",
	}, []string{"endpoint", "status"})

	probeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "modelcheck",
		Name:      "probe_latency_seconds",
		Help:      "Probe latency from send to full body read.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"endpoint"})

	relayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modelcheck",
		Name:      "relay_requests_total",
		Help:      "Forwarded requests by relay mode and upstream status code.",
	}, []string{"mode", "code"})
)

// ObserveProbe records one finished probe.
func ObserveProbe(endpoint string, status string, latencyMs int64) {
	probeTotal.WithLabelValues(endpoint, status).Inc()
	if latencyMs > 0 {
		probeLatency.WithLabelValues(endpoint).Observe(float64(latencyMs) / 1000)
	}
}

// ObserveRelay records one forwarded request.
func ObserveRelay(mode string, statusCode int) {
	relayRequests.WithLabelValues(mode, strconv.Itoa(statusCode)).Inc()
}
