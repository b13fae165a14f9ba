package identity

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keysync",
			Subsystem: "identity",
			Name:      "requests_total",
			Help:      "Admin API attempts by method and status code (\"error\" for transport failures).",
		},
		[]string{"method", "code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "keysync",
			Subsystem: "identity",
			Name:      "request_duration_seconds",
			Help:      "Admin API attempt latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

func observe(method string, resp *Response, err error, d time.Duration) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.Status)
	}
	requestsTotal.WithLabelValues(method, code).Inc()
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}
