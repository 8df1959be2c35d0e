package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serviceLabelNone はルートに一致しなかったリクエストのserviceラベル。
const serviceLabelNone = "none"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of requests dispatched by the gateway",
	}, []string{"service", "method", "status"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_upstream_latency_seconds",
		Help:    "Latency of upstream calls in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	}, []string{"service"})

	upstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_failures_total",
		Help: "Total number of failed upstream calls",
	}, []string{"service", "reason"})
)

// recordRequest はリクエスト1件の結果をメトリクスに記録する。
func recordRequest(service, method string, status int) {
	if service == "" {
		service = serviceLabelNone
	}
	requestsTotal.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
}

// recordUpstream は上流呼び出しの所要時間と失敗理由を記録する。
// reason が空の場合は成功とみなす。
func recordUpstream(service string, elapsed time.Duration, reason string) {
	upstreamLatency.WithLabelValues(service).Observe(elapsed.Seconds())
	if reason != "" {
		upstreamFailures.WithLabelValues(service, reason).Inc()
	}
}
