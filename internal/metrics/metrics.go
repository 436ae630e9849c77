// Package metrics exposes Prometheus instrumentation for the API bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	RateLimitThrottled  prometheus.Counter
	RateLimitQueueDepth prometheus.Gauge
	TokenRefreshesTotal *prometheus.CounterVec
	RetryAttemptsTotal  prometheus.Counter
}

// New registers the bridge's collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apibridge_requests_total",
			Help: "Total number of upstream API requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "apibridge_request_duration_seconds",
			Help:    "Latency of upstream API requests including retries and queue wait",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitThrottled: factory.NewCounter(prometheus.CounterOpts{
			Name: "apibridge_ratelimit_throttled_total",
			Help: "Total number of requests that had to queue for tokens",
		}),
		RateLimitQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "apibridge_ratelimit_queue_depth",
			Help: "Current number of requests waiting for tokens",
		}),
		TokenRefreshesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apibridge_token_refreshes_total",
			Help: "Total number of OAuth token refreshes by outcome",
		}, []string{"outcome"}),
		RetryAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apibridge_retry_attempts_total",
			Help: "Total number of request retry attempts",
		}),
	}
}

func (m *Metrics) ObserveRequest(outcome string, seconds float64) {
	m.RequestsTotal.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(seconds)
}

func (m *Metrics) IncrementThrottled() {
	m.RateLimitThrottled.Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	m.RateLimitQueueDepth.Set(float64(depth))
}

func (m *Metrics) IncrementTokenRefresh(outcome string) {
	m.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRetries() {
	m.RetryAttemptsTotal.Inc()
}
