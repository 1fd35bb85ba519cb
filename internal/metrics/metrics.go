package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 为路由服务的 prometheus 指标，同时实现 venue.Observer 与 router.Recorder。
type Metrics struct {
	registry *prometheus.Registry

	VenueRequests      *prometheus.CounterVec   // labels: venue, outcome
	VenueLatency       *prometheus.HistogramVec // labels: venue
	VenueRetries       *prometheus.CounterVec   // labels: venue
	RateLimitWait      *prometheus.HistogramVec // labels: venue
	RouteOutcomes      *prometheus.CounterVec   // labels: broker, mode, outcome
	DailyNotional      prometheus.Gauge
	DailyNotionalLimit prometheus.Gauge
}

// New 在独立 registry 上注册全部指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		VenueRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_venue_requests_total",
			Help: "Outbound venue requests by final outcome",
		}, []string{"venue", "outcome"}),
		VenueLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_venue_request_duration_seconds",
			Help:    "Venue request latency including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"venue"}),
		VenueRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_venue_retries_total",
			Help: "Retried venue attempts",
		}, []string{"venue"}),
		RateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"venue"}),
		RouteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_orders_total",
			Help: "Routed orders by outcome",
		}, []string{"broker", "mode", "outcome"}),
		DailyNotional: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_daily_notional",
			Help: "Notional consumed in the current trading day",
		}),
		DailyNotionalLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_daily_notional_limit",
			Help: "Configured daily notional ceiling",
		}),
	}
	m.registry.MustRegister(
		m.VenueRequests,
		m.VenueLatency,
		m.VenueRetries,
		m.RateLimitWait,
		m.RouteOutcomes,
		m.DailyNotional,
		m.DailyNotionalLimit,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry，测试用。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveRequest(venue, outcome string, elapsed time.Duration) {
	m.VenueRequests.WithLabelValues(venue, outcome).Inc()
	m.VenueLatency.WithLabelValues(venue).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRetry(venue string) {
	m.VenueRetries.WithLabelValues(venue).Inc()
}

func (m *Metrics) ObserveRateLimitWait(venue string, waited time.Duration) {
	m.RateLimitWait.WithLabelValues(venue).Observe(waited.Seconds())
}

func (m *Metrics) ObserveRoute(broker, mode, outcome string) {
	m.RouteOutcomes.WithLabelValues(broker, mode, outcome).Inc()
}

func (m *Metrics) SetDailyNotional(used, limit float64) {
	m.DailyNotional.Set(used)
	m.DailyNotionalLimit.Set(limit)
}
