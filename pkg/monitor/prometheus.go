package monitor

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// collectors mirrors the monitor counters into Prometheus. A nil *collectors
// is valid and records nothing.
type collectors struct {
	apiCalls        *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	ordersCreated   prometheus.Counter
	orderDuration   prometheus.Histogram
	ordersFailed    *prometheus.CounterVec
	ordersLimited   prometheus.Counter
	sessionsActiveG prometheus.Gauge
	webhooks        *prometheus.CounterVec
}

func newCollectors(reg prometheus.Registerer) *collectors {
	factory := promauto.With(reg)

	return &collectors{
		apiCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_monitor_api_calls_total",
				Help: "Upstream API attempts seen by the performance monitor",
			},
			[]string{"endpoint", "success"},
		),
		apiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orders_monitor_api_call_duration_seconds",
				Help:    "Upstream API attempt latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_monitor_cache_lookups_total",
				Help: "Facade cache lookups by result",
			},
			[]string{"resource", "result"},
		),
		ordersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created successfully",
		}),
		orderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orders_create_duration_seconds",
			Help:    "End-to-end order creation time",
			Buckets: prometheus.DefBuckets,
		}),
		ordersFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_failed_total",
				Help: "Order creations that failed",
			},
			[]string{"reason"},
		),
		ordersLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_limit_exceeded_total",
			Help: "Order creations refused by the per-customer limit",
		}),
		sessionsActiveG: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orders_sessions_active",
			Help: "Checkout sessions currently active",
		}),
		webhooks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_webhooks_total",
				Help: "Webhook deliveries by topic and outcome",
			},
			[]string{"topic", "outcome"},
		),
	}
}

func (c *collectors) apiCall(endpoint string, success bool, latency time.Duration) {
	if c == nil {
		return
	}
	c.apiCalls.WithLabelValues(endpoint, strconv.FormatBool(success)).Inc()
	c.apiDuration.WithLabelValues(endpoint).Observe(latency.Seconds())
}

func (c *collectors) cacheLookup(resource string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(resource, result).Inc()
}

func (c *collectors) orderCreated(d time.Duration) {
	if c == nil {
		return
	}
	c.ordersCreated.Inc()
	c.orderDuration.Observe(d.Seconds())
}

func (c *collectors) orderFailed(reason string) {
	if c == nil {
		return
	}
	c.ordersFailed.WithLabelValues(reason).Inc()
}

func (c *collectors) orderLimitExceeded() {
	if c == nil {
		return
	}
	c.ordersLimited.Inc()
}

func (c *collectors) sessionsActive(n int64) {
	if c == nil {
		return
	}
	c.sessionsActiveG.Set(float64(n))
}

func (c *collectors) webhook(topic, outcome string) {
	if c == nil {
		return
	}
	c.webhooks.WithLabelValues(topic, outcome).Inc()
}
