package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Activity cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	fragmentsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_fragments_rendered_total",
			Help: "Rendered feed fragments by outcome.",
		},
		[]string{"outcome"},
	)

	feedInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_instances",
			Help: "Number of registered feed instances.",
		},
	)

	feedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Feed lifecycle events by kind.",
		},
		[]string{"kind"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Webhook events consumed by aspect and result.",
		},
		[]string{"aspect", "result"},
	)

	invalidationFeeds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_feeds_touched_total",
			Help: "Feeds refreshed or destroyed because of webhook events.",
		},
	)

	invalidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invalidation_process_seconds",
			Help:    "Time to process one webhook event.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	collectors = []prometheus.Collector{
		httpRequestsTotal,
		httpRequestDurationSeconds,
		upstreamLatencySeconds,
		buildInfo,
		cacheResults,
		cacheOps,
		cacheOpDuration,
		fragmentsRendered,
		feedInstances,
		feedEvents,
		invalidationEvents,
		invalidationFeeds,
		invalidationDuration,
		kafkaConsumerErrors,
	}
)

func init() {
	for _, c := range collectors {
		prometheus.MustRegister(c)
	}
}

// Init additionally exposes the service collectors on reg, used for the
// dedicated metrics listener. Build info is left out since the metrics
// provider registers its own richer app_build_info.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	for _, c := range collectors {
		if c == prometheus.Collector(buildInfo) {
			continue
		}
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, status int, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, strconv.Itoa(status)).Observe(durationSeconds)
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOps.WithLabelValues(op, result).Inc()
	cacheOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncRender(outcome string) {
	fragmentsRendered.WithLabelValues(outcome).Inc()
}

func SetFeedInstances(n int) {
	feedInstances.Set(float64(n))
}

func IncFeedEvent(kind string) {
	feedEvents.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

// ObserveInvalidation records one processed webhook event.
func ObserveInvalidation(aspect string, touched int, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationEvents.WithLabelValues(aspect, result).Inc()
	if touched > 0 {
		invalidationFeeds.Add(float64(touched))
	}
	invalidationDuration.Observe(d.Seconds())
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}
