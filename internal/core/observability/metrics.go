package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var modeLabel atomic.Value

func init() {
	modeLabel.Store("editing")
	prometheus.MustRegister(collectors()...)
}

// SetMode sets the simulation mode label attached to LOD metrics.
func SetMode(s string) {
	if s == "" {
		s = "editing"
	}
	modeLabel.Store(s)
}

func getMode() string {
	if v := modeLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "editing"
}

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

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	tileFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_fetch_total",
			Help: "Completed tile fetches by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	tileFetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_fetch_duration_seconds",
			Help:    "Duration of tile fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"source"},
	)

	tileFetchInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tile_fetch_inflight",
			Help: "Tile fetches currently downloading.",
		},
	)

	tileRequestsDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_requests_deduplicated_total",
			Help: "Fetch calls answered by an already registered request.",
		},
	)

	textureDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "texture_decode_errors_total",
			Help: "Downloaded tiles that could not be decoded into an image.",
		},
		[]string{"provider"},
	)

	lodTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lod_transitions_total",
			Help: "Quadtree node state transitions.",
		},
		[]string{"transition", "mode"},
	)

	lodVisibleNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lod_visible_nodes",
			Help: "Quadtree nodes visible after the last tick.",
		},
	)

	lodNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lod_nodes_total",
			Help: "Quadtree nodes created so far.",
		},
	)

	lodTickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lod_tick_duration_seconds",
			Help:    "Duration of one controller tick in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	capabilitiesRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capabilities_requests_total",
			Help: "GetCapabilities requests by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis cache operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events processed by op and result.",
		},
		[]string{"op", "result"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, buildInfo,
		tileFetchTotal, tileFetchDurationSeconds, tileFetchInflight, tileRequestsDeduped,
		textureDecodeErrors,
		lodTransitions, lodVisibleNodes, lodNodes, lodTickDurationSeconds,
		capabilitiesRequests,
		cacheOpTotal, redisOpDurationSeconds,
		invalidationsTotal, kafkaConsumerErrors,
	}
}

// Init additionally exposes all collectors on reg. Collectors stay on the
// default registry either way.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
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

func ObserveTileFetch(source, outcome string, durationSeconds float64) {
	tileFetchTotal.WithLabelValues(source, outcome).Inc()
	if durationSeconds >= 0 {
		tileFetchDurationSeconds.WithLabelValues(source).Observe(durationSeconds)
	}
}

func AddTileFetchInflight(delta float64) { tileFetchInflight.Add(delta) }

func IncTileRequestDeduped() { tileRequestsDeduped.Inc() }

func IncTextureDecodeError(provider string) {
	textureDecodeErrors.WithLabelValues(provider).Inc()
}

func IncLODTransition(transition string) {
	lodTransitions.WithLabelValues(transition, getMode()).Inc()
}

func SetLODNodes(visible, total int) {
	lodVisibleNodes.Set(float64(visible))
	lodNodes.Set(float64(total))
}

func ObserveLODTick(durationSeconds float64) {
	lodTickDurationSeconds.Observe(durationSeconds)
}

func IncCapabilitiesRequest(outcome string) {
	capabilitiesRequests.WithLabelValues(outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ObserveInvalidation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationsTotal.WithLabelValues(op, result).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
