package telemetry

// SLI metric names used for instrumentation.
const (
	// Latency
	MetricAPILatencyP50 = "api.latency.p50"
	MetricAPILatencyP95 = "api.latency.p95"
	MetricAPILatencyP99 = "api.latency.p99"

	// Throughput
	MetricRequestsPerSec = "api.requests_per_second"

	// Data freshness
	MetricPresenceLag  = "presence.write_to_feed_seconds"
	MetricPresenceAge  = "presence.last_update_age_seconds"
	MetricSceneInitP95 = "map.scene_init.p95"

	// Availability
	MetricUptime = "service.uptime_percentage"

	// Business
	MetricActiveSharers = "business.active_sharers"
	MetricRoutesPlanned = "business.routes_planned"
)

// Span names shared by the usecases and adapters.
const (
	SpanSearch     = "SearchService.Search"
	SpanRoutePlan  = "RoutePlanner.Plan"
	SpanSweep      = "PresenceExpiry.Sweep"
	TracerSearch   = "livemap/search"
	TracerRouting  = "livemap/routing"
	TracerPresence = "livemap/presence"
)
