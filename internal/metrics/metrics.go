// Package metrics provides Prometheus metrics for monitoring chromefleet:
// tool-call throughput and latency, pool/profile/session counts, bot-block
// detections, and the process's own memory/goroutine footprint.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolCallsTotal counts tool invocations by tool name and outcome.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromefleet_tool_calls_total",
			Help: "Total number of tool calls processed, by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// ToolCallDuration tracks tool call duration by tool name.
	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chromefleet_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"tool"},
	)

	// PoolSize shows how many browser instances the pool currently owns.
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_pool_size",
			Help: "Browser instances currently owned by the pool",
		},
	)

	// PoolAvailable shows idle instances currently available in the pool.
	PoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_pool_available",
			Help: "Idle browser instances available in the pool",
		},
	)

	// InstancesLaunchedTotal counts every instance the pool spawns (start-up,
	// on-demand and background top-up). Instances launched outside the pool
	// are not counted.
	InstancesLaunchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chromefleet_instances_launched_total",
			Help: "Total browser instances launched",
		},
	)

	// InstancesCrashedTotal counts instances the pool recycled because they
	// stopped responding.
	InstancesCrashedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chromefleet_instances_crashed_total",
			Help: "Total browser instances recycled after a crash or hang",
		},
	)

	// ProfileCount shows the number of persisted profiles.
	ProfileCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_profiles",
			Help: "Number of persisted browser profiles",
		},
	)

	// SessionCount shows the number of persisted session snapshots.
	SessionCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_sessions",
			Help: "Number of persisted session snapshots",
		},
	)

	// BlocksDetectedTotal counts navigations flagged by the bot-block
	// detector, by category (rate_limit, access_denied, captcha, geo_blocked).
	BlocksDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chromefleet_blocks_detected_total",
			Help: "Total navigations flagged as blocked, by category",
		},
		[]string{"category"},
	)

	// WebSocketConnections shows currently open WebSocket transport
	// connections.
	WebSocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_websocket_connections",
			Help: "Currently open WebSocket connections",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chromefleet_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chromefleet_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		ToolCallsTotal,
		ToolCallDuration,
		PoolSize,
		PoolAvailable,
		InstancesLaunchedTotal,
		InstancesCrashedTotal,
		ProfileCount,
		SessionCount,
		BlocksDetectedTotal,
		WebSocketConnections,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector starts a goroutine that periodically updates memory
// metrics until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordToolCall records one completed tools/call dispatch.
func RecordToolCall(tool, outcome string, duration time.Duration) {
	ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordInstanceLaunched records one instance spawned by the pool.
func RecordInstanceLaunched() {
	InstancesLaunchedTotal.Inc()
}

// RecordInstanceCrashed records a pool recycle triggered by a crashed or
// unresponsive instance.
func RecordInstanceCrashed() {
	InstancesCrashedTotal.Inc()
}

// RecordBlock records one bot-block detection by category.
func RecordBlock(category string) {
	BlocksDetectedTotal.WithLabelValues(category).Inc()
}

// UpdatePoolMetrics updates instance pool gauges.
func UpdatePoolMetrics(size, available int) {
	PoolSize.Set(float64(size))
	PoolAvailable.Set(float64(available))
}

// UpdateProfileMetrics updates the persisted profile count gauge.
func UpdateProfileMetrics(count int) {
	ProfileCount.Set(float64(count))
}

// UpdateSessionMetrics updates the persisted session count gauge.
func UpdateSessionMetrics(count int) {
	SessionCount.Set(float64(count))
}

// UpdateWebSocketConnections updates the open-connection gauge.
func UpdateWebSocketConnections(count int) {
	WebSocketConnections.Set(float64(count))
}
