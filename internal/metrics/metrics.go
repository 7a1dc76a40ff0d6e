// Package metrics declares the Prometheus collectors shared by the bootstrap
// packages. They register with the default registry on import.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "pageboot"

var (
	// PluginLoads counts plugin load attempts by stage and outcome
	// (loaded, failed, inactive).
	PluginLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "loads_total",
			Help:      "Plugin load outcomes by stage",
		},
		[]string{"stage", "outcome"},
	)

	// PluginHooks counts hook invocations by hook and outcome (ok, failed).
	PluginHooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugin",
			Name:      "hooks_total",
			Help:      "Plugin hook invocations by hook and outcome",
		},
		[]string{"hook", "outcome"},
	)

	// Checkpoints counts RUM checkpoints fired.
	Checkpoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rum",
			Name:      "checkpoints_total",
			Help:      "RUM checkpoints fired",
		},
		[]string{"checkpoint"},
	)

	// ListenerFailures counts RUM listeners that returned an error or panicked.
	ListenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rum",
			Name:      "listener_failures_total",
			Help:      "RUM listener failures by checkpoint",
		},
		[]string{"checkpoint"},
	)

	// Conversions counts conversion events by path
	// (immediate, buffered, merged, flushed, dropped).
	Conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversion",
			Name:      "events_total",
			Help:      "Conversion events by buffering path",
		},
		[]string{"path"},
	)

	// TransportFailures counts analytics calls rejected by the transport.
	TransportFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "transport_failures_total",
			Help:      "Analytics calls rejected by the transport",
		},
		[]string{"kind"},
	)

	// CollectorEvents counts events accepted by the collector.
	CollectorEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "events_total",
			Help:      "Analytics events accepted by the collector",
		},
		[]string{"kind"},
	)

	// HTTPRequests counts collector HTTP requests.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	// HTTPRequestDuration observes collector HTTP latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		PluginLoads,
		PluginHooks,
		Checkpoints,
		ListenerFailures,
		Conversions,
		TransportFailures,
		CollectorEvents,
		HTTPRequests,
		HTTPRequestDuration,
	)
}
