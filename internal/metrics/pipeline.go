package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics for the per-camera workers and the event path.
// camera labels carry the camera UUID; cardinality is bounded by the
// fleet size, not by traffic.

var (
	// FramesPublishedTotal counts frames published to the frame bus.
	FramesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_frames_published_total",
			Help: "Total annotated frames published per camera",
		},
		[]string{"camera"},
	)

	// InferenceSeconds tracks detector pass duration.
	InferenceSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siteguard_inference_seconds",
			Help:    "Detector pass duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// InferenceErrorsTotal counts detector passes that returned an error.
	InferenceErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siteguard_inference_errors_total",
			Help: "Total detector passes that failed",
		},
	)

	// EventsMaterializedTotal counts persisted violation events.
	EventsMaterializedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_events_materialized_total",
			Help: "Total violation events written to the store",
		},
		[]string{"violation"},
	)

	// EventsSuppressedTotal counts violations swallowed by the deduplicator.
	EventsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siteguard_events_suppressed_total",
			Help: "Total violations suppressed by cooldown deduplication",
		},
	)

	// ActiveWorkers is the number of running camera workers.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siteguard_active_workers",
			Help: "Camera workers currently running",
		},
	)

	// SourceReconnectsTotal counts stream source reconnect attempts.
	SourceReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_source_reconnects_total",
			Help: "Total source reconnect attempts per camera",
		},
		[]string{"camera"},
	)

	// BroadcasterClients gauges subscribers per camera broadcaster.
	BroadcasterClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siteguard_broadcaster_clients",
			Help: "Connected stream clients per camera",
		},
		[]string{"camera"},
	)

	// FramesDroppedTotal counts frames dropped at slow stream clients.
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_frames_dropped_total",
			Help: "Frames dropped because a client queue was full",
		},
		[]string{"camera"},
	)

	// BusPublishErrorsTotal counts failed bus publishes by surface.
	BusPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siteguard_bus_publish_errors_total",
			Help: "Failed bus publishes by surface (frames, meta, events)",
		},
		[]string{"surface"},
	)
)

// Helper functions for metrics recording

func RecordFramePublished(cameraID string) {
	FramesPublishedTotal.WithLabelValues(cameraID).Inc()
}

func RecordInference(seconds float64) {
	InferenceSeconds.Observe(seconds)
}

func RecordInferenceError() {
	InferenceErrorsTotal.Inc()
}

func RecordEventMaterialized(violation string) {
	EventsMaterializedTotal.WithLabelValues(violation).Inc()
}

func RecordEventSuppressed() {
	EventsSuppressedTotal.Inc()
}

func RecordSourceReconnect(cameraID string) {
	SourceReconnectsTotal.WithLabelValues(cameraID).Inc()
}

func RecordFrameDrop(cameraID string) {
	FramesDroppedTotal.WithLabelValues(cameraID).Inc()
}

func RecordBusPublishError(surface string) {
	BusPublishErrorsTotal.WithLabelValues(surface).Inc()
}

// ForgetCamera drops the per-camera series after a worker is removed so
// stale cameras do not linger in scrapes.
func ForgetCamera(cameraID string) {
	FramesPublishedTotal.DeleteLabelValues(cameraID)
	SourceReconnectsTotal.DeleteLabelValues(cameraID)
	BroadcasterClients.DeleteLabelValues(cameraID)
	FramesDroppedTotal.DeleteLabelValues(cameraID)
}
