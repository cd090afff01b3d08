// Package metrics exposes pipeline counters and gauges in Prometheus
// format. Event-driven values (detections, video jobs) are recorded at
// the call site, session gauges are refreshed from stats snapshots by
// the orchestrator's summary loop.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
	initialized  bool

	// Detection counters
	DetectionsTotal *prometheus.CounterVec
	FramesAnnotated prometheus.Counter
	FacesPerFrame   prometheus.Histogram

	// Video analysis counters
	VideoJobsTotal *prometheus.CounterVec

	// Session gauges, refreshed from snapshots
	SessionRunning       prometheus.Gauge
	CapturePeriodSeconds prometheus.Gauge
	CaptureQuality       prometheus.Gauge
	CaptureTicks         prometheus.Gauge
	CaptureSkippedBusy   prometheus.Gauge
	CaptureDispatched    prometheus.Gauge
	CaptureSucceeded     prometheus.Gauge
	CaptureFailed        prometheus.Gauge
	CaptureDiscardedLate prometheus.Gauge

	// Stream gauges
	StreamFPS       prometheus.Gauge
	StreamConnected prometheus.Gauge
	StreamFrames    prometheus.Gauge

	// Emitter gauges
	MQTTConnected prometheus.Gauge
	MQTTPublished prometheus.Gauge
	MQTTErrors    prometheus.Gauge

	// Monitor gauges
	MonitorClients    prometheus.Gauge
	StatsObservations prometheus.Gauge
)

// Init builds and registers all metrics. Safe to call more than once.
func Init() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		DetectionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotiscan_detections_total",
				Help: "Total number of classified faces by emotion",
			},
			[]string{"emotion"},
		)

		FramesAnnotated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emotiscan_frames_annotated_total",
				Help: "Total number of frames that completed classification and overlay",
			},
		)

		FacesPerFrame = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emotiscan_faces_per_frame",
				Help:    "Number of faces detected per classified frame",
				Buckets: prometheus.LinearBuckets(0, 1, 9), // 0 to 8 faces
			},
		)

		VideoJobsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emotiscan_video_jobs_total",
				Help: "Total number of offline video analysis jobs by outcome",
			},
			[]string{"status"},
		)

		SessionRunning = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_session_running",
			Help: "Whether a live detection session is active (1 = running)",
		})

		CapturePeriodSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_period_seconds",
			Help: "Configured sampling period of the capture loop",
		})

		CaptureQuality = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_quality",
			Help: "Configured JPEG quality for dispatched frames (0-1)",
		})

		CaptureTicks = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_ticks",
			Help: "Sampling ticks elapsed in the current process",
		})

		CaptureSkippedBusy = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_skipped_busy",
			Help: "Ticks skipped because a classification was still in flight",
		})

		CaptureDispatched = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_dispatched",
			Help: "Frames dispatched to the classifier",
		})

		CaptureSucceeded = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_succeeded",
			Help: "Classifications that returned a result",
		})

		CaptureFailed = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_failed",
			Help: "Classifications that failed or timed out",
		})

		CaptureDiscardedLate = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_capture_discarded_late",
			Help: "Results discarded because they arrived after the session stopped",
		})

		StreamFPS = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_stream_fps",
			Help: "Measured frame rate of the video source",
		})

		StreamConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_stream_connected",
			Help: "Whether the video source is delivering frames (1 = connected)",
		})

		StreamFrames = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_stream_frames",
			Help: "Frames decoded by the video source",
		})

		MQTTConnected = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_mqtt_connected",
			Help: "Whether the MQTT emitter is connected (1 = connected)",
		})

		MQTTPublished = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_mqtt_published",
			Help: "Messages published across all topics",
		})

		MQTTErrors = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_mqtt_errors",
			Help: "Publish attempts that failed or timed out",
		})

		MonitorClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_monitor_clients",
			Help: "Connected MJPEG/SSE monitor clients",
		})

		StatsObservations = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "emotiscan_stats_observations",
			Help: "Decayed observation weight currently held by the statistics table",
		})

		registry.MustRegister(
			DetectionsTotal,
			FramesAnnotated,
			FacesPerFrame,
			VideoJobsTotal,

			SessionRunning,
			CapturePeriodSeconds,
			CaptureQuality,
			CaptureTicks,
			CaptureSkippedBusy,
			CaptureDispatched,
			CaptureSucceeded,
			CaptureFailed,
			CaptureDiscardedLate,

			StreamFPS,
			StreamConnected,
			StreamFrames,

			MQTTConnected,
			MQTTPublished,
			MQTTErrors,

			MonitorClients,
			StatsObservations,
		)

		initialized = true
	})
}

// Registry returns the prometheus registry, nil before Init.
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          registry,
		},
	)
}

// RecordResult records one classified frame and its emotions.
func RecordResult(emotions []string) {
	if !initialized {
		return
	}
	FramesAnnotated.Inc()
	FacesPerFrame.Observe(float64(len(emotions)))
	for _, e := range emotions {
		DetectionsTotal.WithLabelValues(e).Inc()
	}
}

// RecordVideoJob records a finished video analysis job.
func RecordVideoJob(status string) {
	if !initialized {
		return
	}
	VideoJobsTotal.WithLabelValues(status).Inc()
}

// SetMonitorClients updates the connected-client gauge.
func SetMonitorClients(n int) {
	if !initialized {
		return
	}
	MonitorClients.Set(float64(n))
}

// Snapshot carries the point-in-time values refreshed by the
// orchestrator each summary cycle.
type Snapshot struct {
	SessionRunning bool
	PeriodSeconds  float64
	Quality        float64
	Ticks          float64
	SkippedBusy    float64
	Dispatched     float64
	Succeeded      float64
	Failed         float64
	DiscardedLate  float64

	StreamFPS       float64
	StreamConnected bool
	StreamFrames    float64

	MQTTConnected bool
	MQTTPublished float64
	MQTTErrors    float64

	Observations float64
}

// Update applies a snapshot to the session gauges.
func Update(s Snapshot) {
	if !initialized {
		return
	}

	SessionRunning.Set(boolGauge(s.SessionRunning))
	CapturePeriodSeconds.Set(s.PeriodSeconds)
	CaptureQuality.Set(s.Quality)
	CaptureTicks.Set(s.Ticks)
	CaptureSkippedBusy.Set(s.SkippedBusy)
	CaptureDispatched.Set(s.Dispatched)
	CaptureSucceeded.Set(s.Succeeded)
	CaptureFailed.Set(s.Failed)
	CaptureDiscardedLate.Set(s.DiscardedLate)

	StreamFPS.Set(s.StreamFPS)
	StreamConnected.Set(boolGauge(s.StreamConnected))
	StreamFrames.Set(s.StreamFrames)

	MQTTConnected.Set(boolGauge(s.MQTTConnected))
	MQTTPublished.Set(s.MQTTPublished)
	MQTTErrors.Set(s.MQTTErrors)

	StatsObservations.Set(s.Observations)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
