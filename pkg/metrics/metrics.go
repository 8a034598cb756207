package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Segment metrics
	SegmentsRecorded prometheus.Counter
	SegmentsDropped  *prometheus.CounterVec
	SegmentDuration  prometheus.Histogram

	// Upload metrics
	UploadsInFlight prometheus.Gauge
	UploadsTotal    *prometheus.CounterVec
	UploadLatency   prometheus.Histogram
	UploadQueueFull prometheus.Counter

	// Analysis metrics
	FacesDetected    prometheus.Counter
	TimelineEntries  prometheus.Gauge
	AnalysisFailures *prometheus.CounterVec

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionActive   prometheus.Gauge
)

// EnableMetrics toggles metric collection; tests disable it to avoid
// polluting the registry.
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// Enabled reports whether metric collection is active
func Enabled() bool {
	return metricsEnabled
}

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SegmentsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visage_segments_recorded_total",
			Help: "Total number of segments successfully recorded and validated",
		})

		SegmentsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visage_segments_dropped_total",
				Help: "Total number of segments dropped before upload",
			},
			[]string{"reason"},
		)

		SegmentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visage_segment_duration_seconds",
			Help:    "Observed wall time of one recording window",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		})

		UploadsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visage_uploads_in_flight",
			Help: "Number of segment uploads currently outstanding",
		})

		UploadsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visage_uploads_total",
				Help: "Total number of completed segment uploads",
			},
			[]string{"outcome"},
		)

		UploadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visage_upload_latency_seconds",
			Help:    "End-to-end latency of one segment upload and analysis",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		})

		UploadQueueFull = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visage_upload_queue_full_total",
			Help: "Total number of submissions rejected because the upload queue was full",
		})

		FacesDetected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visage_faces_detected_total",
			Help: "Total number of faces observed across analysis responses",
		})

		TimelineEntries = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visage_timeline_entries",
			Help: "Current number of entries in the emotion timeline",
		})

		AnalysisFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visage_analysis_failures_total",
				Help: "Total number of failed analysis attempts",
			},
			[]string{"kind"},
		)

		SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visage_sessions_started_total",
			Help: "Total number of recording sessions started",
		})

		SessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "visage_session_active",
			Help: "Whether a recording session is currently active",
		})

		registry.MustRegister(
			SegmentsRecorded, SegmentsDropped, SegmentDuration,
			UploadsInFlight, UploadsTotal, UploadLatency, UploadQueueFull,
			FacesDetected, TimelineEntries, AnalysisFailures,
			SessionsStarted, SessionActive,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// Handler returns the HTTP handler serving the metrics registry
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveUpload records one completed upload with its outcome
func ObserveUpload(outcome string, seconds float64) {
	if !metricsEnabled || UploadsTotal == nil {
		return
	}
	UploadsTotal.WithLabelValues(outcome).Inc()
	UploadLatency.Observe(seconds)
}

// ObserveSegmentDrop records one dropped segment
func ObserveSegmentDrop(reason string) {
	if !metricsEnabled || SegmentsDropped == nil {
		return
	}
	SegmentsDropped.WithLabelValues(reason).Inc()
}

// ObserveSegmentRecorded records one validated segment
func ObserveSegmentRecorded(seconds float64) {
	if !metricsEnabled || SegmentsRecorded == nil {
		return
	}
	SegmentsRecorded.Inc()
	SegmentDuration.Observe(seconds)
}

// ObserveAnalysisFailure records one failed analysis attempt by kind
func ObserveAnalysisFailure(kind string) {
	if !metricsEnabled || AnalysisFailures == nil {
		return
	}
	AnalysisFailures.WithLabelValues(kind).Inc()
}

// SetUploadsInFlight updates the in-flight gauge
func SetUploadsInFlight(n int) {
	if !metricsEnabled || UploadsInFlight == nil {
		return
	}
	UploadsInFlight.Set(float64(n))
}

// ObserveQueueFull records one rejected submission
func ObserveQueueFull() {
	if !metricsEnabled || UploadQueueFull == nil {
		return
	}
	UploadQueueFull.Inc()
}

// ObserveTimeline updates timeline and face counters after an applied response
func ObserveTimeline(entries, faces int) {
	if !metricsEnabled || TimelineEntries == nil {
		return
	}
	TimelineEntries.Set(float64(entries))
	FacesDetected.Add(float64(faces))
}

// ObserveSessionStart flips the session gauges for a new session
func ObserveSessionStart() {
	if !metricsEnabled || SessionsStarted == nil {
		return
	}
	SessionsStarted.Inc()
	SessionActive.Set(1)
}

// ObserveSessionStop clears the active-session gauge
func ObserveSessionStop() {
	if !metricsEnabled || SessionActive == nil {
		return
	}
	SessionActive.Set(0)
}
