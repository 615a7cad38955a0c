package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shotclock_analyses_total",
		Help: "Total number of analyses run, by status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shotclock_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	SegmentsScoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shotclock_segments_scored_total",
		Help: "Total number of segments scored by the model",
	})

	PositiveSegmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shotclock_positive_segments_total",
		Help: "Total number of segments classified as a made shot",
	})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shotclock_frames_sampled_total",
		Help: "Total number of frames decoded for sampling",
	})

	ShortSegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shotclock_short_segments_total",
		Help: "Segments with fewer than 20 frames, by short segment policy",
	}, []string{"policy"})

	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shotclock_upload_bytes_total",
		Help: "Total bytes of uploaded video",
	})
)

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
