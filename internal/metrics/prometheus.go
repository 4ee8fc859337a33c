package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbpick_extractions_total",
		Help: "Total number of extraction runs, by status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "thumbpick_stage_duration_seconds",
		Help:    "Duration of extraction stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbpick_frames_sampled_total",
		Help: "Total number of frames decoded by the sampler",
	})

	FramesAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbpick_frames_accepted_total",
		Help: "Total number of sampled frames kept by the similarity filter",
	})

	FramesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbpick_frames_rejected_total",
		Help: "Total number of sampled frames dropped as near duplicates",
	})

	DetectorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbpick_detector_failures_total",
		Help: "Total number of detector calls that failed and were scored as 0",
	}, []string{"detector"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbpick_active_workers",
		Help: "Number of scoring workers currently running",
	})
)

// Status labels for ExtractionsTotal
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Stage labels for StageDuration
const (
	StageDecode = "decode"
	StageScore  = "score"
	StageWrite  = "write"
)
