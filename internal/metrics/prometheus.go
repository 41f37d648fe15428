package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flickerscope_cache_lookups_total",
		Help: "Feature cache lookups, by result",
	}, []string{"result"})

	CacheWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flickerscope_cache_write_errors_total",
		Help: "Feature cache entries that could not be written",
	})

	FramesDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flickerscope_frames_decoded_total",
		Help: "Total number of frames decoded across all videos",
	})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flickerscope_extraction_duration_seconds",
		Help:    "Duration of feature extraction stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	VideosProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flickerscope_videos_processed_total",
		Help: "Videos processed, by status",
	}, []string{"status"})
)

// Cache lookup results.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Video processing statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)
