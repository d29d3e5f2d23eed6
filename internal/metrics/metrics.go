package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArchiveAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandiforecast_archive_api_calls_total",
			Help: "Total Open-Meteo archive API calls",
		},
		[]string{"granularity", "status"},
	)

	ArchiveAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wandiforecast_archive_api_latency_seconds",
			Help:    "Archive API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"granularity"},
	)

	ArchiveCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandiforecast_archive_cache_lookups_total",
			Help: "Archive cache lookups by layer (memory, sqlite) and result (hit, miss, stale)",
		},
		[]string{"layer", "result"},
	)

	ModelFitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandiforecast_model_fits_total",
			Help: "Series models fitted, by stage (regressor, outcome, validate)",
		},
		[]string{"stage"},
	)

	ModelFitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wandiforecast_model_fit_seconds",
			Help:    "Time to fit and predict one series",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"stage"},
	)

	ForecastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandiforecast_forecasts_total",
			Help: "Forecast requests handled, by granularity and outcome",
		},
		[]string{"granularity", "status"},
	)
)
