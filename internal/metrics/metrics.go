package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StationAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcast_station_api_calls_total",
			Help: "Total weather station API calls",
		},
		[]string{"endpoint", "status"},
	)

	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcast_observations_ingested_total",
			Help: "Total observations successfully ingested",
		},
		[]string{"source"},
	)

	PredictionsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcast_predictions_issued_total",
			Help: "Total forecast intervals issued",
		},
		[]string{"horizon", "day_state"},
	)

	IntervalWidth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarcast_interval_width_wm2",
			Help:    "Issued prediction interval width in W/m²",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"horizon"},
	)

	CalibrationCoverage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarcast_calibration_coverage",
			Help: "Validation coverage achieved by the current calibration",
		},
		[]string{"horizon"},
	)

	RiskScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarcast_risk_score",
			Help: "Latest weather-condition risk score",
		},
	)
)
