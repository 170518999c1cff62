package models

import (
	"database/sql"
	"time"
)

// Horizon is a forecast lead time in hours ahead of the observation time.
type Horizon int

// Horizons is the configured set of lead times. Every per-horizon map in the
// system is keyed by exactly these values; an unlisted horizon is rejected at
// the service boundary.
var Horizons = []Horizon{1, 2, 3, 4}

func ValidHorizon(h Horizon) bool {
	for _, v := range Horizons {
		if v == h {
			return true
		}
	}
	return false
}

// Site is the fixed deployment location the physics model and the seasonal
// day/night rule are parameterised for.
type Site struct {
	Name      string
	Latitude  float64
	Longitude float64
	Timezone  string
}

type Observation struct {
	ID          int64
	ObservedAt  time.Time
	Temp        sql.NullFloat64
	Humidity    sql.NullFloat64
	Pressure    sql.NullFloat64
	Dewpoint    sql.NullFloat64
	WindSpeed   sql.NullFloat64
	UV          sql.NullFloat64
	Irradiance  sql.NullFloat64 // measured GHI, W/m², >= 0
	QCStatus    int
	SourceLabel string
	CreatedAt   time.Time
}

// Prediction is one emitted forecast interval. Immutable once created; rows
// are written to the predictions table and the CSV artifact but never read
// back into domain state.
type Prediction struct {
	ID         int64
	IssuedAt   time.Time
	TargetTime time.Time
	Horizon    Horizon
	Point      float64
	Lower      float64
	Upper      float64
	DayState   string // "day", "night" or "transition" at the target time
	CreatedAt  time.Time
}

// HorizonCalibration is the per-horizon calibration state: additive offsets
// applied to the point estimate, plus the diagnostics achieved on the
// validation set the offsets were fitted on. Replaced wholesale on
// recalibration, never mutated incrementally.
type HorizonCalibration struct {
	Horizon      Horizon
	LowerOffset  float64
	UpperOffset  float64
	Coverage     float64
	MeanWidth    float64
	MaxWidth     float64
	PeakCoverage sql.NullFloat64
	PeakWidth    sql.NullFloat64
	CalibratedAt time.Time
}

// BundleMeta describes a persisted model bundle.
type BundleMeta struct {
	ID           int64
	TrainedAt    time.Time
	TrainRows    int
	ValRows      int
	TestRows     int
	FeatureNames []string
}
