// Package forecast turns raw model output into the published prediction
// intervals: day/night gating, calibration offsets, width enforcement and the
// weather-risk damping heuristics.
package forecast

import (
	"time"

	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/solar"
)

// AdjusterConfig holds the inference-time clamping constants. The split and
// squeeze values were carried over from the system this replaces; they are
// config rather than constants so a redeployment can retune them without a
// rebuild.
type AdjusterConfig struct {
	MaxIntervalWidth   float64
	TransitionDamping  float64
	MagnitudeThreshold float64 // point prediction above which the upper side gets the bigger share
	HighUpperShare     float64
	LowUpperShare      float64
	NoonSqueeze        float64 // fraction of the cap enforced at exact noon
}

func DefaultAdjusterConfig() AdjusterConfig {
	return AdjusterConfig{
		MaxIntervalWidth:   100,
		TransitionDamping:  0.3,
		MagnitudeThreshold: 300,
		HighUpperShare:     0.6,
		LowUpperShare:      0.4,
		NoonSqueeze:        0.99,
	}
}

// Interval is one adjusted forecast: the point estimate with its calibrated
// bounds and the day-state the target time classified as.
type Interval struct {
	Point    float64
	Lower    float64
	Upper    float64
	DayState solar.DayState
}

// Adjust applies the day/night rule, calibration offsets and width cap to a
// raw point prediction for the given target time. Pure: same inputs, same
// interval.
func Adjust(point float64, target time.Time, cal models.HorizonCalibration, cfg AdjusterConfig) Interval {
	state := solar.Classify(target)
	if state == solar.Night {
		return Interval{DayState: state}
	}

	if point < 0 {
		point = 0
	}
	lower := point + cal.LowerOffset
	if lower < 0 {
		lower = 0
	}
	upper := point + cal.UpperOffset
	if upper < lower {
		upper = lower
	}

	if state == solar.Transition {
		point *= cfg.TransitionDamping
		lower *= cfg.TransitionDamping
		upper *= cfg.TransitionDamping
	}

	lower, upper = enforceWidth(point, lower, upper, target, cfg)
	return Interval{Point: point, Lower: lower, Upper: upper, DayState: state}
}

// enforceWidth reclamps an over-wide interval around its midpoint with a
// magnitude-dependent asymmetric split. Exact noon gets a slightly stricter
// cap so the constraint survives floating-point adjustment downstream.
func enforceWidth(point, lower, upper float64, target time.Time, cfg AdjusterConfig) (float64, float64) {
	widthCap := cfg.MaxIntervalWidth
	if target.Hour() == 12 {
		widthCap *= cfg.NoonSqueeze
	}
	if upper-lower <= widthCap {
		return lower, upper
	}

	mid := (lower + upper) / 2
	upperShare := cfg.LowUpperShare
	if point > cfg.MagnitudeThreshold {
		upperShare = cfg.HighUpperShare
	}
	lower = mid - (1-upperShare)*widthCap
	if lower < 0 {
		lower = 0
	}
	upper = mid + upperShare*widthCap
	if upper < lower {
		upper = lower
	}
	return lower, upper
}
