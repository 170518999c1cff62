package forecast

import (
	"fmt"
	"math"

	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/solar"
)

// RiskRules is the consolidated weather-condition rule table. One place for
// every threshold the legacy heuristics scattered across ad hoc functions.
type RiskRules struct {
	PressureDropSevere   float64 // hPa/h
	PressureDropModerate float64
	PressureAccel        float64

	HumidityBase  float64 // % above which humidity itself scores
	HumidityScale float64 // points per % above base
	HumidityCap   float64
	HumidityTrend float64 // points per % rise

	SpreadThreshold float64 // °C temp-dewpoint spread below which clouds form
	SpreadScale     float64
	SpreadCap       float64

	WindPickup float64 // km/h rise that starts scoring
	WindScale  float64

	UVRatioThreshold float64 // observed/expected below which UV scores
	UVScale          float64

	HighRiskScore   int
	CriticalFloor   int
	CriticalDamping float64
	DampingBands    []DampingBand
}

// DampingBand maps a minimum risk score to a point-estimate multiplier.
type DampingBand struct {
	MinScore int
	Factor   float64
}

func DefaultRiskRules() RiskRules {
	return RiskRules{
		PressureDropSevere:   -0.2,
		PressureDropModerate: -0.1,
		PressureAccel:        -0.05,
		HumidityBase:         65,
		HumidityScale:        2,
		HumidityCap:          30,
		HumidityTrend:        8,
		SpreadThreshold:      5,
		SpreadScale:          15,
		SpreadCap:            35,
		WindPickup:           2,
		WindScale:            5,
		UVRatioThreshold:     0.9,
		UVScale:              40,
		HighRiskScore:        50,
		CriticalFloor:        75,
		CriticalDamping:      0.25,
		DampingBands: []DampingBand{
			{MinScore: 80, Factor: 0.2},
			{MinScore: 60, Factor: 0.3},
			{MinScore: 40, Factor: 0.5},
			{MinScore: 20, Factor: 0.7},
		},
	}
}

// Assessment is one risk evaluation over recent observations.
type Assessment struct {
	Score    int
	Critical bool
	HighRisk bool
	Warnings []string
}

// Damping returns the point-estimate multiplier for this assessment.
func (a Assessment) Damping(rules RiskRules) float64 {
	if a.Critical {
		return rules.CriticalDamping
	}
	for _, band := range rules.DampingBands {
		if a.Score >= band.MinScore {
			return band.Factor
		}
	}
	return 1
}

// AssessRisk scores cloud-formation risk from the last three observations:
// pressure drop and acceleration, humidity level and trend, temp-dewpoint
// spread, wind pickup and UV shortfall against the expected curve, plus the
// critical combinations that floor the score. Fewer than three observations
// or missing covariates simply contribute nothing.
func AssessRisk(obs []models.Observation, rules RiskRules) Assessment {
	a := Assessment{}
	if len(obs) < 2 {
		return a
	}
	last := obs[len(obs)-1]
	prev := obs[len(obs)-2]

	var pressureTrend, pressureAccel float64
	havePressure := last.Pressure.Valid && prev.Pressure.Valid
	if havePressure {
		pressureTrend = last.Pressure.Float64 - prev.Pressure.Float64
		if len(obs) >= 3 && obs[len(obs)-3].Pressure.Valid {
			pressureAccel = pressureTrend - (prev.Pressure.Float64 - obs[len(obs)-3].Pressure.Float64)
		}
		switch {
		case pressureTrend < rules.PressureDropSevere:
			a.add(35, fmt.Sprintf("significant pressure drop: %.3f", pressureTrend))
		case pressureTrend < rules.PressureDropModerate:
			a.add(20, fmt.Sprintf("moderate pressure drop: %.3f", pressureTrend))
		}
		if pressureAccel < rules.PressureAccel {
			a.add(15, fmt.Sprintf("accelerating pressure drop: %.3f", pressureAccel))
		}
	}

	var humidityTrend float64
	haveHumidity := last.Humidity.Valid && prev.Humidity.Valid
	if haveHumidity {
		humidity := last.Humidity.Float64
		humidityTrend = humidity - prev.Humidity.Float64
		if humidity > rules.HumidityBase {
			pts := math.Min((humidity-rules.HumidityBase)*rules.HumidityScale, rules.HumidityCap)
			a.add(int(pts), fmt.Sprintf("elevated humidity: %.1f%%", humidity))
		}
		if humidityTrend > 0 {
			a.add(int(humidityTrend*rules.HumidityTrend), fmt.Sprintf("rising humidity: +%.1f%%", humidityTrend))
		}
	}

	var spread float64
	haveSpread := last.Temp.Valid && last.Dewpoint.Valid
	if haveSpread {
		spread = last.Temp.Float64 - last.Dewpoint.Float64
		if spread < rules.SpreadThreshold {
			pts := math.Min((rules.SpreadThreshold-spread)*rules.SpreadScale, rules.SpreadCap)
			a.add(int(pts), fmt.Sprintf("small temp-dewpoint spread: %.1f°C", spread))
		}
	}

	var windChange float64
	haveWind := last.WindSpeed.Valid && prev.WindSpeed.Valid
	if haveWind {
		windChange = last.WindSpeed.Float64 - prev.WindSpeed.Float64
		if windChange > rules.WindPickup {
			a.add(int(windChange*rules.WindScale), fmt.Sprintf("increasing wind: +%.1f km/h", windChange))
		}
	}

	uvRatio := 1.0
	if last.UV.Valid {
		if expected := ExpectedUV(last.ObservedAt.Hour()); expected > 0 {
			uvRatio = last.UV.Float64 / expected
			if uvRatio < rules.UVRatioThreshold {
				a.add(int((1-uvRatio)*rules.UVScale), fmt.Sprintf("lower than expected UV: %.1f vs %.1f", last.UV.Float64, expected))
			}
		}
	}

	critical := (havePressure && haveHumidity && pressureTrend < rules.PressureDropModerate && humidityTrend > 0) ||
		(haveSpread && haveHumidity && spread < rules.SpreadThreshold-1 && humidityTrend > 0) ||
		(havePressure && haveWind && pressureAccel < rules.PressureAccel && windChange > rules.WindPickup) ||
		(last.UV.Valid && haveHumidity && uvRatio < rules.UVRatioThreshold && humidityTrend > 0) ||
		(havePressure && haveSpread && pressureTrend < -0.15 && spread < rules.SpreadThreshold)
	if critical {
		a.Critical = true
		if a.Score < rules.CriticalFloor {
			a.Score = rules.CriticalFloor
		}
		a.Warnings = append(a.Warnings, "critical combination of risk indicators")
	}

	a.HighRisk = a.Score >= rules.HighRiskScore
	return a
}

func (a *Assessment) add(points int, warning string) {
	a.Score += points
	a.Warnings = append(a.Warnings, warning)
}

// expectedUVByHour is the site's typical clear-day UV index curve.
var expectedUVByHour = map[int]float64{
	6: 1, 7: 2, 8: 4, 9: 6, 10: 8, 11: 9, 12: 10,
	13: 9, 14: 8, 15: 6, 16: 4, 17: 2, 18: 1,
}

func ExpectedUV(hour int) float64 {
	return expectedUVByHour[hour]
}

// ApplyRisk dampens an interval's point estimate by the assessment's factor
// and re-clamps the bounds around the damped point. Outside daylight hours
// the interval passes through untouched.
func ApplyRisk(iv Interval, a Assessment, hour int, rules RiskRules) Interval {
	if hour < 6 || hour > 18 {
		return iv
	}
	factor := a.Damping(rules)
	if factor >= 1 {
		return iv
	}
	iv.Point *= factor
	if iv.Lower > iv.Point {
		iv.Lower = iv.Point
	}
	if iv.Upper < iv.Point {
		iv.Upper = iv.Point
	}
	return iv
}

// hourShape bounds the point estimate through the morning ramp; the
// multiplier tempers overshoot from lag-dominated features at sunrise.
type hourShape struct {
	Multiplier float64
	Min, Max   float64
}

var morningShapes = map[int]hourShape{
	6: {Multiplier: 0.15, Min: 10, Max: 30},
	7: {Multiplier: 0.3, Min: 50, Max: 150},
	8: {Multiplier: 0.5, Min: 100, Max: 300},
	9: {Multiplier: 0.7, Min: 200, Max: 500},
}

const (
	afternoonDecline  = 0.8 // per hour past peak
	afternoonPeakHour = 14
	prevHourCeiling   = 0.9 // afternoon point never exceeds 90% of the previous hour
	lateAfternoonCap  = 100 // W/m² from 17:00
)

// ShapeInterval runs an interval's point estimate through the hour-of-day
// ramp and decline heuristics and re-clamps the bounds around the result.
// Night intervals pass through untouched so the zero rule holds.
func ShapeInterval(iv Interval, hour int, prev float64) Interval {
	if iv.DayState == solar.Night {
		return iv
	}
	iv.Point = ShapePoint(iv.Point, hour, prev)
	if iv.Lower > iv.Point {
		iv.Lower = iv.Point
	}
	if iv.Upper < iv.Point {
		iv.Upper = iv.Point
	}
	return iv
}

// ShapePoint applies the hour-of-day ramp and decline heuristics to a point
// estimate. prev is the previous hour's irradiance, measured or forecast;
// pass 0 when unknown.
func ShapePoint(point float64, hour int, prev float64) float64 {
	if shape, ok := morningShapes[hour]; ok {
		point *= shape.Multiplier
		if point < shape.Min {
			point = shape.Min
		}
		if point > shape.Max {
			point = shape.Max
		}
		return point
	}

	if hour > afternoonPeakHour && hour <= 18 {
		point *= math.Pow(afternoonDecline, float64(hour-afternoonPeakHour))
		if prev > 0 && point > prev*prevHourCeiling {
			point = prev * prevHourCeiling
		}
		if hour >= 17 && point > lateAfternoonCap {
			point = lateAfternoonCap
		}
	}
	if point < 0 {
		point = 0
	}
	return point
}
