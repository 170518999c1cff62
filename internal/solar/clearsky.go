package solar

import (
	"math"
	"time"
)

const (
	// SolarConstant is the mean extraterrestrial irradiance at the top of the
	// atmosphere, W/m².
	SolarConstant = 1361

	// MaxClearSky caps the modelled surface irradiance at a physically
	// plausible maximum, W/m².
	MaxClearSky = 1500

	maxAirMass      = 10
	minTransmission = 0.50
	maxTransmission = 0.85

	// Clear-sky index is undefined close to sunrise/sunset where the modelled
	// denominator approaches zero; below this threshold the index is 0.
	indexFloor = 10
	maxIndex   = 1.5
)

// Position holds the solar geometry for one timestamp at a fixed site.
type Position struct {
	Declination  float64 // degrees
	HourAngle    float64 // degrees, 0 at solar noon
	CosZenith    float64 // in [-1, 1]
	ElevationDeg float64 // degrees above horizon, negative at night
}

// PositionAt computes solar geometry from the local civil time at the site.
// Pure and deterministic: called once per row during feature construction.
func PositionAt(t time.Time, latitude float64) Position {
	doy := float64(t.YearDay())

	decl := 23.45 * math.Sin(rad(360.0/365.0*(doy-81)))

	localHour := float64(t.Hour()) + float64(t.Minute())/60.0
	hourAngle := 15 * (localHour - 12)

	latRad := rad(latitude)
	declRad := rad(decl)
	cosZ := math.Sin(latRad)*math.Sin(declRad) +
		math.Cos(latRad)*math.Cos(declRad)*math.Cos(rad(hourAngle))
	cosZ = clamp(cosZ, -1, 1)

	return Position{
		Declination:  decl,
		HourAngle:    hourAngle,
		CosZenith:    cosZ,
		ElevationDeg: deg(math.Asin(cosZ)),
	}
}

// ClearSky returns the theoretical clear-sky global horizontal irradiance in
// W/m² for the local time t at the given site. Exactly 0 whenever the sun is
// at or below the horizon; never exceeds MaxClearSky.
func ClearSky(t time.Time, latitude, longitude float64) float64 {
	pos := PositionAt(t, latitude)
	return clearSkyFromPosition(t, pos)
}

func clearSkyFromPosition(t time.Time, pos Position) float64 {
	if pos.CosZenith <= 0 {
		return 0
	}

	am := airMass(pos.CosZenith)

	// Transmittance degrades as the path length through the atmosphere grows.
	trans := clamp(0.75-0.015*am, minTransmission, maxTransmission)

	doy := float64(t.YearDay())
	eccentricity := 1 + 0.033*math.Cos(rad(360.0/365.0*doy))

	irr := SolarConstant * eccentricity * pos.CosZenith * math.Pow(trans, am)
	return clamp(irr, 0, MaxClearSky)
}

// airMass uses the Kasten-Young relative optical air mass, which stays finite
// at low solar elevations, capped at maxAirMass.
func airMass(cosZ float64) float64 {
	zenithDeg := deg(math.Acos(cosZ))
	am := 1 / (cosZ + 0.50572*math.Pow(96.07995-zenithDeg, -1.6364))
	if am > maxAirMass || am < 0 {
		return maxAirMass
	}
	return am
}

// ClearSkyIndex is measured/modelled irradiance clipped to [0, 1.5], and 0
// when the modelled denominator is too small to be meaningful.
func ClearSkyIndex(measured, clearSky float64) float64 {
	if clearSky <= indexFloor {
		return 0
	}
	return clamp(measured/clearSky, 0, maxIndex)
}

func rad(degrees float64) float64 { return degrees * math.Pi / 180 }
func deg(radians float64) float64 { return radians * 180 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
