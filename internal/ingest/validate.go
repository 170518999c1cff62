package ingest

import (
	"github.com/paolodgm/solarcast/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagDewpointAboveTemp  = "dewpoint_above_temp"
	FlagWindSpeedUnlikely  = "wind_speed_unlikely"
	FlagUVNegative         = "uv_negative"
	FlagIrradianceInvalid  = "irradiance_invalid"
)

// QC status stored on each observation row.
const (
	QCUnknown = 0
	QCPassed  = 1
	QCFlagged = 2
)

// ValidateObservation returns the quality flags raised by an observation.
// Bounds are sized for a tropical lowland site; irradiance above 1500 W/m²
// exceeds any plausible cloud-lensing burst and marks a sensor fault.
func ValidateObservation(obs *models.Observation) []string {
	var flags []string

	if obs.Temp.Valid {
		if obs.Temp.Float64 < 10 || obs.Temp.Float64 > 45 {
			flags = append(flags, FlagTempOutOfRange)
		}
	}

	if obs.Humidity.Valid {
		if obs.Humidity.Float64 < 0 || obs.Humidity.Float64 > 100 {
			flags = append(flags, FlagHumidityInvalid)
		}
	}

	if obs.Pressure.Valid {
		if obs.Pressure.Float64 < 900 || obs.Pressure.Float64 > 1100 {
			flags = append(flags, FlagPressureOutOfRange)
		}
	}

	if obs.Dewpoint.Valid && obs.Temp.Valid {
		if obs.Dewpoint.Float64 > obs.Temp.Float64+0.5 {
			flags = append(flags, FlagDewpointAboveTemp)
		}
	}

	if obs.WindSpeed.Valid {
		if obs.WindSpeed.Float64 < 0 || obs.WindSpeed.Float64 > 200 {
			flags = append(flags, FlagWindSpeedUnlikely)
		}
	}

	if obs.UV.Valid && obs.UV.Float64 < 0 {
		flags = append(flags, FlagUVNegative)
	}

	if obs.Irradiance.Valid {
		if obs.Irradiance.Float64 < 0 || obs.Irradiance.Float64 > 1500 {
			flags = append(flags, FlagIrradianceInvalid)
		}
	}

	return flags
}

// QCStatus maps a flag list to the stored status code.
func QCStatus(flags []string) int {
	if len(flags) == 0 {
		return QCPassed
	}
	return QCFlagged
}
