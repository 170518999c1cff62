package forecast

import (
	"database/sql"
	"testing"
	"time"

	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/solar"
)

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func obsAt(hour int, pressure, humidity, temp, dewpoint, wind, uv float64) models.Observation {
	return models.Observation{
		ObservedAt: time.Date(2024, 5, 10, hour, 0, 0, 0, time.UTC),
		Pressure:   nf(pressure),
		Humidity:   nf(humidity),
		Temp:       nf(temp),
		Dewpoint:   nf(dewpoint),
		WindSpeed:  nf(wind),
		UV:         nf(uv),
	}
}

func TestAssessRiskCalm(t *testing.T) {
	obs := []models.Observation{
		obsAt(9, 1010.0, 55, 31, 22, 5, 6),
		obsAt(10, 1010.1, 54, 32, 22, 5, 8),
		obsAt(11, 1010.2, 53, 33, 22, 5, 9),
	}
	a := AssessRisk(obs, DefaultRiskRules())
	if a.Score != 0 || a.Critical || a.HighRisk {
		t.Errorf("calm conditions scored %+v", a)
	}
	if a.Damping(DefaultRiskRules()) != 1 {
		t.Errorf("calm damping %v, want 1", a.Damping(DefaultRiskRules()))
	}
}

func TestAssessRiskCriticalCombination(t *testing.T) {
	// Falling pressure with rising humidity floors the score.
	obs := []models.Observation{
		obsAt(10, 1010.5, 60, 32, 24, 5, 8),
		obsAt(11, 1010.3, 62, 31, 24, 5, 9),
		obsAt(12, 1010.15, 68, 30, 25, 6, 10),
	}
	rules := DefaultRiskRules()
	a := AssessRisk(obs, rules)
	if !a.Critical {
		t.Fatalf("pressure drop + rising humidity not flagged critical: %+v", a)
	}
	if a.Score < rules.CriticalFloor {
		t.Errorf("critical score %d below floor %d", a.Score, rules.CriticalFloor)
	}
	if got := a.Damping(rules); got != rules.CriticalDamping {
		t.Errorf("critical damping %v, want %v", got, rules.CriticalDamping)
	}
}

func TestAssessRiskMissingCovariates(t *testing.T) {
	// Only irradiance present: nothing to score, nothing to panic about.
	obs := []models.Observation{
		{ObservedAt: time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC), Irradiance: nf(400)},
		{ObservedAt: time.Date(2024, 5, 10, 11, 0, 0, 0, time.UTC), Irradiance: nf(500)},
	}
	a := AssessRisk(obs, DefaultRiskRules())
	if a.Score != 0 || a.Critical {
		t.Errorf("covariate-free observations scored %+v", a)
	}
	if a = AssessRisk(nil, DefaultRiskRules()); a.Score != 0 {
		t.Errorf("empty input scored %+v", a)
	}
}

func TestDampingBands(t *testing.T) {
	rules := DefaultRiskRules()
	cases := []struct {
		score int
		want  float64
	}{
		{0, 1}, {19, 1}, {20, 0.7}, {45, 0.5}, {65, 0.3}, {85, 0.2},
	}
	for _, tc := range cases {
		a := Assessment{Score: tc.score}
		if got := a.Damping(rules); got != tc.want {
			t.Errorf("score %d: damping %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestExpectedUV(t *testing.T) {
	if got := ExpectedUV(12); got != 10 {
		t.Errorf("noon UV %v, want 10", got)
	}
	if got := ExpectedUV(3); got != 0 {
		t.Errorf("night UV %v, want 0", got)
	}
}

func TestApplyRisk(t *testing.T) {
	rules := DefaultRiskRules()
	iv := Interval{Point: 400, Lower: 370, Upper: 440, DayState: solar.Day}

	damped := ApplyRisk(iv, Assessment{Score: 60}, 12, rules)
	if damped.Point != 400*0.3 {
		t.Errorf("damped point %.1f, want %.1f", damped.Point, 400*0.3)
	}
	if damped.Lower > damped.Point || damped.Upper < damped.Point {
		t.Errorf("bounds not re-clamped around damped point: %+v", damped)
	}

	// Outside daylight hours the heuristics do not apply.
	if got := ApplyRisk(iv, Assessment{Score: 90}, 3, rules); got != iv {
		t.Errorf("night hour modified interval: %+v", got)
	}
}

func TestShapeInterval(t *testing.T) {
	iv := Interval{Point: 500, Lower: 470, Upper: 540, DayState: solar.Day}

	shaped := ShapeInterval(iv, 16, 0)
	if want := 500 * 0.8 * 0.8; shaped.Point != want {
		t.Errorf("16:00 shaped point %.1f, want %.1f", shaped.Point, want)
	}
	if shaped.Lower > shaped.Point || shaped.Upper < shaped.Point {
		t.Errorf("bounds not re-clamped around shaped point: %+v", shaped)
	}

	// Night intervals stay exactly zero.
	night := Interval{DayState: solar.Night}
	if got := ShapeInterval(night, 7, 0); got != night {
		t.Errorf("night interval modified: %+v", got)
	}
}

func TestShapePointMorningRamp(t *testing.T) {
	cases := []struct {
		hour  int
		point float64
		min   float64
		max   float64
	}{
		{6, 500, 10, 30},
		{7, 500, 50, 150},
		{8, 700, 100, 300},
		{9, 800, 200, 500},
	}
	for _, tc := range cases {
		got := ShapePoint(tc.point, tc.hour, 0)
		if got < tc.min || got > tc.max {
			t.Errorf("hour %d: shaped %.1f outside [%g, %g]", tc.hour, got, tc.min, tc.max)
		}
	}
}

func TestShapePointAfternoonDecline(t *testing.T) {
	// 16:00 is two hours past peak: 0.8^2 of the raw point.
	if got, want := ShapePoint(500, 16, 0), 500*0.8*0.8; got != want {
		t.Errorf("16:00 decline %.1f, want %.1f", got, want)
	}
	// Never above 90% of the previous hour's measurement.
	if got := ShapePoint(600, 15, 400); got > 400*0.9 {
		t.Errorf("15:00 point %.1f exceeds previous-hour ceiling %.1f", got, 400*0.9)
	}
	// Late afternoon hard cap.
	if got := ShapePoint(900, 17, 1000); got > 100 {
		t.Errorf("17:00 point %.1f exceeds late-afternoon cap", got)
	}
	// Midday passes through untouched.
	if got := ShapePoint(650, 12, 0); got != 650 {
		t.Errorf("noon point changed: %.1f", got)
	}
}
