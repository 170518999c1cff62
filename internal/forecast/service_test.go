package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/paolodgm/solarcast/internal/features"
	"github.com/paolodgm/solarcast/internal/model"
	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/solar"
)

var serviceSite = models.Site{
	Name:      "davao",
	Latitude:  7.0707,
	Longitude: 125.6087,
	Timezone:  "Asia/Manila",
}

// bellObservations produces hourly synthetic observations ending at endHour
// on the final day.
func bellObservations(days, endHour int) []models.Observation {
	loc := time.FixedZone("PST", 8*3600)
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, loc)
	var out []models.Observation
	total := (days-1)*24 + endHour + 1
	for i := 0; i < total; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		h := ts.Hour()
		var irr float64
		if h >= 6 && h <= 18 {
			x := (float64(h) - 12) / 3
			irr = 800 * math.Exp(-2*x*x)
		}
		out = append(out, models.Observation{
			ObservedAt: ts,
			Irradiance: nf(irr),
			Temp:       nf(28 + 4*math.Sin(float64(i)/24)),
			Humidity:   nf(70),
			Pressure:   nf(1010),
			Dewpoint:   nf(23),
			WindSpeed:  nf(4),
			UV:         nf(ExpectedUV(h)),
		})
	}
	return out
}

func newTestService(t *testing.T, obs []models.Observation) *Service {
	t.Helper()
	cfg := features.DefaultConfig(serviceSite)
	frame, err := features.Build(obs, cfg)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	scaler := features.FitScaler(frame)

	regressors := make(map[models.Horizon]*model.HorizonModels)
	calibrations := make(map[models.Horizon]models.HorizonCalibration)
	for _, h := range models.Horizons {
		// A constant model is enough to exercise the adjustment path.
		regressors[h] = &model.HorizonModels{
			Horizon: h,
			Median:  &model.GBT{InitValue: 450},
		}
		calibrations[h] = models.HorizonCalibration{
			Horizon:     h,
			LowerOffset: -30,
			UpperOffset: 40,
		}
	}

	svc, err := NewService(cfg, scaler, regressors, calibrations, DefaultAdjusterConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestServicePredictDaytime(t *testing.T) {
	obs := bellObservations(15, 9) // last observation 09:00
	svc := newTestService(t, obs)

	issued := time.Now()
	preds, err := svc.Predict(obs, issued)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(preds) != len(models.Horizons) {
		t.Fatalf("got %d predictions, want %d", len(preds), len(models.Horizons))
	}

	last := obs[len(obs)-1].ObservedAt
	for i, p := range preds {
		if p.Horizon != models.Horizons[i] {
			t.Errorf("prediction %d horizon %d, want %d", i, p.Horizon, models.Horizons[i])
		}
		if want := last.Add(time.Duration(p.Horizon) * time.Hour); !p.TargetTime.Equal(want) {
			t.Errorf("horizon %d target %s, want %s", p.Horizon, p.TargetTime, want)
		}
		if p.Lower < 0 || p.Upper < p.Lower {
			t.Errorf("horizon %d invalid interval (%.1f, %.1f)", p.Horizon, p.Lower, p.Upper)
		}
		if p.Upper-p.Lower > DefaultAdjusterConfig().MaxIntervalWidth+1e-9 {
			t.Errorf("horizon %d width %.1f exceeds cap", p.Horizon, p.Upper-p.Lower)
		}
		// 10:00-13:00 in February are all full day.
		if p.DayState != solar.Day.String() {
			t.Errorf("horizon %d state %s, want day", p.Horizon, p.DayState)
		}
	}
}

func TestServicePredictAcrossDusk(t *testing.T) {
	obs := bellObservations(15, 16) // targets land on 17:00-20:00, Feb dusk is 18
	svc := newTestService(t, obs)

	preds, err := svc.Predict(obs, time.Now())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	states := map[models.Horizon]string{}
	for _, p := range preds {
		states[p.Horizon] = p.DayState
		if p.DayState == solar.Night.String() && (p.Point != 0 || p.Lower != 0 || p.Upper != 0) {
			t.Errorf("horizon %d: night prediction not zero: %+v", p.Horizon, p)
		}
	}
	if states[1] != solar.Day.String() {
		t.Errorf("17:00 state %s, want day", states[1])
	}
	if states[2] != solar.Transition.String() {
		t.Errorf("18:00 state %s, want transition", states[2])
	}
	if states[3] != solar.Night.String() || states[4] != solar.Night.String() {
		t.Errorf("19:00/20:00 states %s/%s, want night", states[3], states[4])
	}
}

func TestServicePredictWithRisk(t *testing.T) {
	obs := bellObservations(15, 10)
	// Engineer falling pressure with rising humidity at the tail.
	n := len(obs)
	obs[n-2].Pressure = nf(1010.3)
	obs[n-2].Humidity = nf(62)
	obs[n-1].Pressure = nf(1010.1)
	obs[n-1].Humidity = nf(70)

	svc := newTestService(t, obs)
	base, err := svc.Predict(obs, time.Now())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	svc.EnableRisk(DefaultRiskRules())
	damped, err := svc.Predict(obs, time.Now())
	if err != nil {
		t.Fatalf("Predict with risk: %v", err)
	}
	for i := range base {
		if damped[i].DayState != solar.Day.String() {
			continue
		}
		if damped[i].Point >= base[i].Point {
			t.Errorf("horizon %d: risk damping did not reduce point (%.1f vs %.1f)",
				base[i].Horizon, damped[i].Point, base[i].Point)
		}
	}
}

func TestServicePredictMorningRampShaping(t *testing.T) {
	obs := bellObservations(15, 5) // targets land on 06:00-09:00
	obs[len(obs)-1].Humidity = nf(60)
	svc := newTestService(t, obs)

	base, err := svc.Predict(obs, time.Now())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	// Without the heuristics the constant model reports 450 all morning.
	if base[2].Point != 450 {
		t.Fatalf("base 08:00 point %.1f, want 450", base[2].Point)
	}

	svc.EnableRisk(DefaultRiskRules())
	shaped, err := svc.Predict(obs, time.Now())
	if err != nil {
		t.Fatalf("Predict with shaping: %v", err)
	}

	// Calm conditions: no damping, so the ramp multipliers act alone.
	wants := map[models.Horizon]float64{
		2: 450 * 0.3, // 07:00
		3: 450 * 0.5, // 08:00
		4: 450 * 0.7, // 09:00
	}
	for _, p := range shaped {
		want, ok := wants[p.Horizon]
		if !ok {
			continue
		}
		if math.Abs(p.Point-want) > 1e-9 {
			t.Errorf("horizon %d point %.2f, want %.2f", p.Horizon, p.Point, want)
		}
		if p.Lower > p.Point || p.Upper < p.Point {
			t.Errorf("horizon %d bounds not around shaped point: %+v", p.Horizon, p)
		}
	}
	if shaped[1].Point >= shaped[2].Point || shaped[2].Point >= shaped[3].Point {
		t.Errorf("morning points not ramping up: %.1f %.1f %.1f",
			shaped[1].Point, shaped[2].Point, shaped[3].Point)
	}
}

func TestServicePredictAfternoonDeclineShaping(t *testing.T) {
	obs := bellObservations(15, 14) // targets land on 15:00-18:00
	obs[len(obs)-1].Humidity = nf(60)
	svc := newTestService(t, obs)
	svc.EnableRisk(DefaultRiskRules())

	preds, err := svc.Predict(obs, time.Now())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	// 15:00 runs into the ceiling of the 14:00 measurement, and each later
	// hour into 90% of the hour before it.
	measured := obs[len(obs)-1].Irradiance.Float64
	if want := measured * 0.9; math.Abs(preds[0].Point-want) > 1e-9 {
		t.Errorf("15:00 point %.2f, want %.2f", preds[0].Point, want)
	}
	if preds[1].Point > preds[0].Point*0.9+1e-9 {
		t.Errorf("16:00 point %.2f exceeds previous-hour ceiling %.2f", preds[1].Point, preds[0].Point*0.9)
	}
	if preds[2].Point > 100+1e-9 {
		t.Errorf("17:00 point %.2f exceeds late-afternoon cap", preds[2].Point)
	}
	for i := 1; i < len(preds); i++ {
		if preds[i].Point >= preds[i-1].Point {
			t.Errorf("afternoon points not declining at horizon %d: %.1f then %.1f",
				preds[i].Horizon, preds[i-1].Point, preds[i].Point)
		}
	}
	for _, p := range preds {
		if p.Lower > p.Point || p.Upper < p.Point {
			t.Errorf("horizon %d bounds not around shaped point: %+v", p.Horizon, p)
		}
	}
}

func TestNewServiceValidation(t *testing.T) {
	cfg := features.DefaultConfig(serviceSite)
	if _, err := NewService(cfg, nil, nil, nil, DefaultAdjusterConfig()); err == nil {
		t.Error("expected error for nil scaler")
	}

	scaler := &features.Scaler{Columns: []string{"a"}, Mean: []float64{0}, Std: []float64{1}}
	if _, err := NewService(cfg, scaler, map[models.Horizon]*model.HorizonModels{}, nil, DefaultAdjusterConfig()); err == nil {
		t.Error("expected error for missing horizon models")
	}
}
