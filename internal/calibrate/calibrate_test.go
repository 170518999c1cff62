package calibrate

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

// gaussianSeries builds a validation set whose residuals are N(0, sigma²)
// around a point prediction high enough that the zero floor never bites.
func gaussianSeries(n int, sigma float64, seed int64) (pred, actual []float64) {
	rng := rand.New(rand.NewSource(seed))
	pred = make([]float64, n)
	actual = make([]float64, n)
	for i := range pred {
		pred[i] = 400 + rng.Float64()*200
		actual[i] = pred[i] + rng.NormFloat64()*sigma
	}
	return pred, actual
}

func hourlyTimes(n, hour int) []time.Time {
	base := time.Date(2024, 3, 1, hour, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.AddDate(0, 0, i)
	}
	return out
}

func TestCalibrateRecoversGaussianQuantiles(t *testing.T) {
	pred, actual := gaussianSeries(3000, 20, 1)
	res, err := Calibrate(pred, actual, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	// For N(0, 20²) the 5th/95th percentiles sit near ±32.9; the search may
	// widen slightly inside the cap but should stay in the neighbourhood.
	if res.LowerOffset > -25 || res.LowerOffset < -45 {
		t.Errorf("lower offset %.1f, want near -32.9", res.LowerOffset)
	}
	if res.UpperOffset < 25 || res.UpperOffset > 45 {
		t.Errorf("upper offset %.1f, want near +32.9", res.UpperOffset)
	}
	if res.Coverage < 0.87 {
		t.Errorf("coverage %.3f, want >= 0.87", res.Coverage)
	}
	if res.MeanWidth > 100 {
		t.Errorf("mean width %.1f exceeds cap", res.MeanWidth)
	}
	if res.FellBack {
		t.Error("well-behaved residuals should not trigger fallback")
	}
}

func TestCalibrateShrinksWideResiduals(t *testing.T) {
	// sigma 100 puts the naive 90% interval around ±165: the shrink phase
	// must pull the mean width back under the cap.
	pred, actual := gaussianSeries(2000, 100, 2)
	res, err := Calibrate(pred, actual, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if res.MeanWidth > 100+0.5 {
		t.Errorf("mean width %.1f, want capped near 100", res.MeanWidth)
	}
	// ±50 W/m² on sigma-100 residuals covers roughly 38%: the cap binds and
	// coverage necessarily drops below target, but the interval must still
	// be doing real work.
	if res.Coverage < 0.3 {
		t.Errorf("coverage %.3f collapsed under the cap", res.Coverage)
	}
	if res.Iterations > DefaultConfig().MaxIterations {
		t.Errorf("ran %d iterations, max is %d", res.Iterations, DefaultConfig().MaxIterations)
	}
}

func TestCalibrateOrderingInvariant(t *testing.T) {
	pred, actual := gaussianSeries(500, 30, 3)
	res, err := Calibrate(pred, actual, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	for _, p := range []float64{0, 5, 150, 450, 900} {
		lo, up := Bounds(p, res.LowerOffset, res.UpperOffset)
		if lo < 0 {
			t.Errorf("pred %.0f: lower bound %.1f below zero", p, lo)
		}
		if up < lo {
			t.Errorf("pred %.0f: bounds out of order (%.1f, %.1f)", p, lo, up)
		}
	}
}

func TestCalibratePeakMetricsReported(t *testing.T) {
	pred, actual := gaussianSeries(1200, 20, 4)
	times := hourlyTimes(len(pred), 12) // every sample inside the peak window
	res, err := Calibrate(pred, actual, times, DefaultConfig())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if !res.HasPeak {
		t.Fatal("all-peak series reported no peak metrics")
	}
	if math.Abs(res.PeakCoverage-res.Coverage) > 1e-9 {
		t.Errorf("all-peak series: peak coverage %.3f != overall %.3f", res.PeakCoverage, res.Coverage)
	}
	if res.PeakWidth > 100+0.5 {
		t.Errorf("peak width %.1f exceeds cap", res.PeakWidth)
	}
}

func TestCalibrateOffPeakIgnoresPeakLogic(t *testing.T) {
	pred, actual := gaussianSeries(800, 20, 5)
	times := hourlyTimes(len(pred), 8) // outside 11:00-13:00
	res, err := Calibrate(pred, actual, times, DefaultConfig())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if res.HasPeak {
		t.Error("morning-only series reported peak metrics")
	}
}

func TestCalibrateErrors(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := Calibrate(nil, nil, nil, cfg); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Calibrate([]float64{1}, []float64{1, 2}, nil, cfg); err == nil {
		t.Error("expected error for length mismatch")
	}
	if _, err := Calibrate([]float64{1, 2}, []float64{1, 2}, []time.Time{{}}, cfg); err == nil {
		t.Error("expected error for timestamp length mismatch")
	}
	bad := cfg
	bad.TargetCoverage = 1.2
	if _, err := Calibrate([]float64{1, 2}, []float64{1, 2}, nil, bad); err == nil {
		t.Error("expected error for coverage outside (0,1)")
	}
}

func TestBounds(t *testing.T) {
	cases := []struct {
		pred, lo, up     float64
		wantLo, wantUp   float64
	}{
		{500, -30, 40, 470, 540},
		{10, -30, 40, 0, 50},     // lower floored at zero
		{5, -30, -20, 0, 0},      // upper pulled up to the floored lower
		{100, 20, -10, 120, 120}, // inverted offsets still ordered
	}
	for _, c := range cases {
		lo, up := Bounds(c.pred, c.lo, c.up)
		if lo != c.wantLo || up != c.wantUp {
			t.Errorf("Bounds(%v, %v, %v) = (%v, %v), want (%v, %v)",
				c.pred, c.lo, c.up, lo, up, c.wantLo, c.wantUp)
		}
	}
}

func TestPointwisePeakOffsetsClampsWideIntervals(t *testing.T) {
	cfg := DefaultConfig()
	times := hourlyTimes(4, 12)
	pred := []float64{500, 500, 200, 200}

	// Offsets spanning 160 W/m²: every peak interval is over the cap.
	lo, up := pointwisePeakOffsets(pred, times, -80, 80, cfg)
	if span := up - lo; span > cfg.MaxWidth+1e-9 {
		t.Errorf("backed-out offsets span %.1f, want <= cap %.0f", span, cfg.MaxWidth)
	}

	// High-magnitude predictions give the upper side the larger share.
	loHigh, upHigh := pointwisePeakOffsets(pred[:2], times[:2], -80, 80, cfg)
	if upHigh <= -loHigh {
		t.Errorf("pred > threshold: expected upper share dominance, got (%.1f, %.1f)", loHigh, upHigh)
	}
	loLow, upLow := pointwisePeakOffsets(pred[2:], times[2:], -80, 80, cfg)
	if -loLow <= upLow {
		t.Errorf("pred <= threshold: expected lower share dominance, got (%.1f, %.1f)", loLow, upLow)
	}
}
