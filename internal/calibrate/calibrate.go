// Package calibrate fits per-horizon prediction-interval offsets on held-out
// validation data: a bounded local search over a (lower, upper) offset pair
// that chases the target coverage while keeping the mean interval width under
// a hard cap, with peak-solar hours weighted specially.
package calibrate

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/paolodgm/solarcast/internal/solar"
)

// Config bounds the offset search.
type Config struct {
	TargetCoverage float64 // fraction of validation targets the interval must cover
	MaxWidth       float64 // hard cap on mean interval width, W/m²
	MaxIterations  int
	ExpandSteps    int     // grid resolution per side in the expand phase
	ExpandMax      float64 // largest single-iteration offset increment, W/m²
	ConvergeTol    float64 // width stability tolerance, W/m²
	ConvergeRuns   int     // consecutive stable iterations before early exit

	// Pointwise peak clamp: split of the capped width between the two sides
	// of the midpoint, selected by point-prediction magnitude.
	MagnitudeThreshold float64
	HighUpperShare     float64 // upper-side share when pred > threshold
	LowUpperShare      float64 // upper-side share otherwise
}

func DefaultConfig() Config {
	return Config{
		TargetCoverage:     0.90,
		MaxWidth:           100,
		MaxIterations:      15,
		ExpandSteps:        10,
		ExpandMax:          5,
		ConvergeTol:        0.5,
		ConvergeRuns:       3,
		MagnitudeThreshold: 300,
		HighUpperShare:     0.6,
		LowUpperShare:      0.4,
	}
}

// Result is the calibration state for one horizon plus the diagnostics
// achieved on the validation set it was fitted on.
type Result struct {
	LowerOffset float64
	UpperOffset float64

	Coverage  float64
	MeanWidth float64
	MaxWidth  float64

	HasPeak      bool
	PeakCoverage float64
	PeakWidth    float64

	Iterations       int
	FellBack         bool // search never beat the naive percentile interval
	PointwiseApplied bool // final peak clamp ran
}

// metrics of one candidate offset pair; skip carries the reason a candidate
// could not be evaluated (the loop logs it and moves on, per the engine's
// catch-and-continue contract).
type candidate struct {
	lower, upper float64
	cov          float64
	meanWidth    float64
	maxWidth     float64
	hasPeak      bool
	peakCov      float64
	peakWidth    float64
}

type skip struct {
	reason string
}

// Calibrate searches for the offset pair for one horizon. pred and actual
// are the validation point predictions and observed targets; times may be
// nil, which disables the peak-solar logic.
func Calibrate(pred, actual []float64, times []time.Time, cfg Config) (Result, error) {
	n := len(pred)
	if n == 0 || len(actual) != n {
		return Result{}, fmt.Errorf("calibrate: %d predictions, %d actuals", n, len(actual))
	}
	if times != nil && len(times) != n {
		return Result{}, fmt.Errorf("calibrate: %d predictions, %d timestamps", n, len(times))
	}
	if cfg.TargetCoverage <= 0 || cfg.TargetCoverage >= 1 {
		return Result{}, fmt.Errorf("calibrate: target coverage %v outside (0, 1)", cfg.TargetCoverage)
	}

	residuals := make([]float64, n)
	for i := range residuals {
		residuals[i] = actual[i] - pred[i]
	}
	sorted := append([]float64(nil), residuals...)
	sort.Float64s(sorted)

	alpha := 1 - cfg.TargetCoverage
	initLower := stat.Quantile(alpha/2, stat.Empirical, sorted, nil)
	initUpper := stat.Quantile(1-alpha/2, stat.Empirical, sorted, nil)

	lower, upper := initLower, initUpper
	var best *candidate
	stableRuns := 0
	iterations := 0

search:
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		iterations = iter + 1
		cur, sk := evaluate(pred, actual, times, lower, upper)
		if sk != nil {
			log.Printf("calibrate: iteration %d: %s, skipping", iter, sk.reason)
			continue
		}

		best = takeBest(best, &cur, cfg)

		switch {
		case cur.meanWidth > cfg.MaxWidth:
			lower, upper = shrink(cur, residuals, times, lower, upper, cfg)
		case cur.cov < cfg.TargetCoverage:
			next, ok := expand(pred, actual, times, cur, cfg)
			if !ok {
				// No widening inside the cap helps coverage.
				break search
			}
			best = takeBest(best, &next, cfg)
			lower, upper = next.lower, next.upper
		default:
			// Both constraints satisfied.
			break search
		}

		if math.Abs(cur.meanWidth-cfg.MaxWidth) <= cfg.ConvergeTol {
			stableRuns++
			if stableRuns >= cfg.ConvergeRuns {
				break
			}
		} else {
			stableRuns = 0
		}
	}

	res := Result{Iterations: iterations}
	if best == nil {
		// Total failure: fall back to the naive percentile interval. Not an
		// error by contract, but worth a trace.
		log.Printf("calibrate: search produced no feasible candidate, falling back to percentile offsets (%.1f, %.1f)", initLower, initUpper)
		res.FellBack = true
		fb, sk := evaluate(pred, actual, times, initLower, initUpper)
		if sk != nil {
			return Result{}, fmt.Errorf("calibrate: fallback evaluation failed: %s", sk.reason)
		}
		best = &fb
	}

	fillResult(&res, best)

	// Final pointwise pass: if the aggregate peak width still busts the cap,
	// clamp each peak interval around its midpoint and back the clamped
	// bounds out into scalar offsets. Reported, never iterated on.
	if best.hasPeak && best.peakWidth > cfg.MaxWidth {
		lo, up := pointwisePeakOffsets(pred, times, best.lower, best.upper, cfg)
		clamped, sk := evaluate(pred, actual, times, lo, up)
		if sk == nil {
			res.PointwiseApplied = true
			fillResult(&res, &clamped)
		} else {
			log.Printf("calibrate: pointwise peak pass: %s, keeping iterative result", sk.reason)
		}
	}
	return res, nil
}

func fillResult(res *Result, c *candidate) {
	res.LowerOffset = c.lower
	res.UpperOffset = c.upper
	res.Coverage = c.cov
	res.MeanWidth = c.meanWidth
	res.MaxWidth = c.maxWidth
	res.HasPeak = c.hasPeak
	res.PeakCoverage = c.peakCov
	res.PeakWidth = c.peakWidth
}

// takeBest keeps the highest-coverage candidate whose mean width respects
// the cap; infeasible candidates never displace a feasible one.
func takeBest(best, cur *candidate, cfg Config) *candidate {
	if cur.meanWidth > cfg.MaxWidth {
		if best == nil {
			return nil
		}
		return best
	}
	if best == nil || cur.cov > best.cov {
		c := *cur
		return &c
	}
	return best
}

// Bounds applies an offset pair to one point prediction with the enforced
// ordering: lower floored at zero, upper never below lower.
func Bounds(pred, lowerOffset, upperOffset float64) (float64, float64) {
	lo := pred + lowerOffset
	if lo < 0 {
		lo = 0
	}
	up := pred + upperOffset
	if up < lo {
		up = lo
	}
	return lo, up
}

func evaluate(pred, actual []float64, times []time.Time, lower, upper float64) (candidate, *skip) {
	if len(pred) == 0 {
		return candidate{}, &skip{reason: "empty evaluation slice"}
	}
	if math.IsNaN(lower) || math.IsNaN(upper) {
		return candidate{}, &skip{reason: "non-finite offsets"}
	}

	c := candidate{lower: lower, upper: upper}
	covered := 0
	var widthSum float64
	peakCovered, peakCount := 0, 0
	var peakWidthSum float64

	for i := range pred {
		lo, up := Bounds(pred[i], lower, upper)
		w := up - lo
		widthSum += w
		if w > c.maxWidth {
			c.maxWidth = w
		}
		in := actual[i] >= lo && actual[i] <= up
		if in {
			covered++
		}
		if times != nil && solar.IsPeak(times[i]) {
			peakCount++
			peakWidthSum += w
			if in {
				peakCovered++
			}
		}
	}

	n := float64(len(pred))
	c.cov = float64(covered) / n
	c.meanWidth = widthSum / n
	if peakCount > 0 {
		c.hasPeak = true
		c.peakCov = float64(peakCovered) / float64(peakCount)
		c.peakWidth = peakWidthSum / float64(peakCount)
	}
	return c, nil
}

// shrink scales the offset span down by the width overshoot ratio. When the
// peak window specifically is too wide, the side with the statistically less
// informative residual tail absorbs more of the cut.
func shrink(cur candidate, residuals []float64, times []time.Time, lower, upper float64, cfg Config) (float64, float64) {
	span := upper - lower
	if span <= 0 || cur.meanWidth <= 0 {
		return lower, upper
	}
	scale := cfg.MaxWidth / cur.meanWidth
	cut := span * (1 - scale)

	lowerShare := 0.5
	if cur.hasPeak && cur.peakWidth > cfg.MaxWidth {
		if sk, ok := peakSkew(residuals, times); ok {
			switch {
			case sk > 0.1:
				// Long right tail: the upper side carries the signal,
				// shrink the lower side harder.
				lowerShare = 0.65
			case sk < -0.1:
				lowerShare = 0.35
			}
		}
	}

	return lower + cut*lowerShare, upper - cut*(1-lowerShare)
}

func peakSkew(residuals []float64, times []time.Time) (float64, bool) {
	if times == nil {
		return 0, false
	}
	var peak []float64
	for i, t := range times {
		if solar.IsPeak(t) {
			peak = append(peak, residuals[i])
		}
	}
	if len(peak) < 3 {
		return 0, false
	}
	sk := stat.Skew(peak, nil)
	if math.IsNaN(sk) {
		return 0, false
	}
	return sk, true
}

// expand grid-searches small widening increments on both sides, greedily
// keeping the single candidate with the best coverage that still respects
// the mean-width cap (and the peak cap, when peak data exists).
func expand(pred, actual []float64, times []time.Time, cur candidate, cfg Config) (candidate, bool) {
	best := cur
	improved := false
	step := cfg.ExpandMax / float64(cfg.ExpandSteps)

	for li := 0; li <= cfg.ExpandSteps; li++ {
		for ui := 0; ui <= cfg.ExpandSteps; ui++ {
			if li == 0 && ui == 0 {
				continue
			}
			cand, sk := evaluate(pred, actual, times,
				cur.lower-float64(li)*step,
				cur.upper+float64(ui)*step)
			if sk != nil {
				log.Printf("calibrate: expand candidate (%d,%d): %s, skipping", li, ui, sk.reason)
				continue
			}
			if cand.meanWidth > cfg.MaxWidth {
				continue
			}
			if cand.hasPeak && cand.peakWidth > cfg.MaxWidth {
				continue
			}
			if cand.cov > best.cov {
				best = cand
				improved = true
			}
		}
	}
	return best, improved
}

// pointwisePeakOffsets clamps every peak-time interval wider than the cap
// around its own midpoint, splitting the capped width by prediction
// magnitude, then averages the per-sample bound offsets back into scalars.
func pointwisePeakOffsets(pred []float64, times []time.Time, lower, upper float64, cfg Config) (float64, float64) {
	var loSum, upSum float64
	count := 0
	for i, t := range times {
		if !solar.IsPeak(t) {
			continue
		}
		lo, up := Bounds(pred[i], lower, upper)
		if up-lo > cfg.MaxWidth {
			mid := (lo + up) / 2
			upperShare := cfg.LowUpperShare
			if pred[i] > cfg.MagnitudeThreshold {
				upperShare = cfg.HighUpperShare
			}
			lo = mid - (1-upperShare)*cfg.MaxWidth
			if lo < 0 {
				lo = 0
			}
			up = mid + upperShare*cfg.MaxWidth
		}
		loSum += lo - pred[i]
		upSum += up - pred[i]
		count++
	}
	if count == 0 {
		return lower, upper
	}
	return loSum / float64(count), upSum / float64(count)
}
