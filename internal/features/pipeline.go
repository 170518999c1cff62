package features

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/solar"
)

// Config parameterises feature construction for one site.
type Config struct {
	Site     models.Site
	LagHours int
	Horizons []models.Horizon
}

func DefaultConfig(site models.Site) Config {
	return Config{Site: site, LagHours: 3, Horizons: models.Horizons}
}

const (
	rollMeanWindow = 6  // hours
	rollMaxWindow  = 24 // hours
	rollStdWindow  = 3  // hours

	// Percent change is meaningless against a near-zero base.
	pctChangeFloor = 10

	diurnalWindow     = 5
	diurnalMinSamples = 5
)

// Build derives the feature frame from chronologically sorted observations.
// Rows whose lags, rolling windows or horizon targets would reach past the
// series boundaries are dropped; NaN/Inf surfacing anywhere else is a data
// quality problem that is logged and repaired with the column median before
// anything reaches a model.
func Build(obs []models.Observation, cfg Config) (*Frame, error) {
	n := len(obs)
	if n == 0 {
		return nil, fmt.Errorf("no observations")
	}
	if cfg.LagHours < 1 {
		return nil, fmt.Errorf("lag hours must be >= 1, got %d", cfg.LagHours)
	}
	if len(cfg.Horizons) == 0 {
		return nil, fmt.Errorf("no horizons configured")
	}

	irr := irradianceSeries(obs)
	cols := buildColumns(obs, irr, cfg)

	// (g) multi-horizon targets.
	maxHorizon := 0
	targets := make(map[models.Horizon][]float64, len(cfg.Horizons))
	for _, h := range cfg.Horizons {
		targets[h] = shift(irr, -int(h))
		if int(h) > maxHorizon {
			maxHorizon = int(h)
		}
	}

	// Boundary rows: anything whose lags, 24h lookback or targets reach
	// outside the series.
	lo := cfg.LagHours
	if lo < rollMaxWindow {
		lo = rollMaxWindow
	}
	hi := n - maxHorizon
	if hi <= lo {
		return nil, fmt.Errorf("series too short: %d rows for lookback %d and horizon %d", n, lo, maxHorizon)
	}

	keep := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		ok := !math.IsNaN(irr[i])
		for _, h := range cfg.Horizons {
			if math.IsNaN(targets[h][i]) {
				ok = false
			}
		}
		for k := 1; k <= cfg.LagHours; k++ {
			if math.IsNaN(irr[i-k]) {
				ok = false
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("no valid rows after boundary trimming")
	}

	frame := assemble(obs, irr, cols, targets, cfg, keep)
	imputeColumnMedians(frame)
	if err := frame.CheckFinite(); err != nil {
		return nil, fmt.Errorf("feature pipeline produced non-finite values: %w", err)
	}
	return frame, nil
}

// LatestRow builds the feature row for the most recent observation, for
// inference. No targets are required, so the final row is usable as soon as
// its own lags exist; residual NaN is repaired with the column median over
// the supplied history.
func LatestRow(obs []models.Observation, cfg Config) ([]float64, []string, time.Time, error) {
	n := len(obs)
	minRows := cfg.LagHours
	if minRows < rollMaxWindow {
		minRows = rollMaxWindow
	}
	if n <= minRows {
		return nil, nil, time.Time{}, fmt.Errorf("need more than %d observations for inference, have %d", minRows, n)
	}

	irr := irradianceSeries(obs)
	i := n - 1
	if math.IsNaN(irr[i]) {
		return nil, nil, time.Time{}, fmt.Errorf("latest observation at %s has no irradiance", obs[i].ObservedAt)
	}
	for k := 1; k <= cfg.LagHours; k++ {
		if math.IsNaN(irr[i-k]) {
			return nil, nil, time.Time{}, fmt.Errorf("missing irradiance lag %d behind %s", k, obs[i].ObservedAt)
		}
	}

	cols := buildColumns(obs, irr, cfg)
	row := make([]float64, len(cols.names))
	for c, data := range cols.data {
		v := data[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			var finite []float64
			for _, x := range data {
				if !math.IsNaN(x) && !math.IsInf(x, 0) {
					finite = append(finite, x)
				}
			}
			med := median(finite)
			log.Printf("features: inference column %s not finite, imputing median %.3f", cols.names[c], med)
			v = med
		}
		row[c] = v
	}
	return row, cols.names, obs[i].ObservedAt, nil
}

func irradianceSeries(obs []models.Observation) []float64 {
	irr := make([]float64, len(obs))
	for i, o := range obs {
		if o.Irradiance.Valid {
			irr[i] = o.Irradiance.Float64
		} else {
			irr[i] = math.NaN()
		}
	}
	return irr
}

func buildColumns(obs []models.Observation, irr []float64, cfg Config) *columnSet {
	n := len(obs)
	cols := newColumnSet(n)

	// Raw covariates first; nulls become NaN and are imputed at the end.
	cols.add("temp", nullColumn(obs, func(o models.Observation) (float64, bool) { return o.Temp.Float64, o.Temp.Valid }))
	cols.add("humidity", nullColumn(obs, func(o models.Observation) (float64, bool) { return o.Humidity.Float64, o.Humidity.Valid }))
	cols.add("pressure", nullColumn(obs, func(o models.Observation) (float64, bool) { return o.Pressure.Float64, o.Pressure.Valid }))
	cols.add("dewpoint", nullColumn(obs, func(o models.Observation) (float64, bool) { return o.Dewpoint.Float64, o.Dewpoint.Valid }))
	cols.add("wind_speed", nullColumn(obs, func(o models.Observation) (float64, bool) { return o.WindSpeed.Float64, o.WindSpeed.Valid }))
	cols.add("uv", nullColumn(obs, func(o models.Observation) (float64, bool) { return o.UV.Float64, o.UV.Valid }))

	// (a) lag features.
	for k := 1; k <= cfg.LagHours; k++ {
		cols.add(fmt.Sprintf("irr_lag_%d", k), shift(irr, k))
	}

	// (b) rolling aggregates.
	cols.add("irr_roll_mean_6h", rollingMean(irr, rollMeanWindow))
	cols.add("irr_roll_max_24h", rollingMax(irr, rollMaxWindow))

	// (c) solar position.
	cosZ := make([]float64, n)
	hourAngle := make([]float64, n)
	declination := make([]float64, n)
	elevation := make([]float64, n)
	hourSin := make([]float64, n)
	hourCos := make([]float64, n)
	for i, o := range obs {
		pos := solar.PositionAt(o.ObservedAt, cfg.Site.Latitude)
		cosZ[i] = pos.CosZenith
		hourAngle[i] = pos.HourAngle
		declination[i] = pos.Declination
		elevation[i] = pos.ElevationDeg
		h := float64(o.ObservedAt.Hour())
		hourSin[i] = math.Sin(2 * math.Pi * h / 24)
		hourCos[i] = math.Cos(2 * math.Pi * h / 24)
	}
	cols.add("cos_zenith", cosZ)
	cols.add("hour_angle", hourAngle)
	cols.add("declination", declination)
	cols.add("elevation", elevation)
	cols.add("hour_sin", hourSin)
	cols.add("hour_cos", hourCos)

	// (d) clear-sky irradiance and index.
	clearSky := make([]float64, n)
	csi := make([]float64, n)
	for i, o := range obs {
		clearSky[i] = solar.ClearSky(o.ObservedAt, cfg.Site.Latitude, cfg.Site.Longitude)
		if math.IsNaN(irr[i]) {
			csi[i] = math.NaN()
		} else {
			csi[i] = solar.ClearSkyIndex(irr[i], clearSky[i])
		}
	}
	cols.add("clear_sky", clearSky)
	cols.add("clear_sky_index", csi)

	// (e) trend features.
	diff1 := diff(irr, 1)
	cols.add("irr_diff_1h", diff1)
	cols.add("irr_pct_change", guardedPctChange(irr))
	morning := make([]float64, n)
	evening := make([]float64, n)
	for i, o := range obs {
		if o.ObservedAt.Hour() < 12 {
			morning[i] = diff1[i]
		} else {
			evening[i] = diff1[i]
		}
	}
	cols.add("morning_trend", morning)
	cols.add("evening_trend", evening)
	cols.add("irr_accel", diff(diff1, 1))
	cols.add("irr_roll_std_3h", rollingStd(irr, rollStdWindow))
	cols.add("irr_prev_day", shift(irr, 24))

	// (f) diurnal decomposition of the clear-sky index.
	smooth, resid := diurnalDecompose(obs, csi)
	cols.add("csi_diurnal", smooth)
	cols.add("csi_residual", resid)
	cols.add("csi_residual_lag1", shift(resid, 1))
	cols.add("csi_residual_lag2", shift(resid, 2))

	return cols
}

func assemble(obs []models.Observation, irr []float64, cols *columnSet, targets map[models.Horizon][]float64, cfg Config, keep []int) *Frame {
	m := len(keep)
	frame := &Frame{
		Times:      make([]time.Time, m),
		Columns:    cols.names,
		Rows:       make([][]float64, m),
		Targets:    make(map[models.Horizon][]float64, len(targets)),
		Daylight:   make([]bool, m),
		Irradiance: make([]float64, m),
	}
	for h := range targets {
		frame.Targets[h] = make([]float64, m)
	}
	for r, i := range keep {
		frame.Times[r] = obs[i].ObservedAt
		frame.Daylight[r] = solar.Classify(obs[i].ObservedAt) == solar.Day
		frame.Irradiance[r] = irr[i]
		row := make([]float64, len(cols.names))
		for c, data := range cols.data {
			row[c] = data[i]
		}
		frame.Rows[r] = row
		for h, tgt := range targets {
			frame.Targets[h][r] = tgt[i]
		}
	}
	return frame
}

// imputeColumnMedians repairs any remaining NaN/Inf in feature columns with
// the column median. Targets are already guaranteed finite by the boundary
// trim.
func imputeColumnMedians(f *Frame) {
	for c := range f.Columns {
		var finite []float64
		bad := 0
		for r := range f.Rows {
			v := f.Rows[r][c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad++
			} else {
				finite = append(finite, v)
			}
		}
		if bad == 0 {
			continue
		}
		med := median(finite)
		log.Printf("features: column %s has %d non-finite values, imputing median %.3f", f.Columns[c], bad, med)
		for r := range f.Rows {
			if v := f.Rows[r][c]; math.IsNaN(v) || math.IsInf(v, 0) {
				f.Rows[r][c] = med
			}
		}
	}
}

type columnSet struct {
	n     int
	names []string
	data  [][]float64
}

func newColumnSet(n int) *columnSet { return &columnSet{n: n} }

func (cs *columnSet) add(name string, data []float64) {
	cs.names = append(cs.names, name)
	cs.data = append(cs.data, data)
}

func nullColumn(obs []models.Observation, get func(models.Observation) (float64, bool)) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		if v, ok := get(o); ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// shift moves the series k steps forward in time (positive k = lag, negative
// k = lead); vacated positions become NaN.
func shift(s []float64, k int) []float64 {
	n := len(s)
	out := make([]float64, n)
	for i := range out {
		j := i - k
		if j < 0 || j >= n {
			out[i] = math.NaN()
		} else {
			out[i] = s[j]
		}
	}
	return out
}

func diff(s []float64, k int) []float64 {
	n := len(s)
	out := make([]float64, n)
	for i := range out {
		if i < k {
			out[i] = math.NaN()
		} else {
			out[i] = s[i] - s[i-k]
		}
	}
	return out
}

func guardedPctChange(s []float64) []float64 {
	out := make([]float64, len(s))
	for i := range out {
		if i == 0 || math.IsNaN(s[i]) || math.IsNaN(s[i-1]) || s[i-1] <= pctChangeFloor {
			out[i] = 0
			continue
		}
		out[i] = (s[i] - s[i-1]) / s[i-1]
	}
	return out
}

func rollingMean(s []float64, window int) []float64 {
	return rollingApply(s, window, func(vals []float64) float64 {
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	})
}

func rollingMax(s []float64, window int) []float64 {
	return rollingApply(s, window, func(vals []float64) float64 {
		max := vals[0]
		for _, v := range vals[1:] {
			if v > max {
				max = v
			}
		}
		return max
	})
}

func rollingStd(s []float64, window int) []float64 {
	return rollingApply(s, window, func(vals []float64) float64 {
		if len(vals) < 2 {
			return 0
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		mean := sum / float64(len(vals))
		var ss float64
		for _, v := range vals {
			d := v - mean
			ss += d * d
		}
		return math.Sqrt(ss / float64(len(vals)-1))
	})
}

// rollingApply evaluates fn over the trailing window of finite values ending
// at each index, requiring at least one finite sample.
func rollingApply(s []float64, window int, fn func([]float64) float64) []float64 {
	out := make([]float64, len(s))
	for i := range s {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		var vals []float64
		for j := lo; j <= i; j++ {
			if !math.IsNaN(s[j]) {
				vals = append(vals, s[j])
			}
		}
		if len(vals) == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = fn(vals)
		}
	}
	return out
}

// diurnalDecompose splits the clear-sky index into an hour-of-day smoothed
// component and a clipped residual. Smoothing is a centered rolling mean of
// width diurnalWindow within each hour bucket; buckets with fewer than
// diurnalMinSamples finite values yield NaN (repaired by imputation).
func diurnalDecompose(obs []models.Observation, csi []float64) (smooth, resid []float64) {
	n := len(obs)
	smooth = make([]float64, n)
	resid = make([]float64, n)

	buckets := make(map[int][]int)
	for i, o := range obs {
		h := o.ObservedAt.Hour()
		buckets[h] = append(buckets[h], i)
	}

	for _, idxs := range buckets {
		finiteCount := 0
		for _, i := range idxs {
			if !math.IsNaN(csi[i]) {
				finiteCount++
			}
		}
		for pos, i := range idxs {
			if finiteCount < diurnalMinSamples {
				smooth[i] = math.NaN()
				continue
			}
			half := diurnalWindow / 2
			lo := pos - half
			if lo < 0 {
				lo = 0
			}
			hi := pos + half
			if hi > len(idxs)-1 {
				hi = len(idxs) - 1
			}
			var sum float64
			var cnt int
			for _, j := range idxs[lo : hi+1] {
				if !math.IsNaN(csi[j]) {
					sum += csi[j]
					cnt++
				}
			}
			if cnt == 0 {
				smooth[i] = math.NaN()
			} else {
				smooth[i] = sum / float64(cnt)
			}
		}
	}

	for i := range csi {
		if math.IsNaN(csi[i]) || math.IsNaN(smooth[i]) {
			resid[i] = math.NaN()
			continue
		}
		r := csi[i] - smooth[i]
		if r > 1 {
			r = 1
		} else if r < -1 {
			r = -1
		}
		resid[i] = r
	}
	return smooth, resid
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
