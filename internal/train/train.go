// Package train runs the full offline fitting pass: feature construction,
// chronological splitting, per-horizon model fitting, interval calibration on
// the validation slice, and a held-out test evaluation. The output is a
// store.Bundle ready to persist and serve.
package train

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/paolodgm/solarcast/internal/calibrate"
	"github.com/paolodgm/solarcast/internal/dataset"
	"github.com/paolodgm/solarcast/internal/features"
	"github.com/paolodgm/solarcast/internal/metrics"
	"github.com/paolodgm/solarcast/internal/model"
	"github.com/paolodgm/solarcast/internal/models"
	"github.com/paolodgm/solarcast/internal/store"
)

type Config struct {
	Features  features.Config
	Split     dataset.SplitConfig
	Trainer   model.TrainerConfig
	Calibrate calibrate.Config
}

func DefaultConfig(site models.Site) Config {
	return Config{
		Features:  features.DefaultConfig(site),
		Split:     dataset.DefaultSplitConfig(),
		Trainer:   model.DefaultTrainerConfig(),
		Calibrate: calibrate.DefaultConfig(),
	}
}

// HorizonReport is the held-out test evaluation for one lead time, computed
// on rows neither the models nor the calibration ever saw.
type HorizonReport struct {
	Horizon       models.Horizon
	TestRMSE      float64
	TestCoverage  float64
	TestMeanWidth float64
}

// Run fits everything from scratch on the supplied observation history.
func Run(obs []models.Observation, cfg Config) (*store.Bundle, []HorizonReport, error) {
	frame, err := features.Build(obs, cfg.Features)
	if err != nil {
		return nil, nil, fmt.Errorf("build features: %w", err)
	}

	split, err := dataset.SequentialSplit(frame.Times, cfg.Split)
	if err != nil {
		return nil, nil, fmt.Errorf("split: %w", err)
	}
	trainFrame := frame.Slice(0, split.TrainEnd)
	valFrame := frame.Slice(split.TrainEnd, split.ValEnd)
	testFrame := frame.Slice(split.ValEnd, split.N)
	log.Printf("train: %d rows -> train %d / val %d / test %d",
		frame.Len(), split.TrainRows(), split.ValRows(), split.TestRows())

	scaler := features.FitScaler(trainFrame)

	trained, err := model.TrainAll(trainFrame, valFrame, scaler, cfg.Trainer)
	if err != nil {
		return nil, nil, fmt.Errorf("train models: %w", err)
	}

	Xval, err := scaler.Transform(valFrame)
	if err != nil {
		return nil, nil, fmt.Errorf("scale val: %w", err)
	}
	Xtest, err := scaler.Transform(testFrame)
	if err != nil {
		return nil, nil, fmt.Errorf("scale test: %w", err)
	}

	bundle := &store.Bundle{
		Meta: models.BundleMeta{
			TrainedAt:    time.Now().UTC(),
			TrainRows:    split.TrainRows(),
			ValRows:      split.ValRows(),
			TestRows:     split.TestRows(),
			FeatureNames: frame.Columns,
		},
		Scaler:       scaler,
		Models:       make(map[models.Horizon]map[string]*model.GBT),
		Calibrations: make(map[models.Horizon]models.HorizonCalibration),
	}

	var reports []HorizonReport
	for _, h := range cfg.Features.Horizons {
		hm, ok := trained[h]
		if !ok || hm.Median == nil {
			return nil, nil, fmt.Errorf("no trained model for horizon %d", h)
		}

		roles := map[string]*model.GBT{store.RoleMedian: hm.Median}
		if hm.Lower != nil {
			roles[store.RoleLower] = hm.Lower
		}
		if hm.Upper != nil {
			roles[store.RoleUpper] = hm.Upper
		}
		bundle.Models[h] = roles

		predVal := hm.Median.Predict(Xval)
		res, err := calibrate.Calibrate(predVal, valFrame.Targets[h], valFrame.Times, cfg.Calibrate)
		if err != nil {
			return nil, nil, fmt.Errorf("calibrate horizon %d: %w", h, err)
		}
		cal := calibrationRecord(h, res)
		bundle.Calibrations[h] = cal
		metrics.CalibrationCoverage.WithLabelValues(strconv.Itoa(int(h))).Set(res.Coverage)
		log.Printf("train: horizon %d calibrated offsets [%.1f, %.1f] coverage %.3f mean width %.1f (%d iterations)",
			h, res.LowerOffset, res.UpperOffset, res.Coverage, res.MeanWidth, res.Iterations)

		rep := evaluate(h, hm.Median.Predict(Xtest), testFrame.Targets[h], cal)
		log.Printf("train: horizon %d test rmse %.1f coverage %.3f mean width %.1f",
			h, rep.TestRMSE, rep.TestCoverage, rep.TestMeanWidth)
		reports = append(reports, rep)
	}

	return bundle, reports, nil
}

func calibrationRecord(h models.Horizon, res calibrate.Result) models.HorizonCalibration {
	cal := models.HorizonCalibration{
		Horizon:      h,
		LowerOffset:  res.LowerOffset,
		UpperOffset:  res.UpperOffset,
		Coverage:     res.Coverage,
		MeanWidth:    res.MeanWidth,
		MaxWidth:     res.MaxWidth,
		CalibratedAt: time.Now().UTC(),
	}
	if res.HasPeak {
		cal.PeakCoverage.Float64, cal.PeakCoverage.Valid = res.PeakCoverage, true
		cal.PeakWidth.Float64, cal.PeakWidth.Valid = res.PeakWidth, true
	}
	return cal
}

func evaluate(h models.Horizon, pred, actual []float64, cal models.HorizonCalibration) HorizonReport {
	rep := HorizonReport{Horizon: h}
	if len(pred) == 0 {
		rep.TestRMSE = math.NaN()
		return rep
	}

	var ss, widthSum float64
	covered := 0
	for i := range pred {
		d := pred[i] - actual[i]
		ss += d * d

		lo, hi := calibrate.Bounds(pred[i], cal.LowerOffset, cal.UpperOffset)
		if actual[i] >= lo && actual[i] <= hi {
			covered++
		}
		widthSum += hi - lo
	}
	n := float64(len(pred))
	rep.TestRMSE = math.Sqrt(ss / n)
	rep.TestCoverage = float64(covered) / n
	rep.TestMeanWidth = widthSum / n
	return rep
}
