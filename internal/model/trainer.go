package model

import (
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/paolodgm/solarcast/internal/features"
	"github.com/paolodgm/solarcast/internal/models"
)

// TrainerConfig controls per-horizon model fitting.
type TrainerConfig struct {
	// DaylightWeight upweights rows observed during full daylight.
	DaylightWeight float64
	// TuneTrials is the budget handed to the black-box tuner; 0 skips
	// tuning and uses defaults.
	TuneTrials int
	// TrainBounds enables the legacy auxiliary lower/upper models. The
	// calibration engine supersedes them but the path is kept for
	// comparison runs.
	TrainBounds bool
	// MaxIntervalWidth feeds the bound-model objective's width penalty.
	MaxIntervalWidth float64
	Seed             int64
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		DaylightWeight:   1.5,
		TuneTrials:       20,
		TrainBounds:      false,
		MaxIntervalWidth: 100,
		Seed:             42,
	}
}

// HorizonModels bundles the fitted regressors for one lead time.
type HorizonModels struct {
	Horizon models.Horizon
	Median  *GBT
	Lower   *GBT // nil unless TrainBounds
	Upper   *GBT // nil unless TrainBounds
}

// wrong-direction multiplier for the bound-model objective.
const asymPenalty = 4

// TrainAll fits one model set per configured horizon. Horizons are
// independent, so training forks one goroutine per horizon; each writes a
// disjoint map slot and the frames are only read.
func TrainAll(train, val *features.Frame, scaler *features.Scaler, cfg TrainerConfig) (map[models.Horizon]*HorizonModels, error) {
	Xtrain, err := scaler.Transform(train)
	if err != nil {
		return nil, fmt.Errorf("scale train: %w", err)
	}
	Xval, err := scaler.Transform(val)
	if err != nil {
		return nil, fmt.Errorf("scale val: %w", err)
	}

	weights := make([]float64, train.Len())
	for i := range weights {
		if train.Daylight[i] {
			weights[i] = cfg.DaylightWeight
		} else {
			weights[i] = 1
		}
	}

	out := make(map[models.Horizon]*HorizonModels, len(train.Targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make(chan error, len(train.Targets))

	for h := range train.Targets {
		wg.Add(1)
		go func(h models.Horizon) {
			defer wg.Done()
			hm, err := trainHorizon(h, Xtrain, Xval, train, val, weights, cfg)
			if err != nil {
				errs <- fmt.Errorf("horizon %d: %w", h, err)
				return
			}
			mu.Lock()
			out[h] = hm
			mu.Unlock()
		}(h)
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return nil, err
	}
	return out, nil
}

func trainHorizon(h models.Horizon, Xtrain, Xval [][]float64, train, val *features.Frame, weights []float64, cfg TrainerConfig) (*HorizonModels, error) {
	yTrain := train.Targets[h]
	yVal := val.Targets[h]
	seed := cfg.Seed + int64(h)

	params := DefaultParams()
	if cfg.TuneTrials > 0 {
		params = Tune(func(p Params) float64 {
			g := NewGBT(p, LossSquared, seed)
			if err := g.Fit(Xtrain, yTrain, weights); err != nil {
				return math.Inf(1)
			}
			return rmse(g.Predict(Xval), yVal)
		}, DefaultParamSpace(), cfg.TuneTrials, seed)
	}

	median := NewGBT(params, LossSquared, seed)
	if err := median.Fit(Xtrain, yTrain, weights); err != nil {
		return nil, fmt.Errorf("fit median: %w", err)
	}
	log.Printf("trainer: horizon %d median rmse %.2f (val)", h, rmse(median.Predict(Xval), yVal))

	hm := &HorizonModels{Horizon: h, Median: median}
	if !cfg.TrainBounds {
		return hm, nil
	}

	medianVal := median.Predict(Xval)
	for _, upper := range []bool{false, true} {
		obj := boundObjective(Xtrain, Xval, yTrain, yVal, weights, medianVal, upper, cfg, seed)
		p := params
		if cfg.TuneTrials > 0 {
			p = Tune(obj, DefaultParamSpace(), cfg.TuneTrials, seed+100)
		}
		g := NewBoundGBT(p, upper, seed)
		if err := g.Fit(Xtrain, yTrain, weights); err != nil {
			return nil, fmt.Errorf("fit bound (upper=%v): %w", upper, err)
		}
		if upper {
			hm.Upper = g
		} else {
			hm.Lower = g
		}
	}
	return hm, nil
}

// boundObjective scores a bound model on validation data: asymmetric
// absolute error that penalises the wrong-direction miss 4x, plus a linear
// penalty on how far the implied interval width (against the median model)
// exceeds the cap.
func boundObjective(Xtrain, Xval [][]float64, yTrain, yVal, weights, medianVal []float64, upper bool, cfg TrainerConfig, seed int64) Objective {
	return func(p Params) float64 {
		g := NewBoundGBT(p, upper, seed)
		if err := g.Fit(Xtrain, yTrain, weights); err != nil {
			return math.Inf(1)
		}
		pred := g.Predict(Xval)

		var loss, width float64
		for i := range pred {
			err := yVal[i] - pred[i]
			switch {
			case upper && err > 0: // upper bound fell below the target
				loss += asymPenalty * err
			case upper:
				loss += -err
			case !upper && err < 0: // lower bound sat above the target
				loss += asymPenalty * -err
			default:
				loss += err
			}
			width += math.Abs(pred[i] - medianVal[i])
		}
		n := float64(len(pred))
		meanLoss := loss / n
		impliedWidth := 2 * width / n
		if over := impliedWidth - cfg.MaxIntervalWidth; over > 0 {
			meanLoss += over
		}
		return meanLoss
	}
}

func rmse(pred, y []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	var ss float64
	for i := range pred {
		d := pred[i] - y[i]
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(pred)))
}
