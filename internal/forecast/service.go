package forecast

import (
	"fmt"
	"log"
	"time"

	"github.com/paolodgm/solarcast/internal/features"
	"github.com/paolodgm/solarcast/internal/metrics"
	"github.com/paolodgm/solarcast/internal/model"
	"github.com/paolodgm/solarcast/internal/models"
)

// Service owns everything inference needs: the fitted scaler, the per-horizon
// regressors and the calibration state. All of it is explicit instance state,
// loaded from the persisted bundle; nothing lives in package globals.
type Service struct {
	featureCfg   features.Config
	scaler       *features.Scaler
	regressors   map[models.Horizon]*model.HorizonModels
	calibrations map[models.Horizon]models.HorizonCalibration
	adjuster     AdjusterConfig
	riskRules    RiskRules
	useRisk      bool
}

func NewService(featureCfg features.Config, scaler *features.Scaler, regressors map[models.Horizon]*model.HorizonModels, calibrations map[models.Horizon]models.HorizonCalibration, adjuster AdjusterConfig) (*Service, error) {
	if scaler == nil {
		return nil, fmt.Errorf("forecast: nil scaler")
	}
	for _, h := range featureCfg.Horizons {
		if regressors[h] == nil || regressors[h].Median == nil {
			return nil, fmt.Errorf("forecast: no model for horizon %d", h)
		}
		if _, ok := calibrations[h]; !ok {
			return nil, fmt.Errorf("forecast: no calibration for horizon %d", h)
		}
	}
	return &Service{
		featureCfg:   featureCfg,
		scaler:       scaler,
		regressors:   regressors,
		calibrations: calibrations,
		adjuster:     adjuster,
		riskRules:    DefaultRiskRules(),
	}, nil
}

// EnableRisk turns on the weather-condition damping and hour-of-day shaping
// heuristics.
func (s *Service) EnableRisk(rules RiskRules) {
	s.riskRules = rules
	s.useRisk = true
}

func (s *Service) Calibrations() map[models.Horizon]models.HorizonCalibration {
	out := make(map[models.Horizon]models.HorizonCalibration, len(s.calibrations))
	for h, c := range s.calibrations {
		out[h] = c
	}
	return out
}

// Predict issues one interval per configured horizon from the tail of the
// observation series. Observations must be chronologically sorted, newest
// last.
func (s *Service) Predict(obs []models.Observation, issuedAt time.Time) ([]models.Prediction, error) {
	row, cols, obsTime, err := features.LatestRow(obs, s.featureCfg)
	if err != nil {
		return nil, fmt.Errorf("build inference row: %w", err)
	}
	if len(cols) != len(s.scaler.Columns) {
		return nil, fmt.Errorf("inference row has %d columns, scaler expects %d", len(cols), len(s.scaler.Columns))
	}
	for i, c := range cols {
		if c != s.scaler.Columns[i] {
			return nil, fmt.Errorf("inference column %d is %s, scaler expects %s", i, c, s.scaler.Columns[i])
		}
	}
	scaled, err := s.scaler.TransformRow(row)
	if err != nil {
		return nil, fmt.Errorf("scale inference row: %w", err)
	}

	var risk Assessment
	prev := 0.0
	if s.useRisk {
		risk = AssessRisk(obs, s.riskRules)
		metrics.RiskScore.Set(float64(risk.Score))
		if risk.HighRisk {
			log.Printf("forecast: high risk score %d: %v", risk.Score, risk.Warnings)
		}
		if last := obs[len(obs)-1]; last.Irradiance.Valid {
			prev = last.Irradiance.Float64
		}
	}

	out := make([]models.Prediction, 0, len(s.featureCfg.Horizons))
	for _, h := range s.featureCfg.Horizons {
		target := obsTime.Add(time.Duration(h) * time.Hour)
		point := s.regressors[h].Median.PredictRow(scaled)
		iv := Adjust(point, target, s.calibrations[h], s.adjuster)
		if s.useRisk {
			iv = ApplyRisk(iv, risk, target.Hour(), s.riskRules)
			// Chained: each horizon's shaped point feeds the next hour's
			// afternoon ceiling.
			iv = ShapeInterval(iv, target.Hour(), prev)
			prev = iv.Point
		}
		out = append(out, models.Prediction{
			IssuedAt:   issuedAt,
			TargetTime: target,
			Horizon:    h,
			Point:      iv.Point,
			Lower:      iv.Lower,
			Upper:      iv.Upper,
			DayState:   iv.DayState.String(),
		})
	}
	return out, nil
}
