// Package store is the persistence boundary: observations in, model bundles
// and calibration state round-tripped across restarts, emitted predictions
// out. SQLite via modernc.org/sqlite, schema managed by versioned migrations.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paolodgm/solarcast/internal/features"
	"github.com/paolodgm/solarcast/internal/model"
	"github.com/paolodgm/solarcast/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}

func (s *Store) InsertObservation(obs models.Observation) error {
	_, err := s.db.Exec(`
		INSERT INTO observations (observed_at, temp, humidity, pressure, dewpoint, wind_speed, uv, irradiance, qc_status, source_label)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(observed_at, source_label) DO NOTHING
	`, obs.ObservedAt, obs.Temp, obs.Humidity, obs.Pressure, obs.Dewpoint, obs.WindSpeed, obs.UV, obs.Irradiance, obs.QCStatus, obs.SourceLabel)
	return err
}

const obsColumns = `id, observed_at, temp, humidity, pressure, dewpoint, wind_speed, uv, irradiance, qc_status, source_label, created_at`

// scanObservation normalises timestamps into the store's location: the
// hour-of-day rules downstream read literal local hours, so observations must
// come back in site-local time whatever zone the driver round-trips them in.
func (s *Store) scanObservation(row interface{ Scan(...any) error }) (models.Observation, error) {
	var obs models.Observation
	err := row.Scan(&obs.ID, &obs.ObservedAt, &obs.Temp, &obs.Humidity, &obs.Pressure, &obs.Dewpoint,
		&obs.WindSpeed, &obs.UV, &obs.Irradiance, &obs.QCStatus, &obs.SourceLabel, &obs.CreatedAt)
	if err == nil {
		obs.ObservedAt = obs.ObservedAt.In(s.loc)
		obs.CreatedAt = obs.CreatedAt.In(s.loc)
	}
	return obs, err
}

func (s *Store) GetObservations(start, end time.Time) ([]models.Observation, error) {
	rows, err := s.db.Query(`
		SELECT `+obsColumns+`
		FROM observations
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		obs, err := s.scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// GetRecentObservations returns the newest limit observations in chronological
// order, the shape the feature pipeline wants.
func (s *Store) GetRecentObservations(limit int) ([]models.Observation, error) {
	rows, err := s.db.Query(`
		SELECT `+obsColumns+`
		FROM observations
		ORDER BY observed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		obs, err := s.scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(observations)-1; i < j; i, j = i+1, j-1 {
		observations[i], observations[j] = observations[j], observations[i]
	}
	return observations, nil
}

func (s *Store) GetLatestObservation() (*models.Observation, error) {
	row := s.db.QueryRow(`SELECT ` + obsColumns + ` FROM observations ORDER BY observed_at DESC LIMIT 1`)
	obs, err := s.scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// Model roles within a bundle.
const (
	RoleMedian = "median"
	RoleLower  = "lower"
	RoleUpper  = "upper"
)

// Bundle is everything a restart needs to resume serving: the scaler, the
// fitted regressors per horizon and role, and the calibration state.
type Bundle struct {
	Meta         models.BundleMeta
	Scaler       *features.Scaler
	Models       map[models.Horizon]map[string]*model.GBT
	Calibrations map[models.Horizon]models.HorizonCalibration
}

// HorizonModels reshapes the persisted role map into the trainer's
// per-horizon form, the shape the forecast service consumes.
func (b *Bundle) HorizonModels() map[models.Horizon]*model.HorizonModels {
	out := make(map[models.Horizon]*model.HorizonModels, len(b.Models))
	for h, roles := range b.Models {
		out[h] = &model.HorizonModels{
			Horizon: h,
			Median:  roles[RoleMedian],
			Lower:   roles[RoleLower],
			Upper:   roles[RoleUpper],
		}
	}
	return out
}

func (s *Store) SaveBundle(b *Bundle) (int64, error) {
	scalerJSON, err := json.Marshal(b.Scaler)
	if err != nil {
		return 0, fmt.Errorf("marshal scaler: %w", err)
	}
	colsJSON, err := json.Marshal(b.Meta.FeatureNames)
	if err != nil {
		return 0, fmt.Errorf("marshal feature columns: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO model_bundles (trained_at, train_rows, val_rows, test_rows, feature_columns, scaler_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.Meta.TrainedAt, b.Meta.TrainRows, b.Meta.ValRows, b.Meta.TestRows, string(colsJSON), string(scalerJSON))
	if err != nil {
		return 0, fmt.Errorf("insert bundle: %w", err)
	}
	bundleID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for h, roles := range b.Models {
		for role, g := range roles {
			if g == nil {
				continue
			}
			modelJSON, err := json.Marshal(g)
			if err != nil {
				return 0, fmt.Errorf("marshal horizon %d %s model: %w", h, role, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO bundle_models (bundle_id, horizon, role, model_json)
				VALUES (?, ?, ?, ?)
			`, bundleID, int(h), role, string(modelJSON)); err != nil {
				return 0, fmt.Errorf("insert horizon %d %s model: %w", h, role, err)
			}
		}
	}

	for h, cal := range b.Calibrations {
		if _, err := tx.Exec(`
			INSERT INTO calibration (bundle_id, horizon, lower_offset, upper_offset, coverage, mean_width, max_width, peak_coverage, peak_width, calibrated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, bundleID, int(h), cal.LowerOffset, cal.UpperOffset, cal.Coverage, cal.MeanWidth, cal.MaxWidth,
			cal.PeakCoverage, cal.PeakWidth, cal.CalibratedAt); err != nil {
			return 0, fmt.Errorf("insert horizon %d calibration: %w", h, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return bundleID, nil
}

// LoadLatestBundle returns the newest persisted bundle, or nil when none has
// been trained yet.
func (s *Store) LoadLatestBundle() (*Bundle, error) {
	row := s.db.QueryRow(`
		SELECT id, trained_at, train_rows, val_rows, test_rows, feature_columns, scaler_json
		FROM model_bundles
		ORDER BY trained_at DESC, id DESC
		LIMIT 1
	`)

	var b Bundle
	var colsJSON, scalerJSON string
	err := row.Scan(&b.Meta.ID, &b.Meta.TrainedAt, &b.Meta.TrainRows, &b.Meta.ValRows, &b.Meta.TestRows, &colsJSON, &scalerJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(colsJSON), &b.Meta.FeatureNames); err != nil {
		return nil, fmt.Errorf("unmarshal feature columns: %w", err)
	}
	b.Scaler = &features.Scaler{}
	if err := json.Unmarshal([]byte(scalerJSON), b.Scaler); err != nil {
		return nil, fmt.Errorf("unmarshal scaler: %w", err)
	}

	b.Models = make(map[models.Horizon]map[string]*model.GBT)
	rows, err := s.db.Query(`SELECT horizon, role, model_json FROM bundle_models WHERE bundle_id = ?`, b.Meta.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h int
		var role, modelJSON string
		if err := rows.Scan(&h, &role, &modelJSON); err != nil {
			return nil, err
		}
		g := &model.GBT{}
		if err := json.Unmarshal([]byte(modelJSON), g); err != nil {
			return nil, fmt.Errorf("unmarshal horizon %d %s model: %w", h, role, err)
		}
		if b.Models[models.Horizon(h)] == nil {
			b.Models[models.Horizon(h)] = make(map[string]*model.GBT)
		}
		b.Models[models.Horizon(h)][role] = g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	b.Calibrations, err = s.GetCalibrations(b.Meta.ID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) GetCalibrations(bundleID int64) (map[models.Horizon]models.HorizonCalibration, error) {
	rows, err := s.db.Query(`
		SELECT horizon, lower_offset, upper_offset, coverage, mean_width, max_width, peak_coverage, peak_width, calibrated_at
		FROM calibration
		WHERE bundle_id = ?
	`, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.Horizon]models.HorizonCalibration)
	for rows.Next() {
		var h int
		var cal models.HorizonCalibration
		if err := rows.Scan(&h, &cal.LowerOffset, &cal.UpperOffset, &cal.Coverage, &cal.MeanWidth, &cal.MaxWidth,
			&cal.PeakCoverage, &cal.PeakWidth, &cal.CalibratedAt); err != nil {
			return nil, err
		}
		cal.Horizon = models.Horizon(h)
		out[cal.Horizon] = cal
	}
	return out, rows.Err()
}

func (s *Store) InsertPrediction(p models.Prediction) error {
	_, err := s.db.Exec(`
		INSERT INTO predictions (issued_at, target_time, horizon, point, lower, upper, day_state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(issued_at, horizon) DO NOTHING
	`, p.IssuedAt, p.TargetTime, int(p.Horizon), p.Point, p.Lower, p.Upper, p.DayState)
	return err
}

func (s *Store) GetPredictions(start, end time.Time) ([]models.Prediction, error) {
	rows, err := s.db.Query(`
		SELECT id, issued_at, target_time, horizon, point, lower, upper, day_state, created_at
		FROM predictions
		WHERE target_time >= ? AND target_time <= ?
		ORDER BY target_time ASC, horizon ASC
	`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		var p models.Prediction
		var h int
		if err := rows.Scan(&p.ID, &p.IssuedAt, &p.TargetTime, &h, &p.Point, &p.Lower, &p.Upper, &p.DayState, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Horizon = models.Horizon(h)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLatestPredictions returns the most recently issued forecast set.
func (s *Store) GetLatestPredictions() ([]models.Prediction, error) {
	rows, err := s.db.Query(`
		SELECT id, issued_at, target_time, horizon, point, lower, upper, day_state, created_at
		FROM predictions
		WHERE issued_at = (SELECT MAX(issued_at) FROM predictions)
		ORDER BY horizon ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		var p models.Prediction
		var h int
		if err := rows.Scan(&p.ID, &p.IssuedAt, &p.TargetTime, &h, &p.Point, &p.Lower, &p.Upper, &p.DayState, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Horizon = models.Horizon(h)
		out = append(out, p)
	}
	return out, rows.Err()
}

// IngestRun tracks one ingestion attempt in ingest_log.
type IngestRun struct {
	ID            int64
	Source        string
	StartedAt     time.Time
	Success       bool
	RecordsParsed sql.NullInt64
	RecordsStored sql.NullInt64
	ErrorMessage  sql.NullString
}

func (s *Store) StartIngestRun(source string) (*IngestRun, error) {
	run := &IngestRun{Source: source, StartedAt: time.Now().UTC()}
	res, err := s.db.Exec(`INSERT INTO ingest_log (source, started_at) VALUES (?, ?)`, run.Source, run.StartedAt)
	if err != nil {
		return nil, err
	}
	run.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteIngestRun(run *IngestRun) error {
	_, err := s.db.Exec(`
		UPDATE ingest_log
		SET completed_at = ?, success = ?, records_parsed = ?, records_stored = ?, error_message = ?
		WHERE id = ?
	`, time.Now().UTC(), run.Success, run.RecordsParsed, run.RecordsStored, run.ErrorMessage, run.ID)
	return err
}
