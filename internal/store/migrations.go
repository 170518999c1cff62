package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS observations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    observed_at DATETIME NOT NULL,
    temp REAL,
    humidity REAL,
    pressure REAL,
    dewpoint REAL,
    wind_speed REAL,
    uv REAL,
    irradiance REAL,
    qc_status INTEGER,
    source_label TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(observed_at, source_label)
);

CREATE TABLE IF NOT EXISTS model_bundles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trained_at DATETIME NOT NULL,
    train_rows INTEGER,
    val_rows INTEGER,
    test_rows INTEGER,
    feature_columns TEXT NOT NULL,
    scaler_json TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bundle_models (
    bundle_id INTEGER NOT NULL REFERENCES model_bundles(id),
    horizon INTEGER NOT NULL,
    role TEXT NOT NULL,
    model_json TEXT NOT NULL,
    PRIMARY KEY (bundle_id, horizon, role)
);

CREATE TABLE IF NOT EXISTS calibration (
    bundle_id INTEGER NOT NULL REFERENCES model_bundles(id),
    horizon INTEGER NOT NULL,
    lower_offset REAL NOT NULL,
    upper_offset REAL NOT NULL,
    coverage REAL,
    mean_width REAL,
    max_width REAL,
    peak_coverage REAL,
    peak_width REAL,
    calibrated_at DATETIME NOT NULL,
    PRIMARY KEY (bundle_id, horizon)
);

CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issued_at DATETIME NOT NULL,
    target_time DATETIME NOT NULL,
    horizon INTEGER NOT NULL,
    point REAL NOT NULL,
    lower REAL NOT NULL,
    upper REAL NOT NULL,
    day_state TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(issued_at, horizon)
);

CREATE TABLE IF NOT EXISTS ingest_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    success BOOLEAN,
    records_parsed INTEGER,
    records_stored INTEGER,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_obs_time ON observations(observed_at);
CREATE INDEX IF NOT EXISTS idx_predictions_target ON predictions(target_time);
CREATE INDEX IF NOT EXISTS idx_predictions_issued ON predictions(issued_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
