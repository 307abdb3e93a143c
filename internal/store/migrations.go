package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
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
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    stage TEXT NOT NULL,
    workspace TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    success BOOLEAN DEFAULT FALSE,
    error_kind TEXT,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model, started_at);

CREATE TABLE IF NOT EXISTS comparisons (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT,
    model TEXT NOT NULL,
    compared_at DATETIME NOT NULL,
    r_squared REAL,
    discrepancy REAL,
    total_reference REAL,
    total_coupled REAL,
    volume_reference REAL,
    volume_coupled REAL
);

CREATE INDEX IF NOT EXISTS idx_comparisons_model ON comparisons(model, compared_at);

CREATE TABLE IF NOT EXISTS comparison_entities (
    comparison_id INTEGER NOT NULL REFERENCES comparisons(id),
    provider_id INTEGER NOT NULL,
    reference_node INTEGER NOT NULL,
    steps INTEGER,
    volume_reference REAL,
    volume_coupled REAL,
    PRIMARY KEY (comparison_id, provider_id)
);
`,
	},
	{
		Version:     2,
		Description: "Archive fetched climate records",
		SQL: `
CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT,
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    scheme TEXT,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_raw_payloads_source ON raw_payloads(source, fetched_at);
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

		s.log.Info("migrations: applying", zap.Int("version", m.Version), zap.String("description", m.Description))

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
