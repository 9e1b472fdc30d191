package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 2

// initializeSchemaWithMigrations ensures the database schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}
	if currentVersion > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentSchemaVersion)
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies database migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return execAll(db,
			`CREATE TABLE IF NOT EXISTS conversations (
				user_id         TEXT PRIMARY KEY,
				last_entity_ref TEXT NOT NULL DEFAULT '',
				pending         TEXT,
				updated_at      DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS turns (
				user_id    TEXT NOT NULL REFERENCES conversations(user_id) ON DELETE CASCADE,
				seq        INTEGER NOT NULL,
				role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
				text       TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (user_id, seq)
			)`,
		)
	case 2:
		return execAll(db,
			`CREATE TABLE IF NOT EXISTS orchestrations (
				request_id  TEXT PRIMARY KEY,
				user_ref    TEXT NOT NULL,
				platform    TEXT NOT NULL,
				intent      TEXT NOT NULL,
				outcome     TEXT NOT NULL,
				attempts    INTEGER NOT NULL DEFAULT 0,
				duration_ms INTEGER NOT NULL,
				created_at  DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orchestrations_created ON orchestrations(created_at)`,
		)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

func execAll(db *sql.DB, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %s: %w", stmt, err)
		}
	}
	return nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
