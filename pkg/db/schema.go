package db

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// Schema SQL for version 1
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Device provisioning check-ins, one row per device MAC
CREATE TABLE IF NOT EXISTS checkins (
    mac           TEXT PRIMARY KEY,
    firmware      TEXT NOT NULL DEFAULT 'unknown',
    ip            TEXT NOT NULL DEFAULT '',
    checkin_count INTEGER NOT NULL DEFAULT 1,
    first_seen    TEXT NOT NULL DEFAULT (datetime('now')),
    last_seen     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_checkins_last_seen ON checkins(last_seen);
`

// Migrate runs database migrations to bring the schema up to date.
func (db *DB) Migrate(ctx context.Context) error {
	version, err := db.getSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		return nil // Already up to date
	}

	if version < 1 {
		if err := db.applySchemaV1(ctx); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version, or 0 if no schema exists.
func (db *DB) getSchemaVersion(ctx context.Context) (int, error) {
	// Check if schema_version table exists
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&count)
	if err != nil {
		return 0, err
	}

	if count == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// applySchemaV1 applies the initial schema.
func (db *DB) applySchemaV1(ctx context.Context) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}

		return nil
	})
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return db.getSchemaVersion(ctx)
}
