package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/gwlsn/shotclock/internal/logger"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	stored_path TEXT NOT NULL,
	upload_size INTEGER NOT NULL DEFAULT 0,
	total_frames INTEGER NOT NULL DEFAULT 0,
	segments INTEGER NOT NULL DEFAULT 0,
	scores TEXT NOT NULL DEFAULT '[]',
	positive TEXT NOT NULL DEFAULT '[]',
	sampled TEXT NOT NULL DEFAULT '[]',
	threshold REAL NOT NULL DEFAULT 0.5,
	policy TEXT NOT NULL DEFAULT 'pad',
	duration_ms INTEGER,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`

// ErrSchemaVersion is returned when the database was written by a build
// with a different schema.
var ErrSchemaVersion = errors.New("unsupported history schema version")

// migrate creates the schema on a fresh database and checks the version of
// an existing one. Upgrades for later versions go here.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(versionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		logger.Debug("Created history database", "version", schemaVersion)
		return nil
	}
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has v%d, this build uses v%d", ErrSchemaVersion, version, schemaVersion)
	}
	return nil
}
