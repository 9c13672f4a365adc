// ABOUTME: Versioned schema for the embedded entry store
// ABOUTME: Applies ordered migrations tracked in PRAGMA user_version

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"digests-reader/core/errors"
)

// migrations are applied in order; migrations[i] upgrades version i to i+1.
// Never edit a released migration, append a new one instead.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		size       INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER,
		query_type TEXT NOT NULL DEFAULT '',
		feed_url   TEXT NOT NULL DEFAULT '',
		user_id    TEXT NOT NULL DEFAULT '',
		tags       TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON entries(expires_at);
	CREATE INDEX IF NOT EXISTS idx_entries_updated_at ON entries(updated_at);
	CREATE INDEX IF NOT EXISTS idx_entries_query_type ON entries(query_type);`,

	`CREATE INDEX IF NOT EXISTS idx_entries_feed_url ON entries(feed_url);`,
}

// SchemaVersion is the version this build reads and writes
var SchemaVersion = len(migrations)

// userVersion reads the on-disk schema version
func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrate brings the schema up to SchemaVersion. A database written by a
// newer build is refused rather than silently misread.
func migrate(ctx context.Context, db *sql.DB) error {
	current, err := userVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return errors.NewStorageError(errors.ErrVersionMismatch, "open", "",
			fmt.Errorf("on-disk schema version %d is newer than supported version %d", current, SchemaVersion))
	}

	for v := current; v < SchemaVersion; v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", v+1, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v+1, err)
		}
	}
	return nil
}
