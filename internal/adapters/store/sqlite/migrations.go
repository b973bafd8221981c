package sqlite

import (
	"database/sql"
	"fmt"
)

// applyMigrations applies all database migrations in order.
func applyMigrations(db *sql.DB) error {
	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("could not enable foreign keys: %w", err)
	}

	// Create migrations table
	if err := createMigrationsTable(db); err != nil {
		return err
	}

	// Apply each migration
	migrations := []struct {
		version int
		name    string
		sql     string
	}{
		{1, "create_records_table", createRecordsTable},
		{2, "create_sync_operations_table", createSyncOperationsTable},
		{3, "create_failed_operations_table", createFailedOperationsTable},
		{4, "create_indices", createIndices},
	}

	for _, m := range migrations {
		applied, err := isMigrationApplied(db, m.version)
		if err != nil {
			return fmt.Errorf("could not check migration %d: %w", m.version, err)
		}

		if applied {
			continue
		}

		// Apply migration
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("could not apply migration %d (%s): %w", m.version, m.name, err)
		}

		// Record migration
		if err := recordMigration(db, m.version, m.name); err != nil {
			return fmt.Errorf("could not record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// createMigrationsTable creates the migrations tracking table.
func createMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// isMigrationApplied checks if a migration has been applied.
func isMigrationApplied(db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// recordMigration records that a migration has been applied.
func recordMigration(db *sql.DB, version int, name string) error {
	_, err := db.Exec("INSERT INTO migrations (version, name) VALUES (?, ?)", version, name)
	return err
}

// Migration SQL statements

// records is the local cache of versioned domain records. Scalar fields and
// line items are stored as JSON documents; version and synced_version are
// columns so staleness queries never parse JSON.
const createRecordsTable = `
CREATE TABLE records (
	entity_type TEXT NOT NULL,
	id TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT,
	fields TEXT,
	items TEXT,
	stage TEXT,
	parent_id TEXT,
	parent_type TEXT,
	synced_version INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_type, id)
);
`

// sync_operations is the pending queue. seq fixes the drain order: SQLite
// AUTOINCREMENT guarantees a strictly increasing value even across deletes,
// so FIFO order survives restarts.
const createSyncOperationsTable = `
CREATE TABLE sync_operations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload TEXT,
	enqueued_at TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);
`

// failed_operations is the dead-letter list for operations that exceeded the
// retry ceiling.
const createFailedOperationsTable = `
CREATE TABLE failed_operations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload TEXT,
	enqueued_at TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	failed_at TEXT NOT NULL
);
`

const createIndices = `
CREATE INDEX IF NOT EXISTS idx_records_parent ON records(parent_type, parent_id);
CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at);
CREATE INDEX IF NOT EXISTS idx_records_synced ON records(entity_type, synced_version);
CREATE INDEX IF NOT EXISTS idx_sync_operations_entity ON sync_operations(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_failed_operations_entity ON failed_operations(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_failed_operations_failed_at ON failed_operations(failed_at);
`
