package store

import "database/sql"

// AUTOINCREMENT on samples.seq matters: sqlite then guarantees new
// sequences are strictly greater than any ever assigned, even across
// deletes, which is the contract cursor-based delivery relies on.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS samples (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		source TEXT NOT NULL,
		entity_path TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_source_seq ON samples(source, seq);
	CREATE INDEX IF NOT EXISTS idx_samples_source_ts ON samples(source, timestamp);`,

	`CREATE TABLE IF NOT EXISTS entity_metadata (
		source TEXT NOT NULL,
		entity_path TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated INTEGER NOT NULL,
		PRIMARY KEY (source, entity_path, key)
	);`,
}

func runMigrations(db *sql.DB) error {
	// Create migration tracking table
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
