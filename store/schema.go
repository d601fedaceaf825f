package store

import "database/sql"

// Schema contains the DDL for the search log. Call Init(db) to apply it,
// or use this constant in your own schema management.
const Schema = `
CREATE TABLE IF NOT EXISTS searches (
    search_id   TEXT PRIMARY KEY,
    timestamp   INTEGER NOT NULL,
    first_name  TEXT NOT NULL,
    last_name   TEXT NOT NULL,
    city        TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL DEFAULT '',
    use_solver  INTEGER NOT NULL DEFAULT 0,
    solver_used INTEGER NOT NULL DEFAULT 0,
    success     INTEGER NOT NULL,
    results     INTEGER NOT NULL DEFAULT 0,
    total       REAL NOT NULL DEFAULT 0,
    pass        TEXT,
    kind        TEXT,
    error       TEXT,
    retryable   INTEGER NOT NULL DEFAULT 0,
    attempts    INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_searches_timestamp ON searches(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_searches_kind ON searches(kind, timestamp DESC);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
