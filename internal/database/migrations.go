package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "daily cluster accumulator",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS daily_clusters (
    idx INTEGER PRIMARY KEY,
    daily_top_id TEXT UNIQUE NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    date TEXT NOT NULL,
    topic_title TEXT NOT NULL,
    heat_score REAL NOT NULL DEFAULT 0,
    body TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_daily_clusters_date ON daily_clusters(date);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index runs",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_daily_clusters_run ON daily_clusters(date, run_id);`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
