package database

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/TobiSchelling/topicheat/internal/topic"
)

// SQLiteStore keeps daily records in a SQLite database.
type SQLiteStore struct {
	conn   *sql.DB
	path   string
	logger *zerolog.Logger
}

// OpenSQLite creates or opens a SQLite accumulator at the given path.
func OpenSQLite(dbPath string, logger *zerolog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "creating data directory")
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "opening database")
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "setting journal mode")
	}

	if err := migrate(conn, logger); err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "migrating schema")
	}

	return &SQLiteStore{conn: conn, path: dbPath, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Append numbers and inserts clusters in one transaction.
func (s *SQLiteStore) Append(clusters []topic.DailyCluster) ([]topic.DailyRecord, error) {
	if len(clusters) == 0 {
		return nil, nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, eris.Wrap(err, "begin append")
	}
	defer tx.Rollback()

	var maxIdx int
	if err := tx.QueryRow("SELECT COALESCE(MAX(idx), 0) FROM daily_clusters").Scan(&maxIdx); err != nil {
		return nil, eris.Wrap(err, "reading max idx")
	}
	perDate, err := countPerDate(tx)
	if err != nil {
		return nil, err
	}

	records := stamp(clusters, maxIdx, perDate)
	stmt, err := tx.Prepare(`INSERT INTO daily_clusters
		(idx, daily_top_id, run_id, date, topic_title, heat_score, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "preparing insert")
	}
	defer stmt.Close()

	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return nil, eris.Wrapf(err, "encoding record %s", r.DailyTopID)
		}
		if _, err := stmt.Exec(r.Idx, r.DailyTopID, r.RunID, r.Date, r.TopicTitle, r.HeatScore, string(body)); err != nil {
			return nil, eris.Wrapf(err, "inserting record %s", r.DailyTopID)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "commit append")
	}
	s.logger.Info().Int("records", len(records)).Str("run_id", records[0].RunID).Str("path", s.path).Msg("appended daily records")
	return records, nil
}

func countPerDate(tx *sql.Tx) (map[string]int, error) {
	rows, err := tx.Query("SELECT date, COUNT(*) FROM daily_clusters GROUP BY date")
	if err != nil {
		return nil, eris.Wrap(err, "counting records per date")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var date string
		var n int
		if err := rows.Scan(&date, &n); err != nil {
			return nil, eris.Wrap(err, "scanning date count")
		}
		out[date] = n
	}
	return out, rows.Err()
}

// ReadAll returns every record in idx order. Rows whose body does not decode
// are skipped and logged.
func (s *SQLiteStore) ReadAll() ([]topic.DailyRecord, error) {
	rows, err := s.conn.Query("SELECT idx, body FROM daily_clusters ORDER BY idx")
	if err != nil {
		return nil, eris.Wrap(err, "querying daily clusters")
	}
	defer rows.Close()

	var out []topic.DailyRecord
	for rows.Next() {
		var idx int
		var body string
		if err := rows.Scan(&idx, &body); err != nil {
			return nil, eris.Wrap(err, "scanning daily cluster")
		}
		var rec topic.DailyRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			s.logger.Warn().Err(err).Int("idx", idx).Msg("skipping undecodable record")
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
