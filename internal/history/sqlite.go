package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a SQLite database, keeping at most
// capacity rows.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
}

func OpenSQLite(path string, capacity int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db, capacity: capacity}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS predictions (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  model TEXT NOT NULL,
  output TEXT NOT NULL,
  confidence REAL NOT NULL,
  latency_ms INTEGER NOT NULL,
  total_latency_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
`)
	return err
}

func (s *SQLiteStore) Add(ctx context.Context, e Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO predictions(id, model, output, confidence, latency_ms, total_latency_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Model, e.Output, e.Confidence, e.LatencyMS, e.TotalLatencyMS, e.CreatedAt.UnixNano())
	if err != nil {
		return err
	}

	if s.capacity > 0 {
		_, err = tx.ExecContext(ctx, `
DELETE FROM predictions WHERE seq NOT IN (
  SELECT seq FROM predictions ORDER BY seq DESC LIMIT ?
);
`, s.capacity)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, model, output, confidence, latency_ms, total_latency_ms, created_at
FROM predictions ORDER BY seq DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.Model, &e.Output, &e.Confidence, &e.LatencyMS, &e.TotalLatencyMS, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
