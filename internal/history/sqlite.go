package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at  INTEGER NOT NULL,
	text        TEXT    NOT NULL,
	raw_text    TEXT    NOT NULL DEFAULT '',
	seconds     REAL    NOT NULL DEFAULT 0,
	words       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stats (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	recordings  INTEGER NOT NULL DEFAULT 0,
	words       INTEGER NOT NULL DEFAULT 0,
	seconds     REAL    NOT NULL DEFAULT 0,
	bytes       INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO stats (id) VALUES (1);
`

// SQLite stores history in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path in WAL mode and applies
// the schema. path ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("history: sqlite: empty path")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("history: sqlite: create dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite: open: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY and makes
	// ":memory:" a single shared database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: sqlite: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Add(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (created_at, text, raw_text, seconds, words) VALUES (?, ?, ?, ?, ?)`,
		e.Time.UnixMilli(), e.Text, e.RawText, e.Seconds, e.Words)
	if err != nil {
		return fmt.Errorf("history: sqlite: add: %w", err)
	}
	return nil
}

func (s *SQLite) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, text, raw_text, seconds, words
		FROM history
		ORDER BY id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.ID, &ms, &e.Text, &e.RawText, &e.Seconds, &e.Words); err != nil {
			return nil, fmt.Errorf("history: sqlite: scan: %w", err)
		}
		e.Time = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Prune(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM history
		WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)`, max(keep, 0))
	if err != nil {
		return fmt.Errorf("history: sqlite: prune: %w", err)
	}
	return nil
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT recordings, words, seconds, bytes FROM stats WHERE id = 1`,
	).Scan(&st.Recordings, &st.Words, &st.Seconds, &st.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("history: sqlite: stats: %w", err)
	}
	return st, nil
}

func (s *SQLite) RecordStats(ctx context.Context, d StatsDelta) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stats SET
			recordings = recordings + 1,
			words      = words + ?,
			seconds    = seconds + ?,
			bytes      = bytes + ?
		WHERE id = 1`, d.Words, d.Seconds, d.Bytes)
	if err != nil {
		return fmt.Errorf("history: sqlite: record stats: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() error { return s.db.Close() }

var _ Store = (*SQLite)(nil)
