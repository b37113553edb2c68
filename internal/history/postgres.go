package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS murmur_history (
    id          BIGSERIAL        PRIMARY KEY,
    created_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
    text        TEXT             NOT NULL,
    raw_text    TEXT             NOT NULL DEFAULT '',
    seconds     DOUBLE PRECISION NOT NULL DEFAULT 0,
    words       INTEGER          NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS murmur_stats (
    id          SMALLINT         PRIMARY KEY CHECK (id = 1),
    recordings  BIGINT           NOT NULL DEFAULT 0,
    words       BIGINT           NOT NULL DEFAULT 0,
    seconds     DOUBLE PRECISION NOT NULL DEFAULT 0,
    bytes       BIGINT           NOT NULL DEFAULT 0
);

INSERT INTO murmur_stats (id) VALUES (1) ON CONFLICT (id) DO NOTHING;
`

// Postgres stores history in PostgreSQL through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and applies the
// schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Add(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO murmur_history (created_at, text, raw_text, seconds, words) VALUES ($1, $2, $3, $4, $5)`,
		e.Time, e.Text, e.RawText, e.Seconds, e.Words)
	if err != nil {
		return fmt.Errorf("history: postgres: add: %w", err)
	}
	return nil
}

func (p *Postgres) Recent(ctx context.Context, n int) ([]Entry, error) {
	var limit any // NULL means no limit
	if n > 0 {
		limit = n
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, created_at, text, raw_text, seconds, words
		FROM murmur_history
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: query: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.Time, &e.Text, &e.RawText, &e.Seconds, &e.Words)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: postgres: scan: %w", err)
	}
	return out, nil
}

func (p *Postgres) Prune(ctx context.Context, keep int) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM murmur_history
		WHERE id NOT IN (SELECT id FROM murmur_history ORDER BY id DESC LIMIT $1)`, max(keep, 0))
	if err != nil {
		return fmt.Errorf("history: postgres: prune: %w", err)
	}
	return nil
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.pool.QueryRow(ctx,
		`SELECT recordings, words, seconds, bytes FROM murmur_stats WHERE id = 1`,
	).Scan(&st.Recordings, &st.Words, &st.Seconds, &st.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("history: postgres: stats: %w", err)
	}
	return st, nil
}

func (p *Postgres) RecordStats(ctx context.Context, d StatsDelta) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE murmur_stats SET
		    recordings = recordings + 1,
		    words      = words + $1,
		    seconds    = seconds + $2,
		    bytes      = bytes + $3
		WHERE id = 1`, d.Words, d.Seconds, d.Bytes)
	if err != nil {
		return fmt.Errorf("history: postgres: record stats: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
