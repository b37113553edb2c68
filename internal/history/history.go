// Package history keeps the most recent dictations and running usage
// statistics.
//
// Two durable backends exist: SQLite through the pure-Go modernc driver for
// single-user desktops, and PostgreSQL through a pgx pool for shared
// deployments. [Memory] backs tests and the "memory" backend.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultLimit is how many entries are kept when nothing is configured.
const DefaultLimit = 5

// Backend names accepted by [Open].
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("history: unknown backend")

// Entry is one finished dictation.
type Entry struct {
	ID      int64     `json:"id"`
	Time    time.Time `json:"time"`
	Text    string    `json:"text"`
	RawText string    `json:"raw_text,omitempty"`
	Seconds float64   `json:"seconds"`
	Words   int       `json:"words"`
}

// Stats are the totals over every recording ever processed, including
// those pruned from the history.
type Stats struct {
	Recordings int64   `json:"recordings"`
	Words      int64   `json:"words"`
	Seconds    float64 `json:"seconds"`
	Bytes      int64   `json:"bytes"`
}

// StatsDelta is one recording's contribution to [Stats].
type StatsDelta struct {
	Words   int64
	Seconds float64
	Bytes   int64
}

// Store persists history entries and statistics. Implementations are safe
// for concurrent use.
type Store interface {
	// Add appends e. A zero Time is set to now.
	Add(ctx context.Context, e Entry) error

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)

	// Prune deletes all but the newest keep entries. keep <= 0 empties the
	// history.
	Prune(ctx context.Context, keep int) error

	// Stats returns the running totals.
	Stats(ctx context.Context) (Stats, error)

	// RecordStats adds one recording to the totals.
	RecordStats(ctx context.Context, d StatsDelta) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Open connects to the named backend. dsn is a file path for sqlite and a
// connection string for postgres; it is ignored for memory.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, dsn)
	case BackendPostgres:
		return OpenPostgres(ctx, dsn)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
