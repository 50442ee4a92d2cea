// Package store persists a recorder's byte stream to SQLite for later
// replay, wiring modernc.org/sqlite (a pure-Go driver, no cgo) the way
// trace.Store wires it for SQL tracing: a Schema constant plus plain
// database/sql queries, no ORM.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "modernc.org/sqlite"
)

// Schema for the chunks table. A session's recorded bytes are split
// across however many Write calls its io.Writer happened to receive;
// Store makes no assumption that a chunk lines up with a wire.Frame
// boundary — reconstruction just concatenates chunks back in insertion
// order, which round-trips the exact byte stream regardless.
const Schema = `
CREATE TABLE IF NOT EXISTS chunks (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	data       BLOB NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// Store is a SQLite-backed append-only log of recorded byte chunks.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) a SQLite database at path and applies
// Schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the chunks table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	if err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Writer returns an io.Writer that appends every Write call's bytes as
// one more chunk row for sessionID, in call order. Pass it to
// io.MultiWriter alongside a recorder's primary sink to tee a session
// into SQLite without changing how the primary sink is written.
func (s *Store) Writer(sessionID string) io.Writer {
	return &sessionWriter{store: s, sessionID: sessionID}
}

type sessionWriter struct {
	store     *Store
	sessionID string
	seq       int
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	if _, err := w.store.db.Exec(
		`INSERT INTO chunks (session_id, seq, data) VALUES (?, ?, ?)`,
		w.sessionID, w.seq, buf,
	); err != nil {
		return 0, fmt.Errorf("store: append chunk: %w", err)
	}
	w.seq++
	return len(p), nil
}

// Reader reconstructs sessionID's full byte stream by concatenating its
// chunks in insertion order.
func (s *Store) Reader(ctx context.Context, sessionID string) (io.Reader, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM chunks WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: query chunks: %w", err)
	}
	defer rows.Close()

	var readers []io.Reader
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scan chunk: %w", err)
		}
		readers = append(readers, bytes.NewReader(data))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate chunks: %w", err)
	}
	if len(readers) == 0 {
		return nil, fmt.Errorf("store: no session %q", sessionID)
	}
	return io.MultiReader(readers...), nil
}

// Sessions lists distinct session ids with at least one recorded chunk.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM chunks ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
