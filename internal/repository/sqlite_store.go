package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"search-agent/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	identity     TEXT PRIMARY KEY,
	conversation TEXT NOT NULL,
	answers      TEXT NOT NULL,
	version      INTEGER NOT NULL,
	updated_at   TEXT NOT NULL
)`

// SQLiteStore keeps sessions in a local SQLite database. It backs the local
// server binary; the Lambda deployment uses Client.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and applies the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("repository: sqlite pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("repository: sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get loads the session for id, creating an empty one on first access.
func (s *SQLiteStore) Get(ctx context.Context, id domain.Identity) (domain.Session, error) {
	if err := validIdentity(id); err != nil {
		return domain.Session{}, err
	}
	conversation, answers, err := encodeSession(newEmptySession())
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (identity, conversation, answers, version, updated_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(identity) DO NOTHING`,
		string(id), conversation, answers, s.timestamp(),
	)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get create: %w", err)
	}

	var version int64
	err = s.db.QueryRowContext(ctx,
		`SELECT conversation, answers, version FROM sessions WHERE identity = ?`,
		string(id),
	).Scan(&conversation, &answers, &version)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get select: %w", err)
	}
	session, err := decodeSession(conversation, answers, version)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get: %w", err)
	}
	return session, nil
}

// Put overwrites the session if its version is unchanged since load.
func (s *SQLiteStore) Put(ctx context.Context, id domain.Identity, session domain.Session) error {
	if err := validIdentity(id); err != nil {
		return err
	}
	conversation, answers, err := encodeSession(session)
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET conversation = ?, answers = ?, version = version + 1, updated_at = ?
		 WHERE identity = ? AND version = ?`,
		conversation, answers, s.timestamp(), string(id), session.Version,
	)
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: Put rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: Put: %w", ErrVersionConflict)
	}
	return nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
