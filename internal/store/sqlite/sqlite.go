// Package sqlite implements store.Store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soundbooth/djcast/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS plays (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room       TEXT NOT NULL,
	title      TEXT NOT NULL,
	artist     TEXT NOT NULL,
	album      TEXT NOT NULL DEFAULT '',
	dj         TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens (and if needed creates) the history database at dbPath.
// ":memory:" is accepted for tests.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordPlay appends one song start to the history.
func (s *SQLiteStore) RecordPlay(ctx context.Context, play store.Play) error {
	query := `
		INSERT INTO plays (room, title, artist, album, dj, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		play.Room, play.Title, play.Artist, play.Album, play.DJ, play.StartedAt)
	if err != nil {
		return fmt.Errorf("record play: %w", err)
	}
	return nil
}

// RecentPlays returns up to limit plays, newest first.
func (s *SQLiteStore) RecentPlays(ctx context.Context, limit int) ([]store.Play, error) {
	query := `
		SELECT id, room, title, artist, album, dj, started_at
		FROM plays
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}
	defer rows.Close()

	var plays []store.Play
	for rows.Next() {
		var p store.Play
		if err := rows.Scan(&p.ID, &p.Room, &p.Title, &p.Artist, &p.Album, &p.DJ, &p.StartedAt); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		plays = append(plays, p)
	}
	return plays, rows.Err()
}

// SetLastRoom remembers the short name of the last joined room.
func (s *SQLiteStore) SetLastRoom(ctx context.Context, shortName string) error {
	query := `
		INSERT INTO settings (key, value) VALUES ('last_room', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, shortName); err != nil {
		return fmt.Errorf("set last room: %w", err)
	}
	return nil
}

// LastRoom returns the remembered room short name, or "" if none.
func (s *SQLiteStore) LastRoom(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'last_room'`).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get last room: %w", err)
	}
	return value, nil
}
