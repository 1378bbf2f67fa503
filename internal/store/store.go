// Package store persists local listening history: which rooms were
// joined and which songs played while listening.
package store

import (
	"context"
	"time"
)

// Play is one observed song start.
type Play struct {
	ID        int64
	Room      string
	Title     string
	Artist    string
	Album     string
	DJ        string // username, empty when the room itself was playing
	StartedAt time.Time
}

// Store is the listening-history persistence surface. A nil Store
// disables history without changing session behavior.
type Store interface {
	// RecordPlay appends one song start to the history.
	RecordPlay(ctx context.Context, play Play) error
	// RecentPlays returns up to limit plays, newest first.
	RecentPlays(ctx context.Context, limit int) ([]Play, error)
	// SetLastRoom remembers the short name of the last joined room.
	SetLastRoom(ctx context.Context, shortName string) error
	// LastRoom returns the remembered room short name, or "" if none.
	LastRoom(ctx context.Context) (string, error)
	Close() error
}
