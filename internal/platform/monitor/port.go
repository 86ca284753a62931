package monitor

import (
	"context"
	"time"
)

// LogStore defines the interface for persisted fetcher logs
type LogStore interface {
	// Write appends one log entry
	Write(ctx context.Context, e *Entry) error

	// List retrieves entries newest first, optionally filtered by
	// severity, along with the total row count for the filter
	List(ctx context.Context, limit, offset int, level *Level) ([]Entry, int64, error)

	// PurgeOlderThan deletes entries older than the cutoff and
	// reports how many rows went away
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SnapshotStore defines the interface for persisted statistics
type SnapshotStore interface {
	// Insert appends one snapshot row
	Insert(ctx context.Context, s *Snapshot) error

	// Latest retrieves the newest snapshot, nil when none exists
	Latest(ctx context.Context) (*Snapshot, error)
}
