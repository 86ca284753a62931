package backfill

import (
	"context"
	"time"
)

// Queue defines the interface for the durable job queue. Claiming is
// transactional: two concurrent workers never receive the same job.
type Queue interface {
	// Enqueue creates a pending job for the asset, or widens the
	// window of an existing open job for the same asset instead of
	// inserting a duplicate
	Enqueue(ctx context.Context, assetID int64, start, end time.Time) (*Job, error)

	// ClaimNext claims the oldest eligible job (pending or
	// rate_limited, retry_after elapsed) and returns it in
	// in_progress state. Returns ErrNoJobs when nothing is eligible.
	ClaimNext(ctx context.Context) (*Job, error)

	// Update persists the job's mutable fields
	Update(ctx context.Context, job *Job) error

	// Get retrieves a job by ID
	Get(ctx context.Context, id int64) (*Job, error)

	// ListOpen retrieves all non-terminal jobs, oldest first
	ListOpen(ctx context.Context) ([]Job, error)

	// CountByStatus counts jobs per status
	CountByStatus(ctx context.Context) (map[Status]int, error)

	// ResetStuck returns crash leftovers (in_progress rows) to
	// pending. Called once at startup before workers begin claiming.
	ResetStuck(ctx context.Context) (int, error)
}
