package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karpovdv/folio/internal/platform/backfill"
)

const jobColumns = `id, asset_id, start_date, end_date, status, attempts, max_attempts,
	throttle_count, retry_after, error_message, created_at, updated_at, completed_at`

// BackfillRepository is the durable job queue. Jobs survive restarts;
// claiming uses row locks so concurrent workers never double-process.
type BackfillRepository struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

var _ backfill.Queue = (*BackfillRepository)(nil)

// NewBackfillRepository creates a new PostgreSQL backfill queue
func NewBackfillRepository(pool *pgxpool.Pool) *BackfillRepository {
	return &BackfillRepository{pool: pool, maxAttempts: backfill.DefaultMaxAttempts}
}

// WithMaxAttempts overrides the retry ceiling stamped on new jobs.
// Existing rows keep the ceiling they were created with.
func (r *BackfillRepository) WithMaxAttempts(n int) *BackfillRepository {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// Enqueue creates a pending job for the asset, or widens the window of
// an existing open job for the same asset instead of inserting a
// duplicate. The lookup and the write happen in one transaction with
// the open row locked, so concurrent enqueues for the same asset
// serialize instead of racing.
func (r *BackfillRepository) Enqueue(ctx context.Context, assetID int64, start, end time.Time) (*backfill.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	findQuery := `
		SELECT ` + jobColumns + `
		FROM backfill_queue
		WHERE asset_id = $1 AND status IN ('pending', 'in_progress', 'rate_limited')
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`

	var job *backfill.Job
	existing, err := scanJob(tx.QueryRow(ctx, findQuery, assetID))
	switch {
	case err == nil:
		widenQuery := `
			UPDATE backfill_queue
			SET start_date = LEAST(start_date, $2::date),
			    end_date = GREATEST(end_date, $3::date),
			    updated_at = now()
			WHERE id = $1
			RETURNING ` + jobColumns

		job, err = scanJob(tx.QueryRow(ctx, widenQuery, existing.ID, start, end))
		if err != nil {
			return nil, fmt.Errorf("failed to widen backfill job %d: %w", existing.ID, err)
		}

	case errors.Is(err, pgx.ErrNoRows):
		insertQuery := `
			INSERT INTO backfill_queue (asset_id, start_date, end_date, status, attempts, max_attempts, throttle_count, created_at, updated_at)
			VALUES ($1, $2::date, $3::date, 'pending', 0, $4, 0, now(), now())
			RETURNING ` + jobColumns

		job, err = scanJob(tx.QueryRow(ctx, insertQuery, assetID, start, end, r.maxAttempts))
		if err != nil {
			return nil, fmt.Errorf("failed to insert backfill job: %w", err)
		}

	default:
		return nil, fmt.Errorf("failed to look up open backfill job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue: %w", err)
	}
	return job, nil
}

// ClaimNext claims the oldest eligible job in a single statement.
// FOR UPDATE SKIP LOCKED makes concurrent claims race-free: a row
// locked by another worker is invisible instead of blocking.
func (r *BackfillRepository) ClaimNext(ctx context.Context) (*backfill.Job, error) {
	query := `
		UPDATE backfill_queue
		SET status = 'in_progress', updated_at = now()
		WHERE id = (
			SELECT id FROM backfill_queue
			WHERE status IN ('pending', 'rate_limited')
			  AND (retry_after IS NULL OR retry_after <= now())
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backfill.ErrNoJobs
		}
		return nil, fmt.Errorf("failed to claim backfill job: %w", err)
	}
	return job, nil
}

// Update persists the job's mutable fields
func (r *BackfillRepository) Update(ctx context.Context, job *backfill.Job) error {
	query := `
		UPDATE backfill_queue
		SET start_date = $2::date,
		    end_date = $3::date,
		    status = $4,
		    attempts = $5,
		    max_attempts = $6,
		    throttle_count = $7,
		    retry_after = $8,
		    error_message = $9,
		    updated_at = $10,
		    completed_at = $11
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.StartDate,
		job.EndDate,
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		job.ThrottleCount,
		job.RetryAfter,
		job.LastError,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update backfill job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return backfill.ErrJobNotFound
	}
	return nil
}

// Get retrieves a job by ID
func (r *BackfillRepository) Get(ctx context.Context, id int64) (*backfill.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM backfill_queue WHERE id = $1`

	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backfill.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get backfill job %d: %w", id, err)
	}
	return job, nil
}

// ListOpen retrieves all non-terminal jobs, oldest first
func (r *BackfillRepository) ListOpen(ctx context.Context) ([]backfill.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM backfill_queue
		WHERE status IN ('pending', 'in_progress', 'rate_limited')
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open backfill jobs: %w", err)
	}
	defer rows.Close()

	var jobs []backfill.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backfill job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backfill jobs: %w", err)
	}
	return jobs, nil
}

// CountByStatus counts jobs per status
func (r *BackfillRepository) CountByStatus(ctx context.Context) (map[backfill.Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM backfill_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count backfill jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[backfill.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[backfill.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// ResetStuck returns crash leftovers (in_progress rows) to pending.
// Called once at startup before workers begin claiming.
func (r *BackfillRepository) ResetStuck(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE backfill_queue SET status = 'pending', updated_at = now() WHERE status = 'in_progress'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck backfill jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanJob scans one queue row into a Job
func scanJob(row pgx.Row) (*backfill.Job, error) {
	var job backfill.Job
	var status string

	err := row.Scan(
		&job.ID,
		&job.AssetID,
		&job.StartDate,
		&job.EndDate,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ThrottleCount,
		&job.RetryAfter,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = backfill.Status(status)
	return &job, nil
}
