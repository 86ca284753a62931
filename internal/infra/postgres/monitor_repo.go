package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karpovdv/folio/internal/platform/monitor"
)

// LogRepository persists fetcher log entries
type LogRepository struct {
	pool *pgxpool.Pool
}

var _ monitor.LogStore = (*LogRepository)(nil)

// NewLogRepository creates a new PostgreSQL log repository
func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Write appends one log entry
func (r *LogRepository) Write(ctx context.Context, e *monitor.Entry) error {
	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal log context: %w", err)
	}

	query := `
		INSERT INTO fetcher_logs (timestamp, level, message, context)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	if err := r.pool.QueryRow(ctx, query, at, string(e.Level), e.Message, contextJSON).Scan(&e.ID); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// List retrieves entries newest first, optionally filtered by
// severity, along with the total row count for the filter
func (r *LogRepository) List(ctx context.Context, limit, offset int, level *monitor.Level) ([]monitor.Entry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []interface{}{}
	if level != nil {
		where = "WHERE level = $1"
		args = append(args, string(*level))
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM fetcher_logs " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count log entries: %w", err)
	}

	pageQuery := fmt.Sprintf(`
		SELECT id, timestamp, level, message, context
		FROM fetcher_logs %s
		ORDER BY timestamp DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []monitor.Entry
	for rows.Next() {
		var e monitor.Entry
		var levelStr string
		var contextJSON []byte

		if err := rows.Scan(&e.ID, &e.Time, &levelStr, &e.Message, &contextJSON); err != nil {
			return nil, 0, fmt.Errorf("failed to scan log entry: %w", err)
		}

		e.Level = monitor.Level(levelStr)
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal log context: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating log entries: %w", err)
	}
	return entries, total, nil
}

// PurgeOlderThan deletes entries older than the cutoff and reports how
// many rows went away
func (r *LogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM fetcher_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge log entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// StatsRepository persists statistics snapshots
type StatsRepository struct {
	pool *pgxpool.Pool
}

var _ monitor.SnapshotStore = (*StatsRepository)(nil)

// NewStatsRepository creates a new PostgreSQL statistics repository
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// Insert appends one snapshot row
func (r *StatsRepository) Insert(ctx context.Context, s *monitor.Snapshot) error {
	query := `
		INSERT INTO fetcher_statistics
			(timestamp, uptime_seconds, total_cycles, successful_cycles, failed_cycles,
			 success_rate, average_cycle_duration, assets_tracked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	at := s.Time
	if at.IsZero() {
		at = time.Now()
	}

	err := r.pool.QueryRow(ctx, query,
		at,
		s.UptimeSeconds,
		s.TotalCycles,
		s.SuccessfulCycles,
		s.FailedCycles,
		s.SuccessRate,
		s.AvgCycleSeconds,
		s.AssetsTracked,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert statistics snapshot: %w", err)
	}
	return nil
}

// Latest retrieves the newest snapshot, nil when none exists
func (r *StatsRepository) Latest(ctx context.Context) (*monitor.Snapshot, error) {
	query := `
		SELECT id, timestamp, uptime_seconds, total_cycles, successful_cycles, failed_cycles,
		       success_rate, average_cycle_duration, assets_tracked
		FROM fetcher_statistics
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	var s monitor.Snapshot
	err := r.pool.QueryRow(ctx, query).Scan(
		&s.ID,
		&s.Time,
		&s.UptimeSeconds,
		&s.TotalCycles,
		&s.SuccessfulCycles,
		&s.FailedCycles,
		&s.SuccessRate,
		&s.AvgCycleSeconds,
		&s.AssetsTracked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &s, nil
}
