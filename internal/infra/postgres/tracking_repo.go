package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karpovdv/folio/internal/platform/asset"
)

// TrackingRepository handles the reference-counted tracking registry.
// Counter updates are single atomic statements so concurrent track and
// untrack calls can never lose an increment.
type TrackingRepository struct {
	pool *pgxpool.Pool
}

var _ asset.TrackingRepository = (*TrackingRepository)(nil)

// NewTrackingRepository creates a new PostgreSQL tracking repository
func NewTrackingRepository(pool *pgxpool.Pool) *TrackingRepository {
	return &TrackingRepository{pool: pool}
}

// Increment bumps the holder count for an asset, creating the registry
// row on first track. Returns the new count.
func (r *TrackingRepository) Increment(ctx context.Context, assetID int64) (int, error) {
	query := `
		INSERT INTO tracked_assets (asset_id, tracking_users, first_tracked_at, last_tracked_at)
		VALUES ($1, 1, now(), now())
		ON CONFLICT (asset_id) DO UPDATE SET
			tracking_users = tracked_assets.tracking_users + 1,
			last_tracked_at = now()
		RETURNING tracking_users
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, assetID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment tracking count: %w", err)
	}
	return count, nil
}

// Decrement lowers the holder count, clamped at zero. The registry row
// survives at zero so tracking history is preserved. Decrementing an
// asset that was never tracked is a no-op returning zero.
func (r *TrackingRepository) Decrement(ctx context.Context, assetID int64) (int, error) {
	query := `
		UPDATE tracked_assets
		SET tracking_users = GREATEST(tracking_users - 1, 0),
		    last_tracked_at = now()
		WHERE asset_id = $1
		RETURNING tracking_users
	`

	var count int
	err := r.pool.QueryRow(ctx, query, assetID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to decrement tracking count: %w", err)
	}
	return count, nil
}

// Get retrieves a single registry row
func (r *TrackingRepository) Get(ctx context.Context, assetID int64) (*asset.TrackedAsset, error) {
	query := `
		SELECT t.asset_id, a.symbol, t.tracking_users, t.first_tracked_at, t.last_tracked_at, t.last_price_update
		FROM tracked_assets t
		JOIN assets a ON a.id = t.asset_id
		WHERE t.asset_id = $1
	`

	ta, err := scanTrackedAsset(r.pool.QueryRow(ctx, query, assetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, asset.ErrNotTracked
		}
		return nil, fmt.Errorf("failed to get tracked asset: %w", err)
	}
	return ta, nil
}

// ListActive retrieves the refresh set: every asset with at least one
// holder, ordered by asset identity
func (r *TrackingRepository) ListActive(ctx context.Context) ([]asset.TrackedAsset, error) {
	query := `
		SELECT t.asset_id, a.symbol, t.tracking_users, t.first_tracked_at, t.last_tracked_at, t.last_price_update
		FROM tracked_assets t
		JOIN assets a ON a.id = t.asset_id
		WHERE t.tracking_users > 0
		ORDER BY t.asset_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh set: %w", err)
	}
	defer rows.Close()

	var tracked []asset.TrackedAsset
	for rows.Next() {
		ta, err := scanTrackedAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked asset: %w", err)
		}
		tracked = append(tracked, *ta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracked assets: %w", err)
	}
	return tracked, nil
}

// CountActive counts the refresh set
func (r *TrackingRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tracked_assets WHERE tracking_users > 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tracked assets: %w", err)
	}
	return count, nil
}

// SetLastRefresh stamps the most recent successful refresh
func (r *TrackingRepository) SetLastRefresh(ctx context.Context, assetID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tracked_assets SET last_price_update = $2 WHERE asset_id = $1`,
		assetID, at)
	if err != nil {
		return fmt.Errorf("failed to stamp last refresh: %w", err)
	}
	return nil
}

// scanTrackedAsset scans one registry row joined with catalog identity
func scanTrackedAsset(row pgx.Row) (*asset.TrackedAsset, error) {
	var ta asset.TrackedAsset
	err := row.Scan(
		&ta.AssetID,
		&ta.Symbol,
		&ta.Holders,
		&ta.FirstTrackedAt,
		&ta.LastTrackedAt,
		&ta.LastRefreshAt,
	)
	if err != nil {
		return nil, err
	}
	return &ta, nil
}
