package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karpovdv/folio/internal/platform/asset"
)

// PriceRepository handles price history and refresh audit persistence
type PriceRepository struct {
	pool *pgxpool.Pool
}

var _ asset.PriceRepository = (*PriceRepository)(nil)

// NewPriceRepository creates a new PostgreSQL price repository
func NewPriceRepository(pool *pgxpool.Pool) *PriceRepository {
	return &PriceRepository{pool: pool}
}

// BulkInsert writes points for one asset in a single batched round
// trip. Duplicates of existing (asset_id, timestamp) pairs are skipped
// via ON CONFLICT DO NOTHING, which makes re-running a backfill window
// idempotent. Returns how many rows landed and how many were skipped.
func (r *PriceRepository) BulkInsert(ctx context.Context, assetID int64, points []asset.PricePoint) (int, int, error) {
	if len(points) == 0 {
		return 0, 0, nil
	}

	for i := range points {
		if err := points[i].Validate(); err != nil {
			return 0, 0, fmt.Errorf("invalid price point at %s: %w", points[i].Time.Format(time.RFC3339), err)
		}
	}

	query := `
		INSERT INTO asset_prices (asset_id, timestamp, open, high, low, close, volume, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (asset_id, timestamp) DO NOTHING
	`

	batch := &pgx.Batch{}
	for i := range points {
		p := &points[i]
		batch.Queue(query,
			assetID,
			p.Time,
			bigIntArg(p.Open),
			bigIntArg(p.High),
			bigIntArg(p.Low),
			p.Close.String(),
			p.Volume,
			p.Source,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted, skipped := 0, 0
	for range points {
		tag, err := results.Exec()
		if err != nil {
			return inserted, skipped, fmt.Errorf("failed to bulk insert prices: %w", err)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		} else {
			skipped++
		}
	}

	return inserted, skipped, nil
}

// LatestClose retrieves the newest stored point for an asset
func (r *PriceRepository) LatestClose(ctx context.Context, assetID int64) (*asset.PricePoint, error) {
	query := `
		SELECT asset_id, timestamp, open, high, low, close, volume, source
		FROM asset_prices
		WHERE asset_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	p, err := scanPricePoint(r.pool.QueryRow(ctx, query, assetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, asset.ErrNoPriceData
		}
		return nil, fmt.Errorf("failed to get latest close: %w", err)
	}
	return p, nil
}

// HasCoverage reports whether at least one point exists for the asset
// inside [from, to]
func (r *PriceRepository) HasCoverage(ctx context.Context, assetID int64, from, to time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM asset_prices
			WHERE asset_id = $1 AND timestamp >= $2 AND timestamp <= $3
		)
	`

	var covered bool
	if err := r.pool.QueryRow(ctx, query, assetID, from, to).Scan(&covered); err != nil {
		return false, fmt.Errorf("failed to check price coverage: %w", err)
	}
	return covered, nil
}

// RecordUpdate appends one audit row for a refresh attempt
func (r *PriceRepository) RecordUpdate(ctx context.Context, rec *asset.UpdateRecord) error {
	query := `
		INSERT INTO price_update_log (asset_id, timestamp, price, success, error_message, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		rec.AssetID,
		rec.Time,
		bigIntArg(rec.Price),
		rec.Success,
		rec.ErrMessage,
		rec.DurationMS,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record price update: %w", err)
	}
	return nil
}

// RecentUpdates retrieves the newest audit rows joined with catalog
// identity, newest first
func (r *PriceRepository) RecentUpdates(ctx context.Context, limit int) ([]asset.UpdateView, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT u.id, u.asset_id, u.timestamp, u.price, u.success, u.error_message, u.duration_ms,
		       a.symbol, a.name
		FROM price_update_log u
		JOIN assets a ON a.id = u.asset_id
		ORDER BY u.timestamp DESC, u.id DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent updates: %w", err)
	}
	defer rows.Close()

	var views []asset.UpdateView
	for rows.Next() {
		var v asset.UpdateView
		var priceStr *string

		err := rows.Scan(
			&v.ID,
			&v.AssetID,
			&v.Time,
			&priceStr,
			&v.Success,
			&v.ErrMessage,
			&v.DurationMS,
			&v.Symbol,
			&v.Name,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan update row: %w", err)
		}

		if priceStr != nil {
			v.Price, _ = new(big.Int).SetString(*priceStr, 10)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating update rows: %w", err)
	}
	return views, nil
}

// LastUpdateAt retrieves the timestamp of the newest audit row, nil
// when no attempt has been recorded yet
func (r *PriceRepository) LastUpdateAt(ctx context.Context) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT timestamp FROM price_update_log ORDER BY timestamp DESC, id DESC LIMIT 1`,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last update time: %w", err)
	}
	return &at, nil
}

// scanPricePoint scans a single row into a PricePoint
func scanPricePoint(row pgx.Row) (*asset.PricePoint, error) {
	var p asset.PricePoint
	var openStr, highStr, lowStr *string
	var closeStr string

	err := row.Scan(
		&p.AssetID,
		&p.Time,
		&openStr,
		&highStr,
		&lowStr,
		&closeStr,
		&p.Volume,
		&p.Source,
	)
	if err != nil {
		return nil, err
	}

	p.Close, _ = new(big.Int).SetString(closeStr, 10)
	if openStr != nil {
		p.Open, _ = new(big.Int).SetString(*openStr, 10)
	}
	if highStr != nil {
		p.High, _ = new(big.Int).SetString(*highStr, 10)
	}
	if lowStr != nil {
		p.Low, _ = new(big.Int).SetString(*lowStr, 10)
	}
	return &p, nil
}

// bigIntArg converts an optional big.Int to a nullable NUMERIC argument
func bigIntArg(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
