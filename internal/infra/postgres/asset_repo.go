package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karpovdv/folio/internal/platform/asset"
)

// AssetRepository handles catalog persistence operations
type AssetRepository struct {
	pool *pgxpool.Pool
}

var _ asset.Repository = (*AssetRepository)(nil)

// NewAssetRepository creates a new PostgreSQL asset repository
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepository {
	return &AssetRepository{pool: pool}
}

// GetByID retrieves an asset by its identity
func (r *AssetRepository) GetByID(ctx context.Context, id int64) (*asset.Asset, error) {
	query := `
		SELECT id, symbol, name, asset_type, exchange, native_currency, is_active, created_at, updated_at
		FROM assets
		WHERE id = $1
	`

	a, err := r.scanAsset(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, asset.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return a, nil
}

// GetBySymbol retrieves an asset by exchange and symbol. Symbols are
// matched case-insensitively; the exchange must match exactly.
func (r *AssetRepository) GetBySymbol(ctx context.Context, exchange, symbol string) (*asset.Asset, error) {
	query := `
		SELECT id, symbol, name, asset_type, exchange, native_currency, is_active, created_at, updated_at
		FROM assets
		WHERE exchange = $1 AND lower(symbol) = lower($2)
	`

	a, err := r.scanAsset(r.pool.QueryRow(ctx, query, exchange, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, asset.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset by symbol: %w", err)
	}

	return a, nil
}

// Upsert registers an asset or returns the existing row for the same
// (exchange, symbol) pair. Uses INSERT...ON CONFLICT DO NOTHING plus a
// follow-up SELECT so concurrent registrations converge on one row.
func (r *AssetRepository) Upsert(ctx context.Context, d *asset.Descriptor) (*asset.Asset, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid asset descriptor: %w", err)
	}

	insertQuery := `
		INSERT INTO assets (symbol, name, asset_type, exchange, native_currency, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, now(), now())
		ON CONFLICT (exchange, lower(symbol)) DO NOTHING
	`

	currency := d.Currency
	if currency == "" {
		currency = "USD"
	}

	_, err := r.pool.Exec(ctx, insertQuery,
		d.Symbol,
		d.Name,
		string(d.Class),
		d.Exchange,
		currency,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset: %w", err)
	}

	// Always SELECT to get the canonical row (ours or existing)
	return r.GetBySymbol(ctx, d.Exchange, d.Symbol)
}

// scanAsset scans a single row into an Asset
func (r *AssetRepository) scanAsset(row pgx.Row) (*asset.Asset, error) {
	var a asset.Asset
	var class string

	err := row.Scan(
		&a.ID,
		&a.Symbol,
		&a.Name,
		&class,
		&a.Exchange,
		&a.Currency,
		&a.IsActive,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Class = asset.Class(class)
	return &a, nil
}
