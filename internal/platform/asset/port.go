package asset

import (
	"context"
	"math/big"
	"time"
)

// Repository defines the interface for catalog persistence operations
type Repository interface {
	// GetByID retrieves an asset by its identity
	GetByID(ctx context.Context, id int64) (*Asset, error)

	// GetBySymbol retrieves an asset by exchange and symbol
	// (case-insensitive on the symbol)
	GetBySymbol(ctx context.Context, exchange, symbol string) (*Asset, error)

	// Upsert registers an asset, returning the existing row when the
	// (exchange, symbol) pair is already known
	Upsert(ctx context.Context, d *Descriptor) (*Asset, error)
}

// TrackingRepository defines the interface for the tracking registry
type TrackingRepository interface {
	// Increment bumps the holder count for an asset, creating the
	// registry row on first track. Returns the new count.
	Increment(ctx context.Context, assetID int64) (int, error)

	// Decrement lowers the holder count, never below zero.
	// Returns the new count.
	Decrement(ctx context.Context, assetID int64) (int, error)

	// Get retrieves a single registry row
	Get(ctx context.Context, assetID int64) (*TrackedAsset, error)

	// ListActive retrieves the refresh set: every asset with at
	// least one holder, ordered by asset identity
	ListActive(ctx context.Context) ([]TrackedAsset, error)

	// CountActive counts the refresh set
	CountActive(ctx context.Context) (int, error)

	// SetLastRefresh stamps the most recent successful refresh
	SetLastRefresh(ctx context.Context, assetID int64, at time.Time) error
}

// PriceRepository defines the interface for price history persistence
type PriceRepository interface {
	// BulkInsert writes validated points for one asset and reports how
	// many rows landed and how many were skipped as duplicates of
	// existing (asset, timestamp) pairs
	BulkInsert(ctx context.Context, assetID int64, points []PricePoint) (inserted, skipped int, err error)

	// LatestClose retrieves the newest stored point for an asset
	LatestClose(ctx context.Context, assetID int64) (*PricePoint, error)

	// HasCoverage reports whether at least one point exists for the
	// asset inside [from, to]
	HasCoverage(ctx context.Context, assetID int64, from, to time.Time) (bool, error)

	// RecordUpdate appends one audit row for a refresh attempt
	RecordUpdate(ctx context.Context, rec *UpdateRecord) error

	// RecentUpdates retrieves the newest audit rows joined with
	// catalog identity, newest first
	RecentUpdates(ctx context.Context, limit int) ([]UpdateView, error)

	// LastUpdateAt retrieves the timestamp of the newest audit row,
	// nil when no attempt has been recorded yet
	LastUpdateAt(ctx context.Context) (*time.Time, error)
}

// PriceCache defines the interface for price caching operations
type PriceCache interface {
	// Get retrieves a cached price for a symbol
	Get(ctx context.Context, symbol string) (*big.Int, bool, error)

	// Set stores a price in the cache
	Set(ctx context.Context, symbol string, price *big.Int, source string) error

	// SetStale stores a price in the stale cache (24-hour TTL for fallback)
	SetStale(ctx context.Context, symbol string, price *big.Int, source string) error

	// GetStale retrieves a price from the stale cache
	GetStale(ctx context.Context, symbol string) (*big.Int, bool, error)
}
