package fetcher

import (
	"context"
	"math/big"
	"time"

	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/internal/platform/backfill"
)

// Catalog is the slice of the asset service the refresh loop needs
type Catalog interface {
	RefreshSet(ctx context.Context) ([]asset.TrackedAsset, error)
	TrackedCount(ctx context.Context) (int, error)
	Track(ctx context.Context, assetID int64) (int, error)
	HasCoverage(ctx context.Context, assetID int64, from, to time.Time) (bool, error)
	StorePrices(ctx context.Context, assetID int64, points []asset.PricePoint) (inserted, skipped int, err error)
	RecordUpdate(ctx context.Context, rec *asset.UpdateRecord) error
	MarkRefreshed(ctx context.Context, assetID int64, at time.Time) error
	CachePrice(ctx context.Context, symbol string, price *big.Int, source string)
}

// Backfiller accepts historical windows for the durable queue
type Backfiller interface {
	Enqueue(ctx context.Context, assetID int64, start, end time.Time) (*backfill.Job, error)
}

// Revaluer recomputes portfolio aggregates after a successful cycle
type Revaluer interface {
	RecalculateAll(ctx context.Context) (updated, failed int, err error)
}

// EventStore deduplicates transaction notifications across deliveries
// and restarts
type EventStore interface {
	// MarkProcessed claims a transaction ID. Returns false when an
	// earlier delivery already claimed it.
	MarkProcessed(ctx context.Context, transactionID int64) (bool, error)
}
