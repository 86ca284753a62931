package pricefeed

import (
	"context"
	"time"

	"github.com/karpovdv/folio/internal/platform/asset"
)

// Source defines the interface for an external price provider. Both
// methods return errors classified as *FetchError; callers branch on
// the kind to decide between retry, backoff, and permanent failure.
type Source interface {
	// FetchRange retrieves daily OHLCV records for [from, to].
	// Records outside the window are discarded, invalid records are
	// dropped and counted; an answer with zero usable records is a
	// KindBadData error.
	FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]asset.PricePoint, error)

	// FetchCurrent retrieves the most recent available record for a
	// symbol.
	FetchCurrent(ctx context.Context, symbol string) (*asset.PricePoint, error)
}
