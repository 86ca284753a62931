package asset

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/karpovdv/folio/pkg/logger"
)

// Service provides unified access to the asset catalog, the tracking
// registry, and stored prices
type Service struct {
	repo     Repository
	tracking TrackingRepository
	prices   PriceRepository
	cache    PriceCache // optional, nil disables caching
	log      *logger.Logger
}

// NewService creates a new asset service
func NewService(
	repo Repository,
	tracking TrackingRepository,
	prices PriceRepository,
	cache PriceCache,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:     repo,
		tracking: tracking,
		prices:   prices,
		cache:    cache,
		log:      log,
	}
}

// ---- Catalog Operations ----

// EnsureAsset registers an asset in the catalog, returning the existing
// row when the (exchange, symbol) pair is already known
func (s *Service) EnsureAsset(ctx context.Context, d *Descriptor) (*Asset, error) {
	if d.Currency == "" {
		d.Currency = "USD"
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Upsert(ctx, d)
}

// GetAsset retrieves an asset by its identity
func (s *Service) GetAsset(ctx context.Context, id int64) (*Asset, error) {
	return s.repo.GetByID(ctx, id)
}

// GetAssetBySymbol retrieves an asset by exchange and symbol
func (s *Service) GetAssetBySymbol(ctx context.Context, exchange, symbol string) (*Asset, error) {
	return s.repo.GetBySymbol(ctx, exchange, symbol)
}

// ---- Tracking Operations ----

// Track bumps the holder count for an asset and returns the new count.
// A count of 1 means the asset just entered the refresh set.
func (s *Service) Track(ctx context.Context, assetID int64) (int, error) {
	if _, err := s.repo.GetByID(ctx, assetID); err != nil {
		return 0, fmt.Errorf("failed to resolve asset %d: %w", assetID, err)
	}
	return s.tracking.Increment(ctx, assetID)
}

// Untrack lowers the holder count for an asset, never below zero. The
// asset stays in the catalog and keeps its price history either way.
func (s *Service) Untrack(ctx context.Context, assetID int64) (int, error) {
	return s.tracking.Decrement(ctx, assetID)
}

// RefreshSet retrieves every asset with at least one holder
func (s *Service) RefreshSet(ctx context.Context) ([]TrackedAsset, error) {
	return s.tracking.ListActive(ctx)
}

// TrackedCount counts the refresh set
func (s *Service) TrackedCount(ctx context.Context) (int, error) {
	return s.tracking.CountActive(ctx)
}

// MarkRefreshed stamps the most recent successful refresh for an asset
func (s *Service) MarkRefreshed(ctx context.Context, assetID int64, at time.Time) error {
	return s.tracking.SetLastRefresh(ctx, assetID, at)
}

// ---- Price Operations ----

// StorePrices validates and persists a batch of points for one asset.
// Records that fail validation are dropped and logged; duplicates of
// existing (asset, timestamp) pairs are skipped, so replaying the same
// batch never changes stored history.
func (s *Service) StorePrices(ctx context.Context, assetID int64, points []PricePoint) (inserted, skipped int, err error) {
	valid := make([]PricePoint, 0, len(points))
	for i := range points {
		p := points[i]
		p.AssetID = assetID
		if verr := p.Validate(); verr != nil {
			s.log.WithFields(map[string]interface{}{
				"asset_id":  assetID,
				"timestamp": p.Time,
				"reason":    verr.Error(),
			}).Info("dropping invalid price point")
			continue
		}
		valid = append(valid, p)
	}

	if len(valid) == 0 {
		return 0, 0, nil
	}

	inserted, skipped, err = s.prices.BulkInsert(ctx, assetID, valid)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to store prices for asset %d: %w", assetID, err)
	}
	return inserted, skipped, nil
}

// LatestClose retrieves the newest stored point for an asset
func (s *Service) LatestClose(ctx context.Context, assetID int64) (*PricePoint, error) {
	return s.prices.LatestClose(ctx, assetID)
}

// HasCoverage reports whether any price exists for the asset in [from, to]
func (s *Service) HasCoverage(ctx context.Context, assetID int64, from, to time.Time) (bool, error) {
	return s.prices.HasCoverage(ctx, assetID, from, to)
}

// RecordUpdate appends one audit row for a refresh attempt
func (s *Service) RecordUpdate(ctx context.Context, rec *UpdateRecord) error {
	return s.prices.RecordUpdate(ctx, rec)
}

// RecentUpdates retrieves the newest audit rows joined with catalog identity
func (s *Service) RecentUpdates(ctx context.Context, limit int) ([]UpdateView, error) {
	return s.prices.RecentUpdates(ctx, limit)
}

// LastUpdateAt retrieves the timestamp of the newest audit row
func (s *Service) LastUpdateAt(ctx context.Context) (*time.Time, error) {
	return s.prices.LastUpdateAt(ctx)
}

// CachePrice writes a freshly observed price through to both cache
// tiers. Cache failures never fail the caller; the stored row is the
// durable copy.
func (s *Service) CachePrice(ctx context.Context, symbol string, price *big.Int, source string) {
	if s.cache == nil || price == nil {
		return
	}
	_ = s.cache.Set(ctx, symbol, price, source)
	_ = s.cache.SetStale(ctx, symbol, price, source)
}

// CurrentQuote serves the latest known close for an asset using the
// fallback chain: fresh cache → stored history → stale cache.
func (s *Service) CurrentQuote(ctx context.Context, assetID int64) (*PricePoint, error) {
	a, err := s.repo.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if price, found, cerr := s.cache.Get(ctx, a.Symbol); cerr == nil && found {
			return &PricePoint{
				AssetID: assetID,
				Time:    time.Now(),
				Close:   price,
				Source:  "cache",
			}, nil
		}
	}

	point, err := s.prices.LatestClose(ctx, assetID)
	if err == nil && point != nil {
		return point, nil
	}

	if s.cache != nil {
		if price, found, cerr := s.cache.GetStale(ctx, a.Symbol); cerr == nil && found {
			return &PricePoint{
				AssetID: assetID,
				Time:    time.Now(),
				Close:   price,
				Source:  "stale-cache",
			}, nil
		}
	}

	return nil, ErrNoPriceData
}
