package valuation

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/karpovdv/folio/pkg/logger"
	"github.com/karpovdv/folio/pkg/money"
)

// Service recalculates portfolio valuations from positions and the
// latest stored prices.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// NewService creates a new valuation service
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.WithField("component", "valuation"),
	}
}

// RecalculateAll revalues every portfolio and upserts one cache row per
// portfolio. A portfolio that cannot be valued (missing price, database
// error) is counted as failed and logged; the sweep always continues to
// the next portfolio.
func (s *Service) RecalculateAll(ctx context.Context) (updated, failed int, err error) {
	ids, err := s.repo.ListPortfolioIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list portfolios: %w", err)
	}

	for _, id := range ids {
		result, err := s.revalue(ctx, id)
		if err != nil {
			failed++
			s.log.WithError(err).Warn("portfolio revaluation failed", "portfolio_id", id)
			continue
		}

		if err := s.repo.UpsertCache(ctx, result); err != nil {
			failed++
			s.log.WithError(err).Warn("failed to write valuation cache", "portfolio_id", id)
			continue
		}
		updated++
	}

	s.log.Info("portfolio revaluation complete", "updated", updated, "failed", failed)
	return updated, failed, nil
}

// revalue computes the aggregate for a single portfolio. Every position
// must have a latest close; a single missing price fails the whole
// portfolio rather than producing a partial total.
func (s *Service) revalue(ctx context.Context, portfolioID int64) (*Result, error) {
	positions, err := s.repo.GetPositions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	totalValue := big.NewInt(0)
	totalCost := big.NewInt(0)

	for _, pos := range positions {
		if pos.LatestClose == nil {
			return nil, fmt.Errorf("no price available for asset %d", pos.AssetID)
		}
		totalValue.Add(totalValue, money.Value(pos.Quantity, pos.LatestClose, money.PriceScale))
		totalCost.Add(totalCost, money.Value(pos.Quantity, pos.AvgBuyPrice, money.PriceScale))
	}

	profitLoss := new(big.Int).Sub(totalValue, totalCost)

	return &Result{
		PortfolioID:   portfolioID,
		TotalValue:    totalValue,
		TotalCost:     totalCost,
		ProfitLoss:    profitLoss,
		ProfitLossPct: profitLossPct(profitLoss, totalCost),
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// profitLossPct returns profit/loss as a percentage of cost, rounded to
// two decimals. Zero cost yields zero.
func profitLossPct(profitLoss, totalCost *big.Int) float64 {
	if totalCost.Sign() == 0 {
		return 0
	}
	ratio := new(big.Float).Quo(
		new(big.Float).SetInt(profitLoss),
		new(big.Float).SetInt(totalCost),
	)
	ratio.Mul(ratio, big.NewFloat(100))
	pct, _ := ratio.Float64()
	return math.Round(pct*100) / 100
}
