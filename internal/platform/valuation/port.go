package valuation

import "context"

// Repository provides read access to externally-owned portfolios and
// positions, and write access to the valuation cache (the only table
// this package mutates).
type Repository interface {
	// ListPortfolioIDs returns the IDs of all portfolios.
	ListPortfolioIDs(ctx context.Context) ([]int64, error)

	// GetPositions returns the portfolio's positions, each joined with
	// the latest close price for its asset (nil when none exists).
	GetPositions(ctx context.Context, portfolioID int64) ([]Position, error)

	// UpsertCache writes the portfolio's valuation row, replacing any
	// previous one.
	UpsertCache(ctx context.Context, result *Result) error
}
