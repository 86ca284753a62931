package valuation

import (
	"math/big"
	"time"
)

// Result is the per-portfolio aggregate written to the valuation cache
// after a successful refresh cycle. Monetary fields are in base units
// scaled by 10^8.
type Result struct {
	PortfolioID   int64
	TotalValue    *big.Int
	TotalCost     *big.Int
	ProfitLoss    *big.Int
	ProfitLossPct float64
	UpdatedAt     time.Time
}

// Position is a portfolio holding joined with the most recent close for
// its asset. LatestClose is nil when no price history exists yet.
type Position struct {
	AssetID     int64
	Quantity    *big.Int
	AvgBuyPrice *big.Int
	LatestClose *big.Int
}
