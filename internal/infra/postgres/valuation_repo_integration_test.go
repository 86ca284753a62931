//go:build integration

package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karpovdv/folio/internal/platform/valuation"
)

// Note: testDB and seedAsset are defined in backfill_repo_integration_test.go

func setupValuationTest(t *testing.T) (*ValuationRepository, context.Context) {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))
	return NewValuationRepository(testDB.Pool), ctx
}

func seedPortfolio(t *testing.T, ctx context.Context, name string) int64 {
	var id int64
	err := testDB.Pool.QueryRow(ctx,
		`INSERT INTO portfolios (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedPosition(t *testing.T, ctx context.Context, portfolioID, assetID int64, quantity, avgBuy *big.Int) {
	_, err := testDB.Pool.Exec(ctx, `
		INSERT INTO positions (portfolio_id, asset_id, quantity, avg_buy_price)
		VALUES ($1, $2, $3, $4)
	`, portfolioID, assetID, quantity.String(), avgBuy.String())
	require.NoError(t, err)
}

func seedClose(t *testing.T, ctx context.Context, assetID int64, at time.Time, close *big.Int) {
	_, err := testDB.Pool.Exec(ctx, `
		INSERT INTO asset_prices (asset_id, timestamp, close, source)
		VALUES ($1, $2, $3, 'chartapi')
	`, assetID, at, close.String())
	require.NoError(t, err)
}

func TestValuationRepository_ListPortfolioIDs(t *testing.T) {
	repo, ctx := setupValuationTest(t)

	ids, err := repo.ListPortfolioIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	p1 := seedPortfolio(t, ctx, "Retirement")
	p2 := seedPortfolio(t, ctx, "Trading")

	ids, err = repo.ListPortfolioIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{p1, p2}, ids)
}

func TestValuationRepository_GetPositions_JoinsLatestClose(t *testing.T) {
	repo, ctx := setupValuationTest(t)
	portfolioID := seedPortfolio(t, ctx, "Retirement")
	aapl := seedAsset(t, ctx, "AAPL")
	msft := seedAsset(t, ctx, "MSFT")

	// 10 shares at $150, scale 10^8
	seedPosition(t, ctx, portfolioID, aapl, big.NewInt(1000000000), big.NewInt(15000000000))
	seedPosition(t, ctx, portfolioID, msft, big.NewInt(500000000), big.NewInt(30000000000))

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seedClose(t, ctx, aapl, base, big.NewInt(19000000000))
	seedClose(t, ctx, aapl, base.AddDate(0, 0, 1), big.NewInt(19542000000))

	positions, err := repo.GetPositions(ctx, portfolioID)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, aapl, positions[0].AssetID)
	assert.Equal(t, big.NewInt(1000000000), positions[0].Quantity)
	assert.Equal(t, big.NewInt(15000000000), positions[0].AvgBuyPrice)
	assert.Equal(t, big.NewInt(19542000000), positions[0].LatestClose, "newest close wins")

	assert.Equal(t, msft, positions[1].AssetID)
	assert.Nil(t, positions[1].LatestClose, "no price history yet")
}

func TestValuationRepository_GetPositions_SkipsClosedPositions(t *testing.T) {
	repo, ctx := setupValuationTest(t)
	portfolioID := seedPortfolio(t, ctx, "Trading")
	aapl := seedAsset(t, ctx, "AAPL")
	msft := seedAsset(t, ctx, "MSFT")

	seedPosition(t, ctx, portfolioID, aapl, big.NewInt(1000000000), big.NewInt(15000000000))
	seedPosition(t, ctx, portfolioID, msft, big.NewInt(0), big.NewInt(30000000000))

	positions, err := repo.GetPositions(ctx, portfolioID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, aapl, positions[0].AssetID)
}

func TestValuationRepository_UpsertCache(t *testing.T) {
	repo, ctx := setupValuationTest(t)
	portfolioID := seedPortfolio(t, ctx, "Retirement")

	first := &valuation.Result{
		PortfolioID:   portfolioID,
		TotalValue:    big.NewInt(195420000000),
		TotalCost:     big.NewInt(150000000000),
		ProfitLoss:    big.NewInt(45420000000),
		ProfitLossPct: 30.28,
		UpdatedAt:     time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.UpsertCache(ctx, first))

	// a later pass replaces the row in place
	second := &valuation.Result{
		PortfolioID:   portfolioID,
		TotalValue:    big.NewInt(200000000000),
		TotalCost:     big.NewInt(150000000000),
		ProfitLoss:    big.NewInt(50000000000),
		ProfitLossPct: 33.33,
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, repo.UpsertCache(ctx, second))

	var totalValue, profitLoss string
	var pct float64
	err := testDB.Pool.QueryRow(ctx, `
		SELECT total_value, profit_loss, profit_loss_pct
		FROM portfolio_performance_cache
		WHERE portfolio_id = $1
	`, portfolioID).Scan(&totalValue, &profitLoss, &pct)
	require.NoError(t, err)
	assert.Equal(t, "200000000000", totalValue)
	assert.Equal(t, "50000000000", profitLoss)
	assert.InDelta(t, 33.33, pct, 0.001)

	var rows int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM portfolio_performance_cache`).Scan(&rows))
	assert.Equal(t, 1, rows)
}
