package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karpovdv/folio/internal/platform/valuation"
)

// ValuationRepository reads externally-owned portfolios and positions
// and writes the valuation cache, the only table it mutates
type ValuationRepository struct {
	pool *pgxpool.Pool
}

var _ valuation.Repository = (*ValuationRepository)(nil)

// NewValuationRepository creates a new PostgreSQL valuation repository
func NewValuationRepository(pool *pgxpool.Pool) *ValuationRepository {
	return &ValuationRepository{pool: pool}
}

// ListPortfolioIDs returns the IDs of all portfolios
func (r *ValuationRepository) ListPortfolioIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return ids, nil
}

// GetPositions returns the portfolio's open positions, each joined
// with the latest close for its asset via a lateral subquery (nil when
// no price history exists yet)
func (r *ValuationRepository) GetPositions(ctx context.Context, portfolioID int64) ([]valuation.Position, error) {
	query := `
		SELECT p.asset_id, p.quantity, p.avg_buy_price, lc.close
		FROM positions p
		LEFT JOIN LATERAL (
			SELECT close FROM asset_prices ap
			WHERE ap.asset_id = p.asset_id
			ORDER BY ap.timestamp DESC
			LIMIT 1
		) lc ON true
		WHERE p.portfolio_id = $1 AND p.quantity::numeric > 0
		ORDER BY p.asset_id
	`

	rows, err := r.pool.Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []valuation.Position
	for rows.Next() {
		var p valuation.Position
		var quantityStr, avgBuyStr string
		var closeStr *string

		if err := rows.Scan(&p.AssetID, &quantityStr, &avgBuyStr, &closeStr); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		p.Quantity, _ = new(big.Int).SetString(quantityStr, 10)
		p.AvgBuyPrice, _ = new(big.Int).SetString(avgBuyStr, 10)
		if closeStr != nil {
			p.LatestClose, _ = new(big.Int).SetString(*closeStr, 10)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// UpsertCache writes the portfolio's valuation row, replacing any
// previous one
func (r *ValuationRepository) UpsertCache(ctx context.Context, result *valuation.Result) error {
	query := `
		INSERT INTO portfolio_performance_cache
			(portfolio_id, total_value, total_cost, profit_loss, profit_loss_pct, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (portfolio_id) DO UPDATE SET
			total_value = EXCLUDED.total_value,
			total_cost = EXCLUDED.total_cost,
			profit_loss = EXCLUDED.profit_loss,
			profit_loss_pct = EXCLUDED.profit_loss_pct,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		result.PortfolioID,
		result.TotalValue.String(),
		result.TotalCost.String(),
		result.ProfitLoss.String(),
		result.ProfitLossPct,
		result.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert valuation cache: %w", err)
	}
	return nil
}
