package repository

import (
	"context"
	"errors"
	"time"

	"services/trading-simulation-service/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrDuplicateTrade is returned when an identical trade insert is
// attempted twice. Trades are append-only and never updated.
var ErrDuplicateTrade = errors.New("duplicate trade")

// TradeRepository handles database operations for trades
type TradeRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sqlx.DB, logger *zap.Logger) *TradeRepository {
	return &TradeRepository{
		db:     db,
		logger: logger,
	}
}

// RecordTrade appends a trade and persists the simulation's mutated
// ledger fields in a single transaction, so a concurrent reader never
// observes the trade without its balance/share/counter updates.
func (r *TradeRepository) RecordTrade(
	ctx context.Context,
	sim *model.Simulation,
	trade *model.Trade,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin trade transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback()

	insertQuery := `
		INSERT INTO trades (
			simulation_id, trade_date, action, symbol, quantity, price,
			total_amount, commission,
			shares_before, shares_after, cash_before, cash_after,
			realized_pnl, llm_reasoning, confidence_score, market_data,
			tokens_used, llm_cost, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id
	`

	err = tx.QueryRowContext(
		ctx,
		insertQuery,
		trade.SimulationID,
		trade.TradeDate,
		trade.Action,
		trade.Symbol,
		trade.Quantity,
		trade.Price,
		trade.TotalAmount,
		trade.Commission,
		trade.SharesBefore,
		trade.SharesAfter,
		trade.CashBefore,
		trade.CashAfter,
		trade.RealizedPnL,
		trade.LLMReasoning,
		trade.ConfidenceScore,
		trade.MarketData,
		trade.TokensUsed,
		trade.LLMCost,
		time.Now(),
	).Scan(&trade.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicateTrade
		}
		r.logger.Error("Failed to insert trade",
			zap.Error(err),
			zap.Int("simulationID", trade.SimulationID))
		return err
	}

	updateQuery := `
		UPDATE simulations
		SET current_balance = $1,
			current_shares = $2,
			average_cost = $3,
			total_trades = $4,
			winning_trades = $5,
			losing_trades = $6,
			total_tokens_used = $7,
			total_llm_cost = $8,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $9
	`

	_, err = tx.ExecContext(
		ctx,
		updateQuery,
		sim.CurrentBalance,
		sim.CurrentShares,
		sim.AverageCost,
		sim.TotalTrades,
		sim.WinningTrades,
		sim.LosingTrades,
		sim.TotalTokensUsed,
		sim.TotalLLMCost,
		sim.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update simulation ledger",
			zap.Error(err),
			zap.Int("simulationID", sim.ID))
		return err
	}

	return tx.Commit()
}

// GetTradesBySimulation retrieves all trades for a simulation in
// chronological order
func (r *TradeRepository) GetTradesBySimulation(
	ctx context.Context,
	simulationID int,
) ([]model.Trade, error) {
	query := `
		SELECT
			id, simulation_id, trade_date, action, symbol, quantity, price,
			total_amount, commission,
			shares_before, shares_after, cash_before, cash_after,
			realized_pnl, llm_reasoning, confidence_score, market_data,
			tokens_used, llm_cost, created_at
		FROM trades
		WHERE simulation_id = $1
		ORDER BY trade_date ASC, id ASC
	`

	var trades []model.Trade
	err := r.db.SelectContext(ctx, &trades, query, simulationID)
	if err != nil {
		r.logger.Error("Failed to get trades",
			zap.Error(err),
			zap.Int("simulationID", simulationID))
		return nil, err
	}

	return trades, nil
}
