package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"services/trading-simulation-service/internal/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SimulationRepository handles database operations for simulations
type SimulationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSimulationRepository creates a new simulation repository
func NewSimulationRepository(db *sqlx.DB, logger *zap.Logger) *SimulationRepository {
	return &SimulationRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSimulation creates a new simulation in pending status
func (r *SimulationRepository) CreateSimulation(
	ctx context.Context,
	sim *model.Simulation,
) (int, error) {
	query := `
		INSERT INTO simulations (
			user_id, symbol, market, agent_name, model_key,
			initial_balance, current_balance, current_shares, currency,
			start_date, end_date, status, config, execution_log, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id
	`

	var id int
	err := r.db.QueryRowContext(
		ctx,
		query,
		sim.UserID,
		sim.Symbol,
		sim.Market,
		sim.AgentName,
		sim.ModelKey,
		sim.InitialBalance,
		sim.CurrentBalance,
		sim.CurrentShares,
		sim.Currency,
		sim.StartDate,
		sim.EndDate,
		sim.Status,
		sim.Config,
		sim.ExecutionLog,
		time.Now(),
	).Scan(&id)

	if err != nil {
		r.logger.Error("Failed to create simulation", zap.Error(err))
		return 0, err
	}

	return id, nil
}

const simulationColumns = `
	id, user_id, symbol, market, agent_name, model_key,
	initial_balance, current_balance, current_shares, average_cost, currency,
	start_date, end_date, status,
	total_trades, winning_trades, losing_trades, total_profit_loss,
	max_drawdown, sharpe_ratio, total_tokens_used, total_llm_cost,
	config, execution_log, summary, error_message, created_at, updated_at
`

// GetSimulation retrieves a simulation by ID
func (r *SimulationRepository) GetSimulation(
	ctx context.Context,
	id int,
) (*model.Simulation, error) {
	query := `SELECT ` + simulationColumns + ` FROM simulations WHERE id = $1`

	var sim model.Simulation
	err := r.db.GetContext(ctx, &sim, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("Failed to get simulation", zap.Error(err), zap.Int("id", id))
		return nil, err
	}

	return &sim, nil
}

// GetStatus reads only the current status of a simulation. The engine
// polls this once per simulated day to observe pause/stop requests.
func (r *SimulationRepository) GetStatus(
	ctx context.Context,
	id int,
) (model.SimulationStatus, error) {
	var status model.SimulationStatus
	err := r.db.GetContext(ctx, &status, `SELECT status FROM simulations WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("simulation %d not found", id)
		}
		r.logger.Error("Failed to read simulation status", zap.Error(err), zap.Int("id", id))
		return "", err
	}
	return status, nil
}

// GetSimulationsByUser retrieves simulations for a user with optional
// symbol/status filters and pagination
func (r *SimulationRepository) GetSimulationsByUser(
	ctx context.Context,
	userID int,
	symbol string,
	status string,
	page, limit int,
) ([]model.Simulation, int, error) {
	offset := (page - 1) * limit

	countQuery := `
		SELECT COUNT(*)
		FROM simulations
		WHERE user_id = $1
		  AND ($2 = '' OR symbol = $2)
		  AND ($3 = '' OR status = $3)
	`

	var total int
	err := r.db.GetContext(ctx, &total, countQuery, userID, symbol, status)
	if err != nil {
		r.logger.Error("Failed to count simulations", zap.Error(err), zap.Int("userID", userID))
		return nil, 0, err
	}

	query := `
		SELECT ` + simulationColumns + `
		FROM simulations
		WHERE user_id = $1
		  AND ($2 = '' OR symbol = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	var sims []model.Simulation
	err = r.db.SelectContext(ctx, &sims, query, userID, symbol, status, limit, offset)
	if err != nil {
		r.logger.Error("Failed to get simulations",
			zap.Error(err),
			zap.Int("userID", userID),
			zap.Int("page", page),
			zap.Int("limit", limit))
		return nil, 0, err
	}

	return sims, total, nil
}

// TransitionStatus performs a conditional status update. It returns true
// only if the simulation was in one of the expected states, making
// lifecycle transitions race-free against concurrent commands and the
// running loop.
func (r *SimulationRepository) TransitionStatus(
	ctx context.Context,
	id int,
	to model.SimulationStatus,
	from ...model.SimulationStatus,
) (bool, error) {
	fromStates := make([]string, len(from))
	for i, s := range from {
		fromStates[i] = string(s)
	}

	query := `
		UPDATE simulations
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = ANY($3)
	`

	result, err := r.db.ExecContext(ctx, query, to, id, pq.Array(fromStates))
	if err != nil {
		r.logger.Error("Failed to transition simulation status",
			zap.Error(err),
			zap.Int("id", id),
			zap.String("to", string(to)))
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// StopSimulation conditionally moves a simulation to stopped with the
// fixed stop summary. Allowed from pending, running, or paused.
func (r *SimulationRepository) StopSimulation(
	ctx context.Context,
	id int,
) (bool, error) {
	query := `
		UPDATE simulations
		SET status = $1, summary = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status = ANY($4)
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		model.StatusStopped,
		model.StoppedSummary,
		id,
		pq.Array([]string{
			string(model.StatusPending),
			string(model.StatusRunning),
			string(model.StatusPaused),
		}),
	)
	if err != nil {
		r.logger.Error("Failed to stop simulation", zap.Error(err), zap.Int("id", id))
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// AppendLog appends entries to the simulation's execution log. The log
// column is only ever extended, never rewritten.
func (r *SimulationRepository) AppendLog(
	ctx context.Context,
	id int,
	entries ...model.LogEntry,
) error {
	if len(entries) == 0 {
		return nil
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	query := `
		UPDATE simulations
		SET execution_log = execution_log || $1::jsonb, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	_, err = r.db.ExecContext(ctx, query, payload, id)
	if err != nil {
		r.logger.Error("Failed to append execution log", zap.Error(err), zap.Int("id", id))
		return err
	}

	return nil
}

// UpdateUsage persists accumulated oracle token/cost usage. Called on
// hold days, where no trade write carries the ledger forward.
func (r *SimulationRepository) UpdateUsage(
	ctx context.Context,
	sim *model.Simulation,
) error {
	query := `
		UPDATE simulations
		SET total_tokens_used = $1, total_llm_cost = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	_, err := r.db.ExecContext(ctx, query, sim.TotalTokensUsed, sim.TotalLLMCost, sim.ID)
	if err != nil {
		r.logger.Error("Failed to update oracle usage", zap.Error(err), zap.Int("id", sim.ID))
		return err
	}

	return nil
}

// CompleteSimulation conditionally finishes a run: only a simulation
// still in running status is moved to completed, so a stop that raced
// in is never overwritten.
func (r *SimulationRepository) CompleteSimulation(
	ctx context.Context,
	sim *model.Simulation,
) (bool, error) {
	query := `
		UPDATE simulations
		SET status = $1,
			total_profit_loss = $2,
			max_drawdown = $3,
			sharpe_ratio = $4,
			summary = $5,
			total_tokens_used = $6,
			total_llm_cost = $7,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $8 AND status = $9
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		model.StatusCompleted,
		sim.TotalProfitLoss,
		sim.MaxDrawdown,
		sim.SharpeRatio,
		sim.Summary,
		sim.TotalTokensUsed,
		sim.TotalLLMCost,
		sim.ID,
		model.StatusRunning,
	)
	if err != nil {
		r.logger.Error("Failed to complete simulation", zap.Error(err), zap.Int("id", sim.ID))
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// FailSimulation marks a simulation as failed with an error message.
// Trades written so far are preserved; only pending or running
// simulations can fail.
func (r *SimulationRepository) FailSimulation(
	ctx context.Context,
	id int,
	errorMessage string,
) error {
	query := `
		UPDATE simulations
		SET status = $1, error_message = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status = ANY($4)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		model.StatusFailed,
		errorMessage,
		id,
		pq.Array([]string{string(model.StatusPending), string(model.StatusRunning)}),
	)
	if err != nil {
		r.logger.Error("Failed to mark simulation as failed",
			zap.Error(err),
			zap.Int("id", id),
			zap.String("errorMessage", errorMessage))
		return err
	}

	return nil
}

// DeleteSimulation deletes a simulation owned by the given user
func (r *SimulationRepository) DeleteSimulation(
	ctx context.Context,
	id int,
	userID int,
) error {
	query := `DELETE FROM simulations WHERE id = $1 AND user_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		r.logger.Error("Failed to delete simulation",
			zap.Error(err),
			zap.Int("id", id),
			zap.Int("userID", userID))
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("simulation not found or not owned by user")
	}

	return nil
}
