package service

import (
	"context"

	"services/trading-simulation-service/internal/client"
	"services/trading-simulation-service/internal/model"
)

// SimulationStore provides access to simulation records. Implemented by
// repository.SimulationRepository; fakes stand in for tests.
type SimulationStore interface {
	CreateSimulation(ctx context.Context, sim *model.Simulation) (int, error)
	GetSimulation(ctx context.Context, id int) (*model.Simulation, error)
	GetStatus(ctx context.Context, id int) (model.SimulationStatus, error)
	GetSimulationsByUser(ctx context.Context, userID int, symbol, status string, page, limit int) ([]model.Simulation, int, error)

	// TransitionStatus conditionally moves status from one of the given
	// states; returns false when the simulation was in none of them.
	TransitionStatus(ctx context.Context, id int, to model.SimulationStatus, from ...model.SimulationStatus) (bool, error)
	StopSimulation(ctx context.Context, id int) (bool, error)
	CompleteSimulation(ctx context.Context, sim *model.Simulation) (bool, error)
	FailSimulation(ctx context.Context, id int, errorMessage string) error

	AppendLog(ctx context.Context, id int, entries ...model.LogEntry) error
	UpdateUsage(ctx context.Context, sim *model.Simulation) error
	DeleteSimulation(ctx context.Context, id int, userID int) error
}

// TradeStore provides append-only access to trade records
type TradeStore interface {
	// RecordTrade writes the trade and the simulation's ledger mutation
	// atomically.
	RecordTrade(ctx context.Context, sim *model.Simulation, trade *model.Trade) error
	GetTradesBySimulation(ctx context.Context, simulationID int) ([]model.Trade, error)
}

// MarketDataProvider supplies historical daily candles, chronological
// ascending
type MarketDataProvider interface {
	GetDailySeries(ctx context.Context, symbol, market string, count int) ([]model.Candle, error)
}

// DecisionOracle converts market context into a trading decision
type DecisionOracle interface {
	Decide(ctx context.Context, req model.DecisionRequest) (*client.OracleResponse, error)
}

// TaskDispatcher submits a run task for a simulation. Submission is
// at-least-once; callers only dispatch after claiming the run via a
// conditional status update.
type TaskDispatcher interface {
	DispatchRun(ctx context.Context, simulationID int) error
}
