package service

import (
	"context"
	"fmt"
	"time"

	"services/trading-simulation-service/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Default window length for a new simulation, in days (inclusive)
const defaultWindowDays = 89

// SimulationService owns the simulation lifecycle: creation, the
// state-machine transitions, and run-task dispatch. The transitions are
// conditional updates against the store, so concurrent commands and the
// running loop cannot interleave into an inconsistent status.
type SimulationService struct {
	sims       SimulationStore
	trades     TradeStore
	dispatcher TaskDispatcher
	logger     *zap.Logger
}

// NewSimulationService creates a new simulation service
func NewSimulationService(
	sims SimulationStore,
	trades TradeStore,
	dispatcher TaskDispatcher,
	logger *zap.Logger,
) *SimulationService {
	return &SimulationService{
		sims:       sims,
		trades:     trades,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// agentModels maps agent names to oracle model keys
var agentModels = map[string]string{
	"deepseek": "deepseek",
	"minimax":  "minimax",
	"claude":   "claude",
	"openai":   "openai",
}

// ListAgents returns the available decision oracle agents
func (s *SimulationService) ListAgents() []model.AgentInfo {
	return []model.AgentInfo{
		{
			Name:        "deepseek",
			DisplayName: "DeepSeek",
			Description: "High-performance reasoning model with strong analytical capabilities",
			ModelName:   "deepseek/deepseek-chat",
			Available:   true,
		},
		{
			Name:        "minimax",
			DisplayName: "MiniMax",
			Description: "Chinese LLM optimized for financial analysis",
			ModelName:   "minimax/abab6.5-chat",
			Available:   true,
		},
		{
			Name:        "claude",
			DisplayName: "Claude 3.5 Sonnet",
			Description: "Anthropic's advanced model with excellent reasoning",
			ModelName:   "claude-3-5-sonnet-20241022",
			Available:   true,
		},
		{
			Name:        "openai",
			DisplayName: "GPT-4o",
			Description: "OpenAI's flagship model for complex tasks",
			ModelName:   "gpt-4o",
			Available:   true,
		},
	}
}

// initialBalanceFor returns the starting cash and currency for a market
func initialBalanceFor(market string) (decimal.Decimal, string) {
	if market == "cn" {
		return decimal.NewFromInt(50000), "CNY"
	}
	return decimal.NewFromInt(50000), "USD"
}

// CreateSimulation creates a new simulation in pending status. No loop
// runs until the simulation is explicitly started.
func (s *SimulationService) CreateSimulation(
	ctx context.Context,
	userID int,
	request *model.SimulationRequest,
) (*model.Simulation, error) {
	initialBalance, currency := initialBalanceFor(request.Market)

	modelKey, ok := agentModels[request.AgentName]
	if !ok {
		modelKey = "deepseek"
	}

	cfg := model.SimulationConfig{
		DecisionFrequency: "daily",
		MaxPositionSize:   0.5,
		StopLossPct:       0.1,
		TakeProfitPct:     0.2,
		RiskTolerance:     "medium",
	}
	if request.Config != nil {
		cfg = *request.Config
		if cfg.DecisionFrequency == "" {
			cfg.DecisionFrequency = "daily"
		}
		if cfg.RiskTolerance == "" {
			cfg.RiskTolerance = "medium"
		}
	}

	now := time.Now().UTC()
	startDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	endDate := startDate.AddDate(0, 0, defaultWindowDays)

	sim := &model.Simulation{
		UserID:         userID,
		Symbol:         request.Symbol,
		Market:         request.Market,
		AgentName:      request.AgentName,
		ModelKey:       modelKey,
		InitialBalance: initialBalance,
		CurrentBalance: initialBalance,
		CurrentShares:  decimal.Zero,
		Currency:       currency,
		StartDate:      startDate,
		EndDate:        endDate,
		Status:         model.StatusPending,
		Config:         cfg,
		ExecutionLog:   model.ExecutionLog{},
	}

	id, err := s.sims.CreateSimulation(ctx, sim)
	if err != nil {
		return nil, err
	}
	sim.ID = id
	sim.CreatedAt = now

	s.logger.Info("Simulation created",
		zap.Int("id", id),
		zap.Int("userID", userID),
		zap.String("symbol", request.Symbol),
		zap.String("agent", request.AgentName))

	return sim, nil
}

// loadOwned fetches a simulation and verifies ownership
func (s *SimulationService) loadOwned(
	ctx context.Context,
	id int,
	userID int,
) (*model.Simulation, error) {
	sim, err := s.sims.GetSimulation(ctx, id)
	if err != nil {
		return nil, err
	}
	if sim == nil {
		return nil, ErrSimulationNotFound
	}
	if sim.UserID != userID {
		return nil, ErrAccessDenied
	}
	return sim, nil
}

// StartSimulation claims a pending simulation and dispatches exactly one
// execution task. The pending->running transition is a single
// conditional update; the task is only submitted after it succeeds, so
// two concurrent starts cannot both dispatch.
func (s *SimulationService) StartSimulation(
	ctx context.Context,
	id int,
	userID int,
) (*model.Simulation, error) {
	if _, err := s.loadOwned(ctx, id, userID); err != nil {
		return nil, err
	}

	if err := s.claimAndDispatch(ctx, id); err != nil {
		return nil, err
	}

	return s.sims.GetSimulation(ctx, id)
}

// claimAndDispatch performs the conditional pending->running claim and
// submits the run task. Shared by start and resume.
func (s *SimulationService) claimAndDispatch(ctx context.Context, id int) error {
	ok, err := s.sims.TransitionStatus(ctx, id, model.StatusRunning, model.StatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: simulation is not pending", ErrInvalidTransition)
	}

	if err := s.dispatcher.DispatchRun(ctx, id); err != nil {
		// Release the claim so the simulation can be started again.
		if _, revertErr := s.sims.TransitionStatus(ctx, id, model.StatusPending, model.StatusRunning); revertErr != nil {
			s.logger.Error("Failed to release run claim after dispatch failure",
				zap.Error(revertErr),
				zap.Int("id", id))
		}
		s.logger.Error("Failed to dispatch run task", zap.Error(err), zap.Int("id", id))
		return fmt.Errorf("failed to dispatch run task: %w", err)
	}

	s.logger.Info("Run task dispatched", zap.Int("id", id))
	return nil
}

// PauseSimulation requests a pause of a running simulation. The request
// is out-of-band: the loop observes the persisted status at its next
// day boundary and stops making decisions; an oracle call already in
// flight cannot be aborted.
func (s *SimulationService) PauseSimulation(
	ctx context.Context,
	id int,
	userID int,
) (*model.Simulation, error) {
	if _, err := s.loadOwned(ctx, id, userID); err != nil {
		return nil, err
	}

	ok, err := s.sims.TransitionStatus(ctx, id, model.StatusPaused, model.StatusRunning)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: only running simulations can be paused", ErrInvalidTransition)
	}

	return s.sims.GetSimulation(ctx, id)
}

// ResumeSimulation resumes a paused simulation. The simulation returns
// to pending and a new execution task is dispatched through the same
// conditional claim as start. The window scan restarts from the
// beginning; the persisted ledger carries forward, so already-executed
// days repeat oracle calls but do not duplicate trades.
func (s *SimulationService) ResumeSimulation(
	ctx context.Context,
	id int,
	userID int,
) (*model.Simulation, error) {
	if _, err := s.loadOwned(ctx, id, userID); err != nil {
		return nil, err
	}

	ok, err := s.sims.TransitionStatus(ctx, id, model.StatusPending, model.StatusPaused)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: only paused simulations can be resumed", ErrInvalidTransition)
	}

	if err := s.claimAndDispatch(ctx, id); err != nil {
		return nil, err
	}

	return s.sims.GetSimulation(ctx, id)
}

// StopSimulation stops a simulation permanently. Allowed from pending,
// running, or paused; irreversible.
func (s *SimulationService) StopSimulation(
	ctx context.Context,
	id int,
	userID int,
) (*model.Simulation, error) {
	if _, err := s.loadOwned(ctx, id, userID); err != nil {
		return nil, err
	}

	ok, err := s.sims.StopSimulation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: simulation is already terminal", ErrInvalidTransition)
	}

	return s.sims.GetSimulation(ctx, id)
}

// GetSimulation retrieves a simulation with its trades
func (s *SimulationService) GetSimulation(
	ctx context.Context,
	id int,
	userID int,
) (*model.Simulation, []model.Trade, error) {
	sim, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, nil, err
	}

	trades, err := s.trades.GetTradesBySimulation(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return sim, trades, nil
}

// GetSimulationTrades retrieves all trades for a simulation
func (s *SimulationService) GetSimulationTrades(
	ctx context.Context,
	id int,
	userID int,
) ([]model.Trade, error) {
	if _, err := s.loadOwned(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.trades.GetTradesBySimulation(ctx, id)
}

// ListSimulations lists a user's simulations with filtering and
// pagination
func (s *SimulationService) ListSimulations(
	ctx context.Context,
	userID int,
	query *model.SimulationQuery,
) ([]model.Simulation, int, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	return s.sims.GetSimulationsByUser(ctx, userID, query.Symbol, query.Status, page, limit)
}

// DeleteSimulation deletes a simulation owned by the user
func (s *SimulationService) DeleteSimulation(
	ctx context.Context,
	id int,
	userID int,
) error {
	if _, err := s.loadOwned(ctx, id, userID); err != nil {
		return err
	}
	return s.sims.DeleteSimulation(ctx, id, userID)
}
