package service

import (
	"context"
	"fmt"
	"time"

	"services/trading-simulation-service/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine drives one execution attempt of a simulation from running to a
// terminal or interrupted state. The loop is sequential: each day's
// decision depends on the ledger outcome of all prior days.
type Engine struct {
	sims          SimulationStore
	trades        TradeStore
	marketData    MarketDataProvider
	oracle        DecisionOracle
	oracleTimeout time.Duration
	lookbackDays  int
	outputSize    int
	minDataPoints int
	minWindowDays int
	fallbackDays  int
	logger        *zap.Logger
}

// EngineOptions contains configuration for creating an Engine
type EngineOptions struct {
	Sims          SimulationStore
	Trades        TradeStore
	MarketData    MarketDataProvider
	Oracle        DecisionOracle
	OracleTimeout time.Duration
	LookbackDays  int
	OutputSize    int
	MinDataPoints int
	MinWindowDays int
	FallbackDays  int
}

// NewEngine creates a simulation engine
func NewEngine(opts EngineOptions, logger *zap.Logger) *Engine {
	e := &Engine{
		sims:          opts.Sims,
		trades:        opts.Trades,
		marketData:    opts.MarketData,
		oracle:        opts.Oracle,
		oracleTimeout: opts.OracleTimeout,
		lookbackDays:  opts.LookbackDays,
		outputSize:    opts.OutputSize,
		minDataPoints: opts.MinDataPoints,
		minWindowDays: opts.MinWindowDays,
		fallbackDays:  opts.FallbackDays,
		logger:        logger,
	}

	if e.oracleTimeout == 0 {
		e.oracleTimeout = 60 * time.Second
	}
	if e.lookbackDays == 0 {
		e.lookbackDays = 20
	}
	if e.outputSize == 0 {
		e.outputSize = 100
	}
	if e.minDataPoints == 0 {
		e.minDataPoints = 20
	}
	if e.minWindowDays == 0 {
		e.minWindowDays = 10
	}
	if e.fallbackDays == 0 {
		e.fallbackDays = 60
	}

	return e
}

// Run executes one attempt for the given simulation. The simulation
// must already be in running status (claimed by the lifecycle
// controller); anything else is treated as a duplicate dispatch and
// skipped. Failures mark the simulation failed and preserve all trades
// written so far.
func (e *Engine) Run(ctx context.Context, simulationID int) error {
	sim, err := e.sims.GetSimulation(ctx, simulationID)
	if err != nil {
		return err
	}
	if sim == nil {
		return fmt.Errorf("simulation %d not found", simulationID)
	}

	if sim.Status != model.StatusRunning {
		e.logger.Warn("Skipping run task: simulation not in running status",
			zap.Int("id", simulationID),
			zap.String("status", string(sim.Status)))
		return nil
	}

	if err := e.run(ctx, sim); err != nil {
		e.addLog(ctx, sim, "error", fmt.Sprintf("Simulation failed: %v", err))
		if failErr := e.sims.FailSimulation(ctx, sim.ID, err.Error()); failErr != nil {
			// Store unreachable even for the failure write; the run
			// stays in its last-known status for external reconciliation.
			e.logger.Error("Failed to persist failure status",
				zap.Error(failErr),
				zap.Int("id", sim.ID))
		}
		return err
	}

	return nil
}

// run is the simulation loop proper. A nil return means the attempt
// ended cleanly: either the window was exhausted (completed) or an
// external pause/stop was observed (status left as observed).
func (e *Engine) run(ctx context.Context, sim *model.Simulation) error {
	e.addLog(ctx, sim, "info", fmt.Sprintf("Starting AI trading simulation - %s agent", sim.AgentName))
	e.addLog(ctx, sim, "info", fmt.Sprintf("Instrument: %s (%s)", sim.Symbol, sim.Market))
	e.addLog(ctx, sim, "info", fmt.Sprintf("Initial balance: %s %s", sim.InitialBalance.StringFixed(2), sim.Currency))

	e.addLog(ctx, sim, "info", "Fetching historical market data...")
	candles, err := e.marketData.GetDailySeries(ctx, sim.Symbol, sim.Market, e.outputSize)
	if err != nil {
		return fmt.Errorf("failed to fetch market data: %w", err)
	}

	if len(candles) < e.minDataPoints {
		e.addLog(ctx, sim, "error", "Not enough historical data to run the simulation")
		return ErrInsufficientData
	}

	e.addLog(ctx, sim, "info", fmt.Sprintf("Fetched %d historical data points", len(candles)))

	window := selectWindow(candles, sim.StartDate, sim.EndDate)
	if len(window) < e.minWindowDays {
		// Window is outside available history; back-test over the most
		// recent points instead.
		if len(candles) > e.fallbackDays {
			window = candles[len(candles)-e.fallbackDays:]
		} else {
			window = candles
		}
		e.addLog(ctx, sim, "warning",
			fmt.Sprintf("Simulation window has too little data; falling back to the most recent %d days", len(window)))
	}

	e.addLog(ctx, sim, "info", fmt.Sprintf("Backtest starting over %d trading days", len(window)))

	interrupted, err := e.runDays(ctx, sim, window)
	if err != nil {
		return err
	}
	if interrupted {
		// Pause or stop was observed; leave status exactly as the
		// command set it.
		return nil
	}

	e.addLog(ctx, sim, "info", "Calculating final performance metrics...")

	trades, err := e.trades.GetTradesBySimulation(ctx, sim.ID)
	if err != nil {
		return fmt.Errorf("failed to load trades for metrics: %w", err)
	}

	CalculateMetrics(sim, trades)
	summary := GenerateSummary(sim)
	sim.Summary = &summary

	e.addLog(ctx, sim, "info", fmt.Sprintf("Total trades: %d", sim.TotalTrades))
	e.addLog(ctx, sim, "info", fmt.Sprintf("Total P&L: %s %s", sim.TotalProfitLoss.StringFixed(2), sim.Currency))
	e.addLog(ctx, sim, "success", "Simulation completed")

	completed, err := e.sims.CompleteSimulation(ctx, sim)
	if err != nil {
		return fmt.Errorf("failed to complete simulation: %w", err)
	}
	if !completed {
		// A stop raced in after the last day; its status wins.
		e.logger.Info("Simulation status changed during finalization, leaving as-is",
			zap.Int("id", sim.ID))
	}

	return nil
}

// runDays iterates the selected window chronologically. Returns true if
// the loop was interrupted by an externally-requested pause or stop.
func (e *Engine) runDays(ctx context.Context, sim *model.Simulation, window []model.Candle) (bool, error) {
	for i, day := range window {
		// The loop body begins with a non-blocking status read; this is
		// the cancellation point. An oracle call already in progress
		// cannot be aborted mid-flight.
		status, err := e.sims.GetStatus(ctx, sim.ID)
		if err != nil {
			return false, fmt.Errorf("failed to read simulation status: %w", err)
		}
		switch status {
		case model.StatusStopped:
			e.addLog(ctx, sim, "warning", "Simulation stopped by user")
			return true, nil
		case model.StatusPaused:
			e.addLog(ctx, sim, "warning", "Simulation paused by user, awaiting resume")
			return true, nil
		}

		price := decimal.NewFromFloat(day.Close)
		positionValue := sim.CurrentShares.Mul(price)
		totalValue := sim.CurrentBalance.Add(positionValue)

		e.addLog(ctx, sim, "info", fmt.Sprintf("Day %d/%d (%s)", i+1, len(window), day.Date.Format("2006-01-02")))
		e.addLog(ctx, sim, "info", fmt.Sprintf("  Price: %.2f | Open: %.2f | High: %.2f | Low: %.2f",
			day.Close, day.Open, day.High, day.Low))
		e.addLog(ctx, sim, "info", fmt.Sprintf("  Position: %s shares (%s) | Cash: %s | Total: %s",
			sim.CurrentShares.StringFixed(2),
			positionValue.StringFixed(2),
			sim.CurrentBalance.StringFixed(2),
			totalValue.StringFixed(2)))

		lookbackStart := i - e.lookbackDays
		if lookbackStart < 0 {
			lookbackStart = 0
		}

		decisionReq := model.DecisionRequest{
			Symbol:       sim.Symbol,
			Currency:     sim.Currency,
			ModelKey:     sim.ModelKey,
			CashBalance:  sim.CurrentBalance,
			Shares:       sim.CurrentShares,
			CurrentPrice: price,
			Today:        day,
			PriceHistory: window[lookbackStart : i+1],
			Config:       sim.Config,
		}

		oracleCtx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
		resp, err := e.oracle.Decide(oracleCtx, decisionReq)
		cancel()

		if err != nil {
			// Oracle failures are never fatal to the run; the day is a
			// hold with zero cost and tokens.
			e.logger.Warn("Oracle decision failed, holding",
				zap.Error(err),
				zap.Int("id", sim.ID),
				zap.String("date", day.Date.Format("2006-01-02")))
			e.addLog(ctx, sim, "warning", "  Oracle unavailable, holding position")
			continue
		}

		sim.TotalTokensUsed += resp.TokensUsed
		sim.TotalLLMCost = sim.TotalLLMCost.Add(resp.Cost)

		if resp.Decision == nil {
			e.addLog(ctx, sim, "info", "  Decision: HOLD")
			if err := e.sims.UpdateUsage(ctx, sim); err != nil {
				return false, fmt.Errorf("failed to persist oracle usage: %w", err)
			}
			continue
		}

		decision := resp.Decision
		e.addLog(ctx, sim, "info", fmt.Sprintf("  Decision: %s %s shares (confidence %s%%)",
			decision.Action,
			decision.Quantity.StringFixed(2),
			decision.Confidence.Mul(decimal.NewFromInt(100)).StringFixed(1)))
		e.addLog(ctx, sim, "info", fmt.Sprintf("  Reasoning: %s", truncate(decision.Reasoning, 100)))

		trade := e.executeDecision(ctx, sim, decision, day)
		if trade == nil {
			// Clamped to zero; a skipped day, not an error.
			if err := e.sims.UpdateUsage(ctx, sim); err != nil {
				return false, fmt.Errorf("failed to persist oracle usage: %w", err)
			}
			continue
		}

		if err := e.trades.RecordTrade(ctx, sim, trade); err != nil {
			return false, fmt.Errorf("failed to record trade: %w", err)
		}
	}

	return false, nil
}

// selectWindow returns the candles whose dates fall within the
// inclusive [start, end] simulation period
func selectWindow(candles []model.Candle, start, end time.Time) []model.Candle {
	var window []model.Candle
	for _, c := range candles {
		if c.Date.Before(start) || c.Date.After(end) {
			continue
		}
		window = append(window, c)
	}
	return window
}

// addLog appends an entry to the simulation's execution log, both on the
// in-memory record and in the store. Log persistence is best-effort; a
// failed append never interrupts the run.
func (e *Engine) addLog(ctx context.Context, sim *model.Simulation, level, message string) {
	entry := model.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
	}
	sim.ExecutionLog = append(sim.ExecutionLog, entry)

	if err := e.sims.AppendLog(ctx, sim.ID, entry); err != nil {
		e.logger.Warn("Failed to persist execution log entry",
			zap.Error(err),
			zap.Int("id", sim.ID))
	}

	e.logger.Info("Simulation log",
		zap.Int("id", sim.ID),
		zap.String("level", level),
		zap.String("message", message))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
