package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"services/trading-simulation-service/internal/client"
	"services/trading-simulation-service/internal/model"
)

func TestEngineRunCompletesOnOracleFailures(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)
	trades := &fakeTradeStore{}
	md := &fakeMarketData{candles: flatCandles(start, 25, 100)}
	oracle := &fakeOracle{err: errors.New("gateway unavailable")}

	engine := newTestEngine(store, trades, md, oracle)

	if err := engine.Run(ctx, sim.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sim.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", sim.Status)
	}
	if sim.TotalTrades != 0 {
		t.Errorf("total trades = %d, want 0", sim.TotalTrades)
	}
	if !sim.TotalProfitLoss.IsZero() {
		t.Errorf("total P&L = %s, want 0", sim.TotalProfitLoss)
	}
	if oracle.calls != 25 {
		t.Errorf("oracle calls = %d, want 25", oracle.calls)
	}
}

func TestEngineRunTradesAndCompletes(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)
	trades := &fakeTradeStore{}

	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	md := &fakeMarketData{candles: dailyCandles(start, closes...)}

	responses := make([]*client.OracleResponse, 25)
	responses[0] = buyResponse(100)
	responses[5] = sellResponse(40)
	for i, r := range responses {
		if r == nil {
			responses[i] = holdResponse()
		}
	}
	oracle := &fakeOracle{responses: responses}

	engine := newTestEngine(store, trades, md, oracle)

	if err := engine.Run(ctx, sim.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sim.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", sim.Status)
	}
	if len(trades.trades) != 2 {
		t.Fatalf("recorded trades = %d, want 2", len(trades.trades))
	}
	if trades.trades[0].Action != model.ActionBuy || trades.trades[1].Action != model.ActionSell {
		t.Errorf("trade actions = %s, %s", trades.trades[0].Action, trades.trades[1].Action)
	}
	// Sell at 105 against a 100 cost basis is a win
	if sim.WinningTrades != 1 {
		t.Errorf("winning trades = %d, want 1", sim.WinningTrades)
	}
	if sim.Summary == nil || !strings.Contains(*sim.Summary, "Trading Simulation Summary") {
		t.Error("completion summary missing")
	}
	if !sim.MaxDrawdown.Valid {
		t.Error("max drawdown not set")
	}
	// Usage accumulates across every oracle call, trade or hold
	if sim.TotalTokensUsed == 0 || sim.TotalLLMCost.IsZero() {
		t.Error("oracle usage not accumulated")
	}
}

func TestEngineRunFailsOnInsufficientData(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)
	md := &fakeMarketData{candles: flatCandles(start, 5, 100)}

	engine := newTestEngine(store, &fakeTradeStore{}, md, &fakeOracle{})

	err := engine.Run(ctx, sim.ID)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Run error = %v, want ErrInsufficientData", err)
	}
	if sim.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", sim.Status)
	}
	if sim.ErrorMessage == nil {
		t.Error("error message not recorded")
	}
}

func TestEngineRunFailsOnMarketDataError(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)
	md := &fakeMarketData{err: errors.New("service unreachable")}

	engine := newTestEngine(store, &fakeTradeStore{}, md, &fakeOracle{})

	if err := engine.Run(ctx, sim.ID); err == nil {
		t.Fatal("expected error from market data failure")
	}
	if sim.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", sim.Status)
	}
}

func TestEngineRunObservesStop(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)
	store.statusSeq = []model.SimulationStatus{
		model.StatusRunning,
		model.StatusRunning,
		model.StatusStopped,
	}
	md := &fakeMarketData{candles: flatCandles(start, 25, 100)}
	oracle := &fakeOracle{err: errors.New("gateway unavailable")}

	engine := newTestEngine(store, &fakeTradeStore{}, md, oracle)

	if err := engine.Run(ctx, sim.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Stop is observed at the top of day three: two decisions were made,
	// the status is left untouched, and no completion is written.
	if oracle.calls != 2 {
		t.Errorf("oracle calls = %d, want 2", oracle.calls)
	}
	if store.completed {
		t.Error("stopped run must not be completed")
	}
	if store.failedMsg != "" {
		t.Errorf("stopped run must not fail, got %q", store.failedMsg)
	}
}

func TestEngineRunObservesPause(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)
	store.statusSeq = []model.SimulationStatus{
		model.StatusRunning,
		model.StatusPaused,
	}
	md := &fakeMarketData{candles: flatCandles(start, 25, 100)}
	oracle := &fakeOracle{err: errors.New("gateway unavailable")}

	engine := newTestEngine(store, &fakeTradeStore{}, md, oracle)

	if err := engine.Run(ctx, sim.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if oracle.calls != 1 {
		t.Errorf("oracle calls = %d, want 1", oracle.calls)
	}
	if store.completed || store.failedMsg != "" {
		t.Error("paused run must stay paused")
	}
}

func TestEngineRunFallsBackToRecentWindow(t *testing.T) {
	ctx := context.Background()
	// Simulation window far in the future of the available history
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)

	dataStart := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	md := &fakeMarketData{candles: flatCandles(dataStart, 80, 100)}
	oracle := &fakeOracle{err: errors.New("gateway unavailable")}

	engine := newTestEngine(store, &fakeTradeStore{}, md, oracle)

	if err := engine.Run(ctx, sim.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if sim.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", sim.Status)
	}
	// 80 points available, fallback caps the window at 60
	if oracle.calls != 60 {
		t.Errorf("oracle calls = %d, want 60", oracle.calls)
	}

	found := false
	for _, entry := range store.logs {
		if strings.Contains(entry.Message, "falling back") {
			found = true
			break
		}
	}
	if !found {
		t.Error("fallback log entry missing")
	}
}

func TestEngineRunSkipsNonRunningSimulation(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusPending, start, start.AddDate(0, 0, 40))
	store := newFakeSimStore(sim)
	oracle := &fakeOracle{}

	engine := newTestEngine(store, &fakeTradeStore{}, &fakeMarketData{}, oracle)

	if err := engine.Run(ctx, sim.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if oracle.calls != 0 {
		t.Errorf("oracle calls = %d, want 0 for duplicate dispatch", oracle.calls)
	}
	if sim.Status != model.StatusPending {
		t.Errorf("status = %s, want unchanged pending", sim.Status)
	}
}

func TestEngineLookbackBounded(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	sim := newTestSimulation(model.StatusRunning, start, start.AddDate(0, 0, 60))
	store := newFakeSimStore(sim)
	md := &fakeMarketData{candles: flatCandles(start, 40, 100)}

	maxHistory := 0
	oracle := &recordingOracle{onDecide: func(req model.DecisionRequest) {
		if len(req.PriceHistory) > maxHistory {
			maxHistory = len(req.PriceHistory)
		}
	}}

	engine := newTestEngine(store, &fakeTradeStore{}, md, oracle)

	if err := engine.Run(ctx, sim.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 20 prior days plus the current one
	if maxHistory != 21 {
		t.Errorf("max history length = %d, want 21", maxHistory)
	}
}

// recordingOracle invokes a callback per request and always holds
type recordingOracle struct {
	onDecide func(req model.DecisionRequest)
}

func (r *recordingOracle) Decide(ctx context.Context, req model.DecisionRequest) (*client.OracleResponse, error) {
	if r.onDecide != nil {
		r.onDecide(req)
	}
	return holdResponse(), nil
}
