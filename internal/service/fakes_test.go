package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"services/trading-simulation-service/internal/client"
	"services/trading-simulation-service/internal/model"

	"github.com/shopspring/decimal"
)

// fakeSimStore is an in-memory SimulationStore for tests
type fakeSimStore struct {
	mu     sync.Mutex
	sims   map[int]*model.Simulation
	nextID int

	// statusSeq, when non-empty, scripts successive GetStatus results
	statusSeq []model.SimulationStatus
	statusIdx int

	logs       []model.LogEntry
	usageSaves int
	completed  bool
	failedMsg  string
}

func newFakeSimStore(sims ...*model.Simulation) *fakeSimStore {
	f := &fakeSimStore{
		sims:   make(map[int]*model.Simulation),
		nextID: 1,
	}
	for _, s := range sims {
		if s.ID == 0 {
			s.ID = f.nextID
		}
		f.sims[s.ID] = s
		if s.ID >= f.nextID {
			f.nextID = s.ID + 1
		}
	}
	return f
}

func (f *fakeSimStore) CreateSimulation(ctx context.Context, sim *model.Simulation) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sim.ID = f.nextID
	f.nextID++
	f.sims[sim.ID] = sim
	return sim.ID, nil
}

func (f *fakeSimStore) GetSimulation(ctx context.Context, id int) (*model.Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sim, ok := f.sims[id]
	if !ok {
		return nil, nil
	}
	return sim, nil
}

func (f *fakeSimStore) GetStatus(ctx context.Context, id int) (model.SimulationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusIdx < len(f.statusSeq) {
		status := f.statusSeq[f.statusIdx]
		f.statusIdx++
		return status, nil
	}
	sim, ok := f.sims[id]
	if !ok {
		return "", fmt.Errorf("simulation %d not found", id)
	}
	return sim.Status, nil
}

func (f *fakeSimStore) GetSimulationsByUser(ctx context.Context, userID int, symbol, status string, page, limit int) ([]model.Simulation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Simulation
	for _, s := range f.sims {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, len(out), nil
}

func (f *fakeSimStore) TransitionStatus(ctx context.Context, id int, to model.SimulationStatus, from ...model.SimulationStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sim, ok := f.sims[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if sim.Status == s {
			sim.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSimStore) StopSimulation(ctx context.Context, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sim, ok := f.sims[id]
	if !ok {
		return false, nil
	}
	switch sim.Status {
	case model.StatusPending, model.StatusRunning, model.StatusPaused:
		sim.Status = model.StatusStopped
		summary := model.StoppedSummary
		sim.Summary = &summary
		return true, nil
	}
	return false, nil
}

func (f *fakeSimStore) CompleteSimulation(ctx context.Context, sim *model.Simulation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sims[sim.ID]
	if !ok || stored.Status != model.StatusRunning {
		return false, nil
	}
	stored.Status = model.StatusCompleted
	stored.TotalProfitLoss = sim.TotalProfitLoss
	stored.MaxDrawdown = sim.MaxDrawdown
	stored.SharpeRatio = sim.SharpeRatio
	stored.Summary = sim.Summary
	f.completed = true
	return true, nil
}

func (f *fakeSimStore) FailSimulation(ctx context.Context, id int, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sim, ok := f.sims[id]; ok {
		sim.Status = model.StatusFailed
		sim.ErrorMessage = &errorMessage
	}
	f.failedMsg = errorMessage
	return nil
}

func (f *fakeSimStore) AppendLog(ctx context.Context, id int, entries ...model.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entries...)
	return nil
}

func (f *fakeSimStore) UpdateUsage(ctx context.Context, sim *model.Simulation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageSaves++
	return nil
}

func (f *fakeSimStore) DeleteSimulation(ctx context.Context, id int, userID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sims, id)
	return nil
}

// fakeTradeStore records trades in memory
type fakeTradeStore struct {
	mu     sync.Mutex
	trades []model.Trade
	err    error
}

func (f *fakeTradeStore) RecordTrade(ctx context.Context, sim *model.Simulation, trade *model.Trade) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	trade.ID = len(f.trades) + 1
	f.trades = append(f.trades, *trade)
	return nil
}

func (f *fakeTradeStore) GetTradesBySimulation(ctx context.Context, simulationID int) ([]model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Trade, len(f.trades))
	copy(out, f.trades)
	return out, nil
}

// fakeMarketData serves a fixed candle series
type fakeMarketData struct {
	candles []model.Candle
	err     error
}

func (f *fakeMarketData) GetDailySeries(ctx context.Context, symbol, market string, count int) ([]model.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

// fakeOracle returns scripted responses in order, or a constant error
type fakeOracle struct {
	mu        sync.Mutex
	responses []*client.OracleResponse
	idx       int
	err       error
	calls     int
}

func (f *fakeOracle) Decide(ctx context.Context, req model.DecisionRequest) (*client.OracleResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.idx < len(f.responses) {
		resp := f.responses[f.idx]
		f.idx++
		return resp, nil
	}
	return &client.OracleResponse{Cost: decimal.Zero}, nil
}

// fakeDispatcher records dispatched simulation IDs
type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []int
	err        error
}

func (f *fakeDispatcher) DispatchRun(ctx context.Context, simulationID int) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, simulationID)
	return nil
}

// dailyCandles builds n consecutive daily candles at the given closes,
// starting at start
func dailyCandles(start time.Time, closes ...float64) []model.Candle {
	candles := make([]model.Candle, len(closes))
	for i, c := range closes {
		candles[i] = model.Candle{
			Date:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1000,
		}
	}
	return candles
}

// flatCandles builds n candles all closing at the same price
func flatCandles(start time.Time, n int, price float64) []model.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return dailyCandles(start, closes...)
}

func newTestSimulation(status model.SimulationStatus, start, end time.Time) *model.Simulation {
	return &model.Simulation{
		ID:             1,
		UserID:         7,
		Symbol:         "AAPL",
		Market:         "us",
		AgentName:      "deepseek",
		ModelKey:       "deepseek",
		InitialBalance: decimal.NewFromInt(50000),
		CurrentBalance: decimal.NewFromInt(50000),
		CurrentShares:  decimal.Zero,
		Currency:       "USD",
		StartDate:      start,
		EndDate:        end,
		Status:         status,
		Config: model.SimulationConfig{
			DecisionFrequency: "daily",
			MaxPositionSize:   0.5,
			StopLossPct:       0.1,
			TakeProfitPct:     0.2,
			RiskTolerance:     "medium",
		},
	}
}

func buyResponse(quantity float64) *client.OracleResponse {
	return &client.OracleResponse{
		Decision: &model.Decision{
			Action:     model.ActionBuy,
			Quantity:   decimal.NewFromFloat(quantity),
			Confidence: decimal.NewFromFloat(0.8),
			Reasoning:  "test buy",
		},
		TokensUsed: 100,
		Cost:       decimal.NewFromFloat(0.0002),
	}
}

func sellResponse(quantity float64) *client.OracleResponse {
	return &client.OracleResponse{
		Decision: &model.Decision{
			Action:     model.ActionSell,
			Quantity:   decimal.NewFromFloat(quantity),
			Confidence: decimal.NewFromFloat(0.8),
			Reasoning:  "test sell",
		},
		TokensUsed: 100,
		Cost:       decimal.NewFromFloat(0.0002),
	}
}

func holdResponse() *client.OracleResponse {
	return &client.OracleResponse{
		TokensUsed: 50,
		Cost:       decimal.NewFromFloat(0.0001),
	}
}
