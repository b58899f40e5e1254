package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SimulationStatus represents the lifecycle state of a simulation
type SimulationStatus string

// Simulation lifecycle states
const (
	StatusPending   SimulationStatus = "pending"
	StatusRunning   SimulationStatus = "running"
	StatusPaused    SimulationStatus = "paused"
	StatusStopped   SimulationStatus = "stopped"
	StatusCompleted SimulationStatus = "completed"
	StatusFailed    SimulationStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions
func (s SimulationStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// StoppedSummary is written when a simulation is stopped by the user
const StoppedSummary = "Simulation was manually stopped by user"

// SimulationConfig holds the risk parameters passed into oracle prompts.
// The engine does not enforce stop-loss/take-profit itself; these are
// advisory inputs to the decision oracle.
type SimulationConfig struct {
	DecisionFrequency string  `json:"decision_frequency"`
	MaxPositionSize   float64 `json:"max_position_size"`
	StopLossPct       float64 `json:"stop_loss_pct"`
	TakeProfitPct     float64 `json:"take_profit_pct"`
	RiskTolerance     string  `json:"risk_tolerance"`
}

// Value implements the driver.Valuer interface for SimulationConfig
func (c SimulationConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for SimulationConfig
func (c *SimulationConfig) Scan(value interface{}) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, c)
}

// LogEntry is a single execution log line. The log is append-only;
// entries are never mutated once written.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// ExecutionLog is the ordered sequence of log entries for a simulation
type ExecutionLog []LogEntry

// Value implements the driver.Valuer interface for ExecutionLog
func (l ExecutionLog) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal(ExecutionLog{})
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for ExecutionLog
func (l *ExecutionLog) Scan(value interface{}) error {
	if value == nil {
		*l = ExecutionLog{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, l)
}

// Simulation represents one AI agent backtest run
type Simulation struct {
	ID     int    `json:"id" db:"id"`
	UserID int    `json:"user_id" db:"user_id"`
	Symbol string `json:"symbol" db:"symbol"`
	Market string `json:"market" db:"market"`

	AgentName string `json:"agent_name" db:"agent_name"`
	ModelKey  string `json:"model_key" db:"model_key"`

	InitialBalance decimal.Decimal     `json:"initial_balance" db:"initial_balance"`
	CurrentBalance decimal.Decimal     `json:"current_balance" db:"current_balance"`
	CurrentShares  decimal.Decimal     `json:"current_shares" db:"current_shares"`
	AverageCost    decimal.NullDecimal `json:"average_cost" db:"average_cost"`
	Currency       string              `json:"currency" db:"currency"`

	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`

	Status SimulationStatus `json:"status" db:"status"`

	TotalTrades     int                 `json:"total_trades" db:"total_trades"`
	WinningTrades   int                 `json:"winning_trades" db:"winning_trades"`
	LosingTrades    int                 `json:"losing_trades" db:"losing_trades"`
	TotalProfitLoss decimal.Decimal     `json:"total_profit_loss" db:"total_profit_loss"`
	MaxDrawdown     decimal.NullDecimal `json:"max_drawdown" db:"max_drawdown"`
	SharpeRatio     decimal.NullDecimal `json:"sharpe_ratio" db:"sharpe_ratio"`

	TotalTokensUsed int             `json:"total_tokens_used" db:"total_tokens_used"`
	TotalLLMCost    decimal.Decimal `json:"total_llm_cost" db:"total_llm_cost"`

	Config       SimulationConfig `json:"config" db:"config"`
	ExecutionLog ExecutionLog     `json:"execution_log" db:"execution_log"`

	Summary      *string `json:"summary,omitempty" db:"summary"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PortfolioValue returns cash plus position value at the given price
func (s *Simulation) PortfolioValue(price decimal.Decimal) decimal.Decimal {
	return s.CurrentBalance.Add(s.CurrentShares.Mul(price))
}

// SimulationRequest represents the input parameters for a new simulation
type SimulationRequest struct {
	Symbol    string            `json:"symbol" binding:"required"`
	Market    string            `json:"market" binding:"required,oneof=us cn hk crypto"`
	AgentName string            `json:"agent_name" binding:"required"`
	Config    *SimulationConfig `json:"config,omitempty"`
}

// SimulationQuery represents list filters for simulations
type SimulationQuery struct {
	Symbol string `form:"symbol"`
	Status string `form:"status"`
	Page   int    `form:"page,default=1"`
	Limit  int    `form:"limit,default=20"`
}

// AgentInfo describes an available decision oracle agent
type AgentInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	ModelName   string `json:"model_name"`
	Available   bool   `json:"available"`
}
