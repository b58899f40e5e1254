package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the direction of an executed trade
type TradeAction string

// Trade actions
const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// MarketSnapshot captures the OHLCV bar observed at trade time
type MarketSnapshot struct {
	Price  float64 `json:"price"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Value implements the driver.Valuer interface for MarketSnapshot
func (m MarketSnapshot) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for MarketSnapshot
func (m *MarketSnapshot) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// Trade represents a single executed buy or sell. Trades are immutable
// once written; the before/after snapshots straddle the ledger mutation
// exactly.
type Trade struct {
	ID           int `json:"id,omitempty" db:"id"`
	SimulationID int `json:"simulation_id" db:"simulation_id"`

	TradeDate time.Time       `json:"trade_date" db:"trade_date"`
	Action    TradeAction     `json:"action" db:"action"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`

	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	Commission  decimal.Decimal `json:"commission" db:"commission"`

	SharesBefore decimal.Decimal `json:"shares_before" db:"shares_before"`
	SharesAfter  decimal.Decimal `json:"shares_after" db:"shares_after"`
	CashBefore   decimal.Decimal `json:"cash_before" db:"cash_before"`
	CashAfter    decimal.Decimal `json:"cash_after" db:"cash_after"`

	RealizedPnL decimal.NullDecimal `json:"realized_pnl" db:"realized_pnl"`

	LLMReasoning    string              `json:"llm_reasoning" db:"llm_reasoning"`
	ConfidenceScore decimal.NullDecimal `json:"confidence_score" db:"confidence_score"`
	MarketData      MarketSnapshot      `json:"market_data" db:"market_data"`
	TokensUsed      int                 `json:"tokens_used" db:"tokens_used"`
	LLMCost         decimal.Decimal     `json:"llm_cost" db:"llm_cost"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
