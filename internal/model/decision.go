package model

import (
	"github.com/shopspring/decimal"
)

// Decision is a validated buy/sell decision returned by the oracle.
// A hold (or any unusable oracle response) is represented as a nil
// *Decision by the adapter, with usage still accounted for.
type Decision struct {
	Action     TradeAction
	Quantity   decimal.Decimal
	Confidence decimal.Decimal
	Reasoning  string
	TokensUsed int
	LLMCost    decimal.Decimal
}

// DecisionRequest is the market context handed to the decision oracle
// for one simulated day.
type DecisionRequest struct {
	Symbol       string
	Currency     string
	ModelKey     string
	CashBalance  decimal.Decimal
	Shares       decimal.Decimal
	CurrentPrice decimal.Decimal
	Today        Candle
	// PriceHistory is the bounded trailing window, oldest first,
	// including today's candle (at most 21 points).
	PriceHistory []Candle
	Config       SimulationConfig
}
