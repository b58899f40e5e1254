package service

import (
	"fmt"
	"math"
	"strings"

	"services/trading-simulation-service/internal/model"

	"github.com/shopspring/decimal"
)

// tradingDaysPerYear is the annualization factor for the Sharpe ratio
const tradingDaysPerYear = 252

// CalculateMetrics computes final performance metrics from the recorded
// trade sequence and writes them onto the simulation. With no trades all
// metrics stay at their zero values.
func CalculateMetrics(sim *model.Simulation, trades []model.Trade) {
	if len(trades) == 0 {
		return
	}

	realized := decimal.Zero
	for _, t := range trades {
		if t.RealizedPnL.Valid {
			realized = realized.Add(t.RealizedPnL.Decimal)
		}
	}

	// Unrealized P&L on the remaining position, valued at the last
	// trade's price against the average cost basis.
	unrealized := decimal.Zero
	if sim.CurrentShares.GreaterThan(decimal.Zero) {
		lastPrice := trades[len(trades)-1].Price
		cost := lastPrice
		if sim.AverageCost.Valid {
			cost = sim.AverageCost.Decimal
		}
		unrealized = sim.CurrentShares.Mul(lastPrice.Sub(cost))
	}

	sim.TotalProfitLoss = realized.Add(unrealized)

	// Portfolio value after each trade drives drawdown and returns
	values := make([]decimal.Decimal, len(trades))
	for i, t := range trades {
		values[i] = t.CashAfter.Add(t.SharesAfter.Mul(t.Price))
	}

	peak := values[0]
	maxDD := decimal.Zero
	for _, v := range values {
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.GreaterThan(decimal.Zero) {
			dd := peak.Sub(v).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	sim.MaxDrawdown = decimal.NullDecimal{Decimal: maxDD, Valid: true}

	var returns []float64
	for i := 1; i < len(values); i++ {
		prev, _ := values[i-1].Float64()
		cur, _ := values[i].Float64()
		if prev > 0 {
			returns = append(returns, (cur-prev)/prev)
		}
	}

	if sharpe, ok := sharpeRatio(returns); ok {
		sim.SharpeRatio = decimal.NullDecimal{Decimal: decimal.NewFromFloat(sharpe).Round(4), Valid: true}
	}
}

// sharpeRatio returns the annualized Sharpe ratio (risk-free rate zero)
// over trade-to-trade returns. Fewer than two returns gives no ratio;
// zero variance gives a ratio of exactly zero.
func sharpeRatio(returns []float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, false
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sqDiff float64
	for _, r := range returns {
		d := r - mean
		sqDiff += d * d
	}
	// Sample standard deviation
	stdev := math.Sqrt(sqDiff / float64(len(returns)-1))

	if stdev == 0 {
		return 0, true
	}
	return (mean / stdev) * math.Sqrt(tradingDaysPerYear), true
}

// GenerateSummary renders the human-readable completion report
func GenerateSummary(sim *model.Simulation) string {
	winRate := 0.0
	if sim.TotalTrades > 0 {
		winRate = float64(sim.WinningTrades) / float64(sim.TotalTrades) * 100
	}

	roi := decimal.Zero
	if sim.InitialBalance.GreaterThan(decimal.Zero) {
		roi = sim.TotalProfitLoss.Div(sim.InitialBalance).Mul(decimal.NewFromInt(100))
	}

	avgCost := decimal.Zero
	if sim.AverageCost.Valid {
		avgCost = sim.AverageCost.Decimal
	}
	finalValue := sim.CurrentBalance.Add(sim.CurrentShares.Mul(avgCost))

	maxDD := decimal.Zero
	if sim.MaxDrawdown.Valid {
		maxDD = sim.MaxDrawdown.Decimal
	}
	sharpe := decimal.Zero
	if sim.SharpeRatio.Valid {
		sharpe = sim.SharpeRatio.Decimal
	}

	roiSign := ""
	if roi.GreaterThanOrEqual(decimal.Zero) {
		roiSign = "+"
	}

	var b strings.Builder
	b.WriteString("Trading Simulation Summary\n\n")

	b.WriteString("Performance Metrics:\n")
	fmt.Fprintf(&b, "- Total Trades: %d\n", sim.TotalTrades)
	fmt.Fprintf(&b, "- Winning Trades: %d\n", sim.WinningTrades)
	fmt.Fprintf(&b, "- Losing Trades: %d\n", sim.LosingTrades)
	fmt.Fprintf(&b, "- Win Rate: %.1f%%\n\n", winRate)

	b.WriteString("Financial Results:\n")
	fmt.Fprintf(&b, "- Initial Balance: %s %s\n", sim.InitialBalance.StringFixed(2), sim.Currency)
	fmt.Fprintf(&b, "- Final Portfolio Value: %s %s\n", finalValue.StringFixed(2), sim.Currency)
	fmt.Fprintf(&b, "- Total P&L: %s %s (%s%s%%)\n", sim.TotalProfitLoss.StringFixed(2), sim.Currency, roiSign, roi.StringFixed(2))
	fmt.Fprintf(&b, "- ROI: %s%%\n\n", roi.StringFixed(2))

	b.WriteString("Risk Metrics:\n")
	fmt.Fprintf(&b, "- Max Drawdown: %s%%\n", maxDD.Mul(decimal.NewFromInt(100)).StringFixed(2))
	fmt.Fprintf(&b, "- Sharpe Ratio: %s\n\n", sharpe.StringFixed(4))

	b.WriteString("Position Details:\n")
	fmt.Fprintf(&b, "- Final Cash: %s %s\n", sim.CurrentBalance.StringFixed(2), sim.Currency)
	fmt.Fprintf(&b, "- Final Shares: %s\n", sim.CurrentShares.StringFixed(6))
	fmt.Fprintf(&b, "- Average Cost: %s %s\n\n", avgCost.StringFixed(2), sim.Currency)

	b.WriteString("AI Agent Stats:\n")
	fmt.Fprintf(&b, "- Agent: %s\n", strings.ToUpper(sim.AgentName))
	fmt.Fprintf(&b, "- Total Tokens: %d\n", sim.TotalTokensUsed)
	fmt.Fprintf(&b, "- LLM Cost: $%s\n", sim.TotalLLMCost.StringFixed(4))

	return b.String()
}
