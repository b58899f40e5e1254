package service

import (
	"context"
	"fmt"

	"services/trading-simulation-service/internal/model"

	"github.com/shopspring/decimal"
)

// commissionRate is charged on the gross amount of every trade (0.1%)
var commissionRate = decimal.NewFromFloat(0.001)

// affordabilityBuffer keeps a cash margin when clamping an unaffordable
// buy so rounding can never push the balance negative
var affordabilityBuffer = decimal.NewFromFloat(0.99)

// executeDecision applies a buy or sell decision to the simulation
// ledger and returns the resulting trade. It mutates sim in place; the
// caller persists both atomically via the trade store. A decision whose
// quantity clamps to zero returns nil (skipped day).
func (e *Engine) executeDecision(ctx context.Context, sim *model.Simulation, decision *model.Decision, day model.Candle) *model.Trade {
	price := decimal.NewFromFloat(day.Close)
	quantity := decision.Quantity

	if quantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var trade *model.Trade
	switch decision.Action {
	case model.ActionBuy:
		trade = e.executeBuy(ctx, sim, quantity, price, day)
	case model.ActionSell:
		trade = e.executeSell(ctx, sim, quantity, price, day)
	default:
		return nil
	}

	if trade == nil {
		return nil
	}

	sim.TotalTrades++

	trade.LLMReasoning = decision.Reasoning
	trade.ConfidenceScore = decimal.NullDecimal{Decimal: decision.Confidence, Valid: true}
	trade.TokensUsed = decision.TokensUsed
	trade.LLMCost = decision.LLMCost

	return trade
}

func (e *Engine) executeBuy(ctx context.Context, sim *model.Simulation, quantity, price decimal.Decimal, day model.Candle) *model.Trade {
	cost := quantity.Mul(price)
	commission := cost.Mul(commissionRate)
	totalCost := cost.Add(commission)

	if totalCost.GreaterThan(sim.CurrentBalance) {
		// Clamp to what the cash balance can carry, commission included
		quantity = sim.CurrentBalance.Mul(affordabilityBuffer).
			Div(price.Mul(decimal.NewFromInt(1).Add(commissionRate)))
		cost = quantity.Mul(price)
		commission = cost.Mul(commissionRate)
		totalCost = cost.Add(commission)

		e.addLog(ctx, sim, "warning",
			fmt.Sprintf("  Buy clamped to affordable quantity: %s shares", quantity.StringFixed(2)))
	}

	if quantity.LessThanOrEqual(decimal.Zero) {
		e.addLog(ctx, sim, "warning", "  Buy skipped: insufficient cash")
		return nil
	}

	sharesBefore := sim.CurrentShares
	cashBefore := sim.CurrentBalance

	sim.CurrentShares = sim.CurrentShares.Add(quantity)
	sim.CurrentBalance = sim.CurrentBalance.Sub(totalCost)

	// Weighted average cost over the enlarged position
	if sharesBefore.GreaterThan(decimal.Zero) {
		prevCost := price
		if sim.AverageCost.Valid {
			prevCost = sim.AverageCost.Decimal
		}
		basis := sharesBefore.Mul(prevCost).Add(cost)
		sim.AverageCost = decimal.NullDecimal{Decimal: basis.Div(sim.CurrentShares), Valid: true}
	} else {
		sim.AverageCost = decimal.NullDecimal{Decimal: price, Valid: true}
	}

	e.addLog(ctx, sim, "success",
		fmt.Sprintf("  Bought %s shares @ %s | commission %s | total cost %s",
			quantity.StringFixed(2), price.StringFixed(2),
			commission.StringFixed(2), totalCost.StringFixed(2)))
	e.addLog(ctx, sim, "info",
		fmt.Sprintf("  After trade: %s shares | cash %s",
			sim.CurrentShares.StringFixed(2), sim.CurrentBalance.StringFixed(2)))

	return &model.Trade{
		SimulationID: sim.ID,
		TradeDate:    day.Date,
		Action:       model.ActionBuy,
		Symbol:       sim.Symbol,
		Quantity:     quantity,
		Price:        price,
		TotalAmount:  totalCost,
		Commission:   commission,
		SharesBefore: sharesBefore,
		SharesAfter:  sim.CurrentShares,
		CashBefore:   cashBefore,
		CashAfter:    sim.CurrentBalance,
		MarketData:   day.Snapshot(),
	}
}

func (e *Engine) executeSell(ctx context.Context, sim *model.Simulation, quantity, price decimal.Decimal, day model.Candle) *model.Trade {
	if quantity.GreaterThan(sim.CurrentShares) {
		quantity = sim.CurrentShares
		e.addLog(ctx, sim, "warning",
			fmt.Sprintf("  Sell clamped to held position: %s shares", quantity.StringFixed(2)))
	}

	if quantity.LessThanOrEqual(decimal.Zero) {
		e.addLog(ctx, sim, "warning", "  Sell skipped: no shares held")
		return nil
	}

	proceeds := quantity.Mul(price)
	commission := proceeds.Mul(commissionRate)
	netProceeds := proceeds.Sub(commission)

	sharesBefore := sim.CurrentShares
	cashBefore := sim.CurrentBalance

	costPerShare := price
	if sim.AverageCost.Valid {
		costPerShare = sim.AverageCost.Decimal
	}
	costBasis := quantity.Mul(costPerShare)
	realizedPnL := netProceeds.Sub(costBasis)

	sim.CurrentShares = sim.CurrentShares.Sub(quantity)
	sim.CurrentBalance = sim.CurrentBalance.Add(netProceeds)

	// Average cost is undefined once the position is flat
	if sim.CurrentShares.LessThanOrEqual(decimal.Zero) {
		sim.AverageCost = decimal.NullDecimal{}
	}

	if realizedPnL.GreaterThan(decimal.Zero) {
		sim.WinningTrades++
	} else if realizedPnL.LessThan(decimal.Zero) {
		sim.LosingTrades++
	}

	level := "info"
	if realizedPnL.GreaterThan(decimal.Zero) {
		level = "success"
	} else if realizedPnL.LessThan(decimal.Zero) {
		level = "warning"
	}

	e.addLog(ctx, sim, level,
		fmt.Sprintf("  Sold %s shares @ %s | commission %s | net proceeds %s",
			quantity.StringFixed(2), price.StringFixed(2),
			commission.StringFixed(2), netProceeds.StringFixed(2)))
	e.addLog(ctx, sim, level,
		fmt.Sprintf("  Realized P&L: %s | cost basis %s",
			realizedPnL.StringFixed(2), costBasis.StringFixed(2)))
	e.addLog(ctx, sim, "info",
		fmt.Sprintf("  After trade: %s shares | cash %s",
			sim.CurrentShares.StringFixed(2), sim.CurrentBalance.StringFixed(2)))

	return &model.Trade{
		SimulationID: sim.ID,
		TradeDate:    day.Date,
		Action:       model.ActionSell,
		Symbol:       sim.Symbol,
		Quantity:     quantity,
		Price:        price,
		TotalAmount:  netProceeds,
		Commission:   commission,
		SharesBefore: sharesBefore,
		SharesAfter:  sim.CurrentShares,
		CashBefore:   cashBefore,
		CashAfter:    sim.CurrentBalance,
		RealizedPnL:  decimal.NullDecimal{Decimal: realizedPnL, Valid: true},
		MarketData:   day.Snapshot(),
	}
}
