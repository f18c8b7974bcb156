package monitor

import (
	"github.com/shopspring/decimal"

	"mt4core/internal/model"
)

const (
	scopeSymbol        = "BTCUSDT"
	scopeCategory      = "FIBONACCI_SCALPING"
	profitProtectAt    = "0.40"
	stagnantProgressAt = "0.50"
)

var (
	profitProtectThreshold = decimal.RequireFromString(profitProtectAt)
	stagnantThreshold      = decimal.RequireFromString(stagnantProgressAt)
)

// inScope implements the monitor's scope filter (spec §4.4 step 1): only
// BTCUSDT positions opened under the Fibonacci-scalping strategy are
// eligible for LLM-driven exit evaluation.
func inScope(symbol string, signal model.EntrySignalData) bool {
	return symbol == scopeSymbol && signal.Category == scopeCategory
}

// direction returns +1 for a long position, -1 for a short one.
func direction(side model.Side) decimal.Decimal {
	if side == model.SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// pnlPercent computes profit as a percentage of position value, falling
// back to a pure price-change percent when the position value is
// non-positive (spec §4.4 step 3).
func pnlPercent(profit, entryPrice, lotSize, currentPrice decimal.Decimal, side model.Side) decimal.Decimal {
	positionValue := entryPrice.Mul(lotSize)
	if positionValue.IsPositive() {
		return profit.Div(positionValue).Mul(decimal.NewFromInt(100))
	}
	if entryPrice.IsZero() {
		return decimal.Zero
	}
	change := currentPrice.Sub(entryPrice).Div(entryPrice).Mul(decimal.NewFromInt(100))
	return change.Mul(direction(side))
}

// progressToTakeProfit computes how far price has moved toward the take
// profit, signed by side direction (spec §4.4 step 5). ok=false when
// takeProfit or entryPrice is unknown (zero).
func progressToTakeProfit(currentPrice, entryPrice, takeProfit decimal.Decimal, side model.Side) (progress decimal.Decimal, ok bool) {
	if takeProfit.IsZero() || entryPrice.IsZero() {
		return decimal.Zero, false
	}
	denom := takeProfit.Sub(entryPrice).Abs()
	if denom.IsZero() {
		return decimal.Zero, false
	}
	numer := currentPrice.Sub(entryPrice).Mul(direction(side))
	return numer.Div(denom), true
}

// progressToStopLoss computes how far an unrealized loss has traveled
// toward the stop loss, signed by side direction (spec §4.4 step 6).
// ok=false when stopLoss or entryPrice is unknown (zero).
func progressToStopLoss(currentPrice, entryPrice, stopLoss decimal.Decimal, side model.Side) (progress decimal.Decimal, ok bool) {
	if stopLoss.IsZero() || entryPrice.IsZero() {
		return decimal.Zero, false
	}
	denom := entryPrice.Sub(stopLoss).Abs()
	if denom.IsZero() {
		return decimal.Zero, false
	}
	numer := entryPrice.Sub(currentPrice).Mul(direction(side))
	return numer.Div(denom), true
}

// skipForTrailingStop implements gate 4: once MT4's server-side stop has
// taken over (break-even or trailing active), the LLM no longer
// second-guesses the exit.
func skipForTrailingStop(doc model.PositionDocument) bool {
	return doc.BreakEvenActivated || doc.TrailingStopActivated
}

// skipForProfitProtection implements gate 5: once 40% of the way to take
// profit, let the position run instead of consulting the LLM.
func skipForProfitProtection(currentPrice, entryPrice, takeProfit decimal.Decimal, side model.Side) bool {
	progress, ok := progressToTakeProfit(currentPrice, entryPrice, takeProfit, side)
	if !ok {
		return false
	}
	return progress.GreaterThanOrEqual(profitProtectThreshold)
}

// stagnantLoserCheck implements gate 6: a losing position open at least 10
// minutes that has already traveled half the distance to its stop is
// force-closed rather than left to bleed out.
func stagnantLoserCheck(doc model.PositionDocument, side model.Side, openForMinutes float64) (progress decimal.Decimal, forceExit bool) {
	if doc.StopLoss.IsZero() || doc.Profit.IsPositive() || openForMinutes < 10 {
		return decimal.Zero, false
	}
	progress, ok := progressToStopLoss(doc.CurrentPrice, doc.EntryPrice, doc.StopLoss, side)
	if !ok {
		return decimal.Zero, false
	}
	return progress, progress.GreaterThanOrEqual(stagnantThreshold)
}

// requiresUnanimousConsensus implements gate 8's winner-consensus rule: a
// profitable exit requires all four LLM analyzers to agree; a losing
// position's exit signal bypasses the rule.
func requiresUnanimousConsensus(profit decimal.Decimal) bool {
	return profit.IsPositive()
}
