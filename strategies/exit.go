package strategies

import "github.com/shopspring/decimal"

// ExitParams holds the position-level exit thresholds. StopLossPct is
// negative, e.g. -0.33.
type ExitParams struct {
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
}

// EvaluateExit checks price against the average entry. No average, no exit.
func EvaluateExit(price, avgEntry decimal.Decimal, p ExitParams) ExitReason {
	if !avgEntry.IsPositive() || !price.IsPositive() {
		return ExitNone
	}

	gain := price.Sub(avgEntry).Div(avgEntry)
	if gain.GreaterThanOrEqual(p.TakeProfitPct) {
		return ExitTakeProfit
	}

	floor := avgEntry.Mul(decimal.NewFromInt(1).Add(p.StopLossPct))
	if price.LessThanOrEqual(floor) {
		return ExitStopLoss
	}
	return ExitNone
}
