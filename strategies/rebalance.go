package strategies

import (
	"fmt"

	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RebalanceDecision is the outcome of comparing bought and sold volume.
type RebalanceDecision struct {
	Needed       bool
	Side         models.Side
	Quantity     decimal.Decimal
	ImbalancePct decimal.Decimal
	Skip         string // set when an imbalance exists but no order should be sent
}

// ImbalancePct is |bought-sold| / (bought+sold) * 100, zero with no volume.
func ImbalancePct(bought, sold decimal.Decimal) decimal.Decimal {
	total := bought.Add(sold)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return bought.Sub(sold).Abs().Div(total).Mul(hundred)
}

// EvaluateRebalance decides whether the net position should be flattened.
// A positive imbalance sells, a negative one buys.
func EvaluateRebalance(bought, sold, thresholdPct decimal.Decimal, limits models.SymbolConfig) RebalanceDecision {
	pct := ImbalancePct(bought, sold)
	d := RebalanceDecision{ImbalancePct: pct}
	if !pct.GreaterThan(thresholdPct) {
		return d
	}

	imbalance := bought.Sub(sold)
	d.Side = models.SideSell
	if imbalance.IsNegative() {
		d.Side = models.SideBuy
	}
	d.Quantity = TruncateQuantity(imbalance.Abs(), limits.BasePrecision)
	if d.Quantity.LessThan(limits.MinOrderSize) {
		d.Skip = fmt.Sprintf("quantity %s below minimum order size %s", d.Quantity, limits.MinOrderSize)
		return d
	}
	d.Needed = true
	return d
}

// RebalancePrice picks the maker-side quote for the rebalance order: the best
// bid for a sell, the best ask for a buy.
func RebalancePrice(side models.Side, bid, ask decimal.Decimal) decimal.Decimal {
	if side == models.SideSell {
		return bid
	}
	return ask
}
