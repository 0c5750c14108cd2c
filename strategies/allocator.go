package strategies

import (
	"fmt"

	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

var (
	minVolatilityFactor = decimal.RequireFromString("0.5")
	maxVolatilityFactor = decimal.RequireFromString("1.5")
)

// ClampVolatilityFactor bounds factor to [0.5, 1.5].
func ClampVolatilityFactor(factor decimal.Decimal) decimal.Decimal {
	return decimal.Max(minVolatilityFactor, decimal.Min(maxVolatilityFactor, factor))
}

// Allocate splits total capital across layers geometrically:
// capital_i = total * m^i / sum(m^j) * factor.
func Allocate(total decimal.Decimal, layers int, multiplier, factor decimal.Decimal) ([]decimal.Decimal, error) {
	switch {
	case !total.IsPositive():
		return nil, models.NewConfigurationError(fmt.Sprintf("capital must be positive, got %s", total))
	case layers < 1:
		return nil, models.NewConfigurationError(fmt.Sprintf("layers must be at least 1, got %d", layers))
	case multiplier.LessThan(decimal.NewFromInt(1)):
		return nil, models.NewConfigurationError(fmt.Sprintf("multiplier must be >= 1, got %s", multiplier))
	}
	factor = ClampVolatilityFactor(factor)

	weights := make([]decimal.Decimal, layers)
	sum := decimal.Zero
	w := decimal.NewFromInt(1)
	for i := range weights {
		weights[i] = w
		sum = sum.Add(w)
		w = w.Mul(multiplier)
	}

	capital := make([]decimal.Decimal, layers)
	for i, weight := range weights {
		capital[i] = total.Mul(weight).Div(sum).Mul(factor)
	}
	return capital, nil
}
