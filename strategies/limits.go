package strategies

import (
	"context"
	"fmt"

	"martingale_bot/interfaces"
	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

const maxPrecision = 18

// FloorToTick rounds price down to a multiple of tick.
func FloorToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// TruncateQuantity drops digits beyond the allowed base precision.
func TruncateQuantity(qty decimal.Decimal, precision int32) decimal.Decimal {
	return qty.Truncate(precision)
}

// PrecisionFromStep returns the number of decimals a step size allows,
// e.g. 0.00100000 -> 3 and 1.00000000 -> 0.
func PrecisionFromStep(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	for p := int32(0); p <= maxPrecision; p++ {
		shifted := step.Shift(p)
		if shifted.Equal(shifted.Truncate(0)) {
			return p
		}
	}
	return maxPrecision
}

// ResolveLimits loads the trading rules for symbol. Incomplete rules are a
// configuration error; the bot must not trade without them.
func ResolveLimits(ctx context.Context, client interfaces.ExchangeClient, symbol string) (models.SymbolConfig, error) {
	limits, err := client.GetMarketLimits(ctx, symbol)
	if err != nil {
		if models.IsConfigurationError(err) {
			return models.SymbolConfig{}, err
		}
		return models.SymbolConfig{}, models.NewConfigurationError(fmt.Sprintf("market limits for %s unavailable: %v", symbol, err))
	}
	if err := limits.Validate(); err != nil {
		return models.SymbolConfig{}, err
	}
	return limits, nil
}
