package strategies

import (
	"fmt"

	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

// PlanInput describes a ladder to be planned from an entry price.
type PlanInput struct {
	EntryPrice decimal.Decimal
	StepDown   decimal.Decimal // fraction per layer, e.g. 0.008
	Multiplier decimal.Decimal
	Layers     int
	Capital    []decimal.Decimal // per layer, from Allocate
	Limits     models.SymbolConfig
}

func (in PlanInput) validate() error {
	switch {
	case !in.EntryPrice.IsPositive():
		return models.NewConfigurationError(fmt.Sprintf("entry price must be positive, got %s", in.EntryPrice))
	case !in.StepDown.IsPositive():
		return models.NewConfigurationError(fmt.Sprintf("step down must be positive, got %s", in.StepDown))
	case in.Layers < 1:
		return models.NewConfigurationError(fmt.Sprintf("layers must be at least 1, got %d", in.Layers))
	case len(in.Capital) != in.Layers:
		return models.NewConfigurationError(fmt.Sprintf("capital has %d entries for %d layers", len(in.Capital), in.Layers))
	}
	return in.Limits.Validate()
}

// Plan computes layer prices and quantities. Price_i is entry*(1-step*i)
// floored to the tick; quantity is capital/price truncated to base precision
// and raised to the minimum order size. A layer whose cost then exceeds its
// allocation by more than one tick per unit, or whose notional falls below the
// exchange minimum, is flagged Undersized.
//
// A non-positive price is clamped to one tick and flagged; the layers are
// still returned together with a ConfigurationError.
func Plan(in PlanInput) ([]models.LadderLayer, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	tick := in.Limits.TickSize
	one := decimal.NewFromInt(1)
	var planErr error

	layers := make([]models.LadderLayer, in.Layers)
	for i := range layers {
		layer := models.LadderLayer{Index: i, AllocatedCapital: in.Capital[i]}

		offset := in.StepDown.Mul(decimal.NewFromInt(int64(i)))
		price := FloorToTick(in.EntryPrice.Mul(one.Sub(offset)), tick)
		if !price.IsPositive() {
			price = tick
			layer.Clamped = true
			if planErr == nil {
				planErr = models.NewConfigurationError(fmt.Sprintf(
					"layer %d price is not positive (step %s x %d layers)", i, in.StepDown, in.Layers))
			}
		}
		layer.TargetPrice = price

		qty := TruncateQuantity(in.Capital[i].Div(price), in.Limits.BasePrecision)
		if qty.LessThan(in.Limits.MinOrderSize) {
			qty = in.Limits.MinOrderSize
		}
		layer.TargetQuantity = qty

		slack := qty.Mul(tick)
		notional := qty.Mul(price)
		layer.Undersized = notional.GreaterThan(in.Capital[i].Add(slack)) ||
			(in.Limits.MinNotional.IsPositive() && notional.LessThan(in.Limits.MinNotional))

		layers[i] = layer
	}
	return layers, planErr
}
