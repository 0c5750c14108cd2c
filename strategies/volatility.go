package strategies

import (
	"context"
	"fmt"
	"math"

	"martingale_bot/interfaces"
	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

const (
	VolatilityInterval      = "1h"
	DefaultVolatilityWindow = 24

	minVolatilityCandles = 3
	baselineVolatility   = 0.02
)

// returnsStdDev is the sample standard deviation of close-to-close returns.
func returnsStdDev(candles []models.CandleStick) (float64, error) {
	if len(candles) < minVolatilityCandles {
		return 0, fmt.Errorf("not enough data to calculate volatility: need %d candles, got %d", minVolatilityCandles, len(candles))
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			return 0, fmt.Errorf("non-positive close %f at candle %d", prev, i-1)
		}
		returns = append(returns, (candles[i].Close-prev)/prev)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance), nil
}

// VolatilityFactor maps candle volatility to an allocation multiplier around
// 1.0, clamped to [0.5, 1.5]. Insufficient data yields 1.0.
func VolatilityFactor(candles []models.CandleStick) (decimal.Decimal, float64) {
	sigma, err := returnsStdDev(candles)
	if err != nil {
		logger.Debugf("Volatility fallback: %v", err)
		return decimal.NewFromInt(1), 0
	}
	factor := decimal.NewFromFloat(1 + (sigma - baselineVolatility))
	return ClampVolatilityFactor(factor), sigma
}

// FetchVolatilityFactor never fails: any error fetching candles falls back to 1.0.
func FetchVolatilityFactor(ctx context.Context, client interfaces.ExchangeClient, symbol string, window int) (decimal.Decimal, float64) {
	if window <= 0 {
		window = DefaultVolatilityWindow
	}
	candles, err := client.FetchCandles(ctx, symbol, VolatilityInterval, window)
	if err != nil {
		logger.Warnf("Failed to fetch candles for %s, using neutral volatility factor: %v", symbol, err)
		return decimal.NewFromInt(1), 0
	}
	return VolatilityFactor(candles)
}
