package client

import (
	"context"
	"fmt"
	"time"

	"martingale_bot/interfaces"
	"martingale_bot/logger"
	"martingale_bot/strategies"
)

// SyncFrom copies the last price and the volatility candles of the paper
// symbol from a live exchange.
func (p *PaperExchange) SyncFrom(ctx context.Context, source interfaces.ExchangeClient) error {
	price, err := source.GetCurrentPrice(ctx, p.limits.Symbol)
	if err != nil {
		return fmt.Errorf("failed to read %s price: %w", p.limits.Symbol, err)
	}
	candles, err := source.FetchCandles(ctx, p.limits.Symbol, strategies.VolatilityInterval, strategies.DefaultVolatilityWindow)
	if err != nil {
		logger.Warnf("Paper exchange has no candles for %s: %v", p.limits.Symbol, err)
	} else {
		p.SetCandles(candles)
	}
	p.SetPrice(price)
	return nil
}

// Follow moves the paper market to the source price every interval until
// ctx is done. Read failures are logged and skipped.
func (p *PaperExchange) Follow(ctx context.Context, source interfaces.ExchangeClient, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price, err := source.GetCurrentPrice(ctx, p.limits.Symbol)
			if err != nil {
				logger.Warnf("Paper price update failed: %v", err)
				continue
			}
			p.SetPrice(price)
		}
	}
}
