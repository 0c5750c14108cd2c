package bot

import (
	"context"
	"fmt"

	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/shopspring/decimal"
)

// enter sizes the session and places the first layer. Each attempt starts by
// cancelling whatever is open on the symbol. After EntryAttempts failures a
// single market order is tried before giving up.
func (bot *MartingaleBot) enter(ctx context.Context) (models.OrderAck, error) {
	factor, sigma := strategies.FetchVolatilityFactor(ctx, bot.exchange, bot.limits.Symbol, bot.cfg.VolatilityWindow)
	bot.sigma = sigma
	allocation, err := strategies.Allocate(bot.cfg.Capital, bot.cfg.Layers, bot.cfg.Multiplier, factor)
	if err != nil {
		return models.OrderAck{}, err
	}
	bot.allocation = allocation
	logger.Infof("Allocation for %s (volatility %.4f, factor %s): %s",
		bot.limits.Symbol, sigma, factor.StringFixed(3), describeLayers(allocation))

	mode := bot.cfg.EntryMode
	if bot.cfg.UseMarketOrder {
		mode = strategies.EntryMarket
	}

	var lastErr error
	for attempt := 1; attempt <= bot.cfg.EntryAttempts; attempt++ {
		ack, err := bot.placeEntry(ctx, mode, allocation[0])
		if err == nil {
			return ack, nil
		}
		if ctx.Err() != nil {
			return models.OrderAck{}, ctx.Err()
		}
		if models.IsConfigurationError(err) {
			return models.OrderAck{}, err
		}
		lastErr = err
		logger.Warnf("Entry attempt %d/%d (%s) for %s failed: %v", attempt, bot.cfg.EntryAttempts, mode, bot.limits.Symbol, err)
		if attempt < bot.cfg.EntryAttempts {
			if err := bot.sleep(ctx, bot.cfg.EntryRetryDelay); err != nil {
				return models.OrderAck{}, err
			}
		}
	}

	logger.Warnf("Entry attempts exhausted for %s, falling back to a market order", bot.limits.Symbol)
	ack, err := bot.placeEntry(ctx, strategies.EntryMarket, allocation[0])
	if err != nil {
		return models.OrderAck{}, fmt.Errorf("entry failed after %d attempts (last: %v) and market fallback: %w",
			bot.cfg.EntryAttempts, lastErr, err)
	}
	return ack, nil
}

func (bot *MartingaleBot) placeEntry(ctx context.Context, mode strategies.EntryMode, capital decimal.Decimal) (models.OrderAck, error) {
	report := bot.cancelAll(ctx)
	if report.Requested > 0 {
		logger.Infof("Cleared %d open orders on %s before entry", report.Cancelled, bot.limits.Symbol)
	}

	price, err := bot.exchange.GetCurrentPrice(ctx, bot.limits.Symbol)
	if err != nil {
		return models.OrderAck{}, fmt.Errorf("entry price lookup: %w", err)
	}
	bot.setLastPrice(price)

	spec := models.OrderSpec{
		Symbol:      bot.limits.Symbol,
		Side:        models.SideBuy,
		TimeInForce: models.TimeInForceGTC,
		Tag:         models.TagEntry,
		Layer:       0,
	}

	switch mode {
	case strategies.EntryMarket:
		spec.Type = models.OrderTypeMarket
		spec.QuoteQuantity = capital.RoundDown(bot.limits.QuotePrecision)
	case strategies.EntryManual:
		spec.Type = models.OrderTypeLimit
		spec.Price = strategies.FloorToTick(bot.cfg.EntryPrice, bot.limits.TickSize)
	case strategies.EntryOffset:
		spec.Type = models.OrderTypeLimit
		spec.Price = strategies.FloorToTick(price.Mul(decimal.NewFromInt(1).Sub(bot.cfg.StepDown)), bot.limits.TickSize)
	default:
		return models.OrderAck{}, models.NewConfigurationError(fmt.Sprintf("unknown entry mode %q", mode))
	}

	if spec.Type == models.OrderTypeLimit {
		if !spec.Price.IsPositive() {
			return models.OrderAck{}, models.NewConfigurationError(fmt.Sprintf("entry price %s rounds to zero", spec.Price))
		}
		spec.Quantity = strategies.TruncateQuantity(capital.Div(spec.Price), bot.limits.BasePrecision)
		if spec.Quantity.LessThan(bot.limits.MinOrderSize) {
			logger.Warnf("Entry quantity %s raised to minimum order size %s", spec.Quantity, bot.limits.MinOrderSize)
			spec.Quantity = bot.limits.MinOrderSize
		}
	}

	ack, err := bot.exchange.PlaceOrder(ctx, spec)
	bot.observer.OrderResult(models.TagEntry, orderResult(err))
	if err != nil {
		return models.OrderAck{}, err
	}
	if !ack.Status.Accepted() {
		return models.OrderAck{}, &models.OrderRejected{Reason: fmt.Sprintf("entry order %d has status %s", ack.OrderID, ack.Status)}
	}

	bot.trackAck(spec, ack)
	bot.ingestAck(ack)
	logger.Infof("Entry %s order %d on %s accepted at %s, executed %s (%s)",
		mode, ack.OrderID, bot.limits.Symbol, ack.Price, ack.ExecutedQty, ack.Status)
	return ack, nil
}
