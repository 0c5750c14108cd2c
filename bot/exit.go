package bot

import (
	"context"
	"fmt"

	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

// exit closes the whole position: cancel the remaining ladder, pick up any
// last fills, then market-sell what is open. The sell is retried only on
// transient errors and reuses one client order id across attempts.
func (bot *MartingaleBot) exit(ctx context.Context, reason strategies.ExitReason, price, avg decimal.Decimal) error {
	bot.transition(StateExitTriggered)
	logger.Infof("[%s] %s at %s, average entry %s", bot.limits.Symbol, reason, price, avg.StringFixed(bot.limits.QuotePrecision))

	report := bot.cancelAll(ctx)
	logger.Infof("Cancelled %d/%d ladder orders before exit", report.Cancelled, report.Requested)
	bot.reconcileOrders(ctx)
	bot.drainInbox()

	qty := bot.exitQuantity(ctx)
	if qty.IsZero() {
		bot.transition(StateClosed)
		return nil
	}

	spec := models.OrderSpec{
		Symbol:        bot.limits.Symbol,
		Side:          models.SideSell,
		Type:          models.OrderTypeMarket,
		Quantity:      qty,
		Tag:           models.TagExit,
		ClientOrderID: models.NewClientOrderID(models.TagExit, 0),
	}
	attempt := 0
	ack, err := backoff.Retry(ctx, func() (models.OrderAck, error) {
		attempt++
		ack, err := bot.exchange.PlaceOrder(ctx, spec)
		if err == nil {
			return ack, nil
		}
		if !models.IsTransient(err) {
			return ack, backoff.Permanent(err)
		}
		logger.Warnf("Exit sell attempt %d/%d failed: %v", attempt, bot.cfg.ExitAttempts, err)
		return ack, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(bot.cfg.ExitRetryDelay)), backoff.WithMaxTries(uint(bot.cfg.ExitAttempts)))
	bot.observer.OrderResult(models.TagExit, orderResult(err))
	if err != nil {
		return fmt.Errorf("exit sell of %s %s: %w", qty, bot.limits.BaseAsset, err)
	}

	bot.ingestAck(ack)

	pnl := bot.Session().PnL(price)
	logger.Infof("[%s] Position closed (%s): sold %s @ %s, realized %s, fees %s, net %s",
		bot.limits.Symbol, reason, qty, ack.Price, pnl.Realized.StringFixed(4), pnl.Fees.StringFixed(4), pnl.Net.StringFixed(4))
	bot.transition(StateClosed)
	return nil
}

// exitQuantity is the open ledger quantity capped at the free base balance
// and truncated to base precision. Dust below the minimum order size is left.
func (bot *MartingaleBot) exitQuantity(ctx context.Context) decimal.Decimal {
	open := bot.Session().OpenQuantity()
	qty := open
	free, err := bot.exchange.GetBalance(ctx, bot.limits.BaseAsset)
	if err != nil {
		logger.Warnf("Failed to read %s balance, selling ledger quantity: %v", bot.limits.BaseAsset, err)
	} else if free.LessThan(qty) {
		logger.Warnf("Free %s balance %s is below open quantity %s", bot.limits.BaseAsset, free, open)
		qty = free
	}

	qty = strategies.TruncateQuantity(qty, bot.limits.BasePrecision)
	if qty.LessThan(bot.limits.MinOrderSize) {
		logger.Warnf("Exit quantity %s %s is below minimum order size %s, nothing to sell",
			qty, bot.limits.BaseAsset, bot.limits.MinOrderSize)
		return decimal.Zero
	}
	return qty
}
