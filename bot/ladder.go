package bot

import (
	"context"

	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/shopspring/decimal"
)

// placeLadder plans layers 1..N-1 from the accepted entry price and submits
// them as post-only GTC buys in one pass. A failed, undersized or clamped
// layer is skipped; the rest are still placed.
func (bot *MartingaleBot) placeLadder(ctx context.Context, entryPrice decimal.Decimal) {
	layers, err := strategies.Plan(strategies.PlanInput{
		EntryPrice: entryPrice,
		StepDown:   bot.cfg.StepDown,
		Multiplier: bot.cfg.Multiplier,
		Layers:     bot.cfg.Layers,
		Capital:    bot.allocation,
		Limits:     bot.limits,
	})
	if err != nil {
		logger.Errorf("Ladder plan for %s: %v", bot.limits.Symbol, err)
		if layers == nil {
			return
		}
	}
	bot.ladder = layers

	placed := 0
	for _, layer := range layers[1:] {
		if ctx.Err() != nil {
			logger.Warnf("Ladder placement interrupted at layer %d: %v", layer.Index, ctx.Err())
			break
		}
		switch {
		case layer.Clamped:
			logger.Warnf("Layer %d skipped: price clamped to %s", layer.Index, layer.TargetPrice)
			continue
		case layer.Undersized:
			logger.Warnf("Layer %d skipped: minimum order %s @ %s costs %s, allocation is %s",
				layer.Index, layer.TargetQuantity, layer.TargetPrice, layer.Cost().StringFixed(2), layer.AllocatedCapital.StringFixed(2))
			continue
		}

		spec := models.OrderSpec{
			Symbol:      bot.limits.Symbol,
			Side:        models.SideBuy,
			Type:        models.OrderTypeLimit,
			Price:       layer.TargetPrice,
			Quantity:    layer.TargetQuantity,
			TimeInForce: models.TimeInForceGTC,
			PostOnly:    true,
			Tag:         models.TagLadder,
			Layer:       layer.Index,
		}
		ack, err := bot.exchange.PlaceOrder(ctx, spec)
		bot.observer.OrderResult(models.TagLadder, orderResult(err))
		if err != nil {
			logger.Warnf("Layer %d (%s @ %s) rejected: %v", layer.Index, layer.TargetQuantity, layer.TargetPrice, err)
			continue
		}
		bot.trackAck(spec, ack)
		bot.ingestAck(ack)
		placed++
		logger.Infof("Layer %d: buy %s %s @ %s (order %d)", layer.Index, layer.TargetQuantity, bot.limits.BaseAsset, layer.TargetPrice, ack.OrderID)
	}
	logger.Infof("Ladder for %s placed: %d/%d layers below %s", bot.limits.Symbol, placed, len(layers)-1, entryPrice)
}
