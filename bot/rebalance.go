package bot

import (
	"context"

	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/strategies"
)

// rebalance flattens a bought/sold imbalance above the threshold with a
// post-only order at the touch. A crossing rejection gets exactly one taker
// retry. Nothing is sent while an earlier rebalance order is still working.
func (bot *MartingaleBot) rebalance(ctx context.Context) {
	s := bot.Session()
	for _, o := range s.ActiveOrders() {
		if o.Tag == models.TagRebalance {
			logger.Debugf("Rebalance order %d still working", o.OrderID)
			return
		}
	}

	_, bought, sold := s.Imbalance()
	decision := strategies.EvaluateRebalance(bought, sold, bot.cfg.Rebalance.ThresholdPct, bot.limits)
	if !decision.Needed {
		if decision.Skip != "" {
			logger.Infof("Rebalance skipped at %s%% imbalance: %s", decision.ImbalancePct.StringFixed(2), decision.Skip)
		}
		return
	}

	bid, ask, err := bot.bestBidAsk(ctx)
	if err != nil {
		logger.Warnf("Rebalance needs a quote: %v", err)
		return
	}
	spec := models.OrderSpec{
		Symbol:      bot.limits.Symbol,
		Side:        decision.Side,
		Type:        models.OrderTypeLimit,
		Price:       strategies.FloorToTick(strategies.RebalancePrice(decision.Side, bid, ask), bot.limits.TickSize),
		Quantity:    decision.Quantity,
		TimeInForce: models.TimeInForceGTC,
		PostOnly:    true,
		Tag:         models.TagRebalance,
		Layer:       -1,
	}
	logger.Infof("Rebalancing %s at %s%% imbalance: %s %s @ %s",
		bot.limits.Symbol, decision.ImbalancePct.StringFixed(2), spec.Side, spec.Quantity, spec.Price)

	ack, err := bot.exchange.PlaceOrder(ctx, spec)
	if rejected, ok := models.AsOrderRejected(err); ok && rejected.WouldCross() {
		bot.observer.OrderResult(models.TagRebalance, orderResult(err))
		logger.Infof("Post-only rebalance would cross, retrying once as taker")
		spec.PostOnly = false
		ack, err = bot.exchange.PlaceOrder(ctx, spec)
	}
	bot.observer.OrderResult(models.TagRebalance, orderResult(err))
	if err != nil {
		logger.Errorf("Rebalance %s %s @ %s failed: %v", spec.Side, spec.Quantity, spec.Price, err)
		return
	}

	order := bot.trackAck(spec, ack)
	if bot.persister != nil {
		bot.persister.RecordRebalanceOrder(order)
	}
	bot.ingestAck(ack)
}
