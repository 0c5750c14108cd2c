package bot

import (
	"context"

	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/sourcegraph/conc/pool"
)

// CancelReport accounts for one cancel-all pass.
type CancelReport struct {
	Requested int
	Cancelled int
	Failed    int
	Remaining int
	BulkOK    bool
}

type cancelResult struct {
	orderID int64
	err     error
}

// cancelAll tries one bulk cancel. If that fails every open order is cancelled
// individually on a bounded pool. Open orders are then re-queried once after
// a settle delay; leftovers are logged, never fatal.
func (bot *MartingaleBot) cancelAll(ctx context.Context) CancelReport {
	symbol := bot.limits.Symbol
	s := bot.Session()

	open, err := bot.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		logger.Warnf("Failed to list open orders on %s before cancel: %v", symbol, err)
		open = s.ActiveOrders()
	}
	report := CancelReport{Requested: len(open)}

	if err := bot.exchange.CancelAllOrders(ctx, symbol); err == nil {
		report.BulkOK = true
		report.Cancelled = len(open)
	} else {
		logger.Warnf("Bulk cancel on %s failed, cancelling %d orders one by one: %v", symbol, len(open), err)
		p := pool.NewWithResults[cancelResult]().WithMaxGoroutines(bot.cfg.CancelWorkers)
		for _, o := range open {
			orderID := o.OrderID
			p.Go(func() cancelResult {
				return cancelResult{orderID: orderID, err: bot.exchange.CancelOrder(ctx, symbol, orderID)}
			})
		}
		for _, res := range p.Wait() {
			if res.err != nil {
				report.Failed++
				logger.Warnf("Cancel of order %d failed: %v", res.orderID, res.err)
				continue
			}
			report.Cancelled++
		}
	}

	if report.Requested == 0 && report.BulkOK {
		s.ClearOrders()
		return report
	}

	if err := bot.sleep(ctx, bot.cfg.CancelSettleDelay); err != nil {
		logger.Warnf("Cancel settle wait interrupted: %v", err)
	}
	left, err := bot.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		logger.Warnf("Failed to re-check open orders on %s: %v", symbol, err)
		return report
	}
	report.Remaining = len(left)
	if report.Remaining > 0 {
		logger.Warnf("%d orders remain open on %s after cancel-all", report.Remaining, symbol)
	}

	s.ClearOrders()
	for _, o := range left {
		if o.Tag != models.TagExternal {
			s.TrackOrder(o)
		}
	}
	logger.Infof("Cancel-all on %s: requested %d, cancelled %d, failed %d, remaining %d",
		symbol, report.Requested, report.Cancelled, report.Failed, report.Remaining)
	return report
}
