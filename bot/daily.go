package bot

import (
	"martingale_bot/ledger"
	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// dailyTracker turns cumulative session counters into per-day statistics.
// baseline holds what was stored for the day before this session touched it;
// offset is the session snapshot at the moment the day started.
type dailyTracker struct {
	symbol   string
	date     string
	baseline models.DailyStats
	offset   ledger.Snapshot
}

func newDailyTracker(symbol string) *dailyTracker {
	return &dailyTracker{symbol: symbol}
}

func (t *dailyTracker) seed(date string, stats models.DailyStats) {
	stats.Date, stats.Symbol = date, t.symbol
	t.date = date
	t.baseline = stats
	t.offset = ledger.Snapshot{}
}

// roll starts a new day when date moves on. current must be taken before
// the first fill of the new day is applied.
func (t *dailyTracker) roll(date string, current ledger.Snapshot) {
	if t.date == date {
		return
	}
	if t.date != "" {
		logger.Infof("Day rolled over from %s to %s for %s", t.date, date, t.symbol)
	}
	t.date = date
	t.baseline = models.DailyStats{Date: date, Symbol: t.symbol}
	t.offset = current
}

func (t *dailyTracker) stats(snap ledger.Snapshot, avgSpread decimal.Decimal, sigma float64) models.DailyStats {
	b := t.baseline
	realized := b.RealizedProfit.Add(snap.RealizedProfit.Sub(t.offset.RealizedProfit))
	fees := b.TotalFees.Add(snap.Fees.Sub(t.offset.Fees))
	return models.DailyStats{
		Date:            t.date,
		Symbol:          t.symbol,
		MakerBuyVolume:  b.MakerBuyVolume.Add(snap.MakerBuyVolume.Sub(t.offset.MakerBuyVolume)),
		MakerSellVolume: b.MakerSellVolume.Add(snap.MakerSellVolume.Sub(t.offset.MakerSellVolume)),
		TakerBuyVolume:  b.TakerBuyVolume.Add(snap.TakerBuyVolume.Sub(t.offset.TakerBuyVolume)),
		TakerSellVolume: b.TakerSellVolume.Add(snap.TakerSellVolume.Sub(t.offset.TakerSellVolume)),
		RealizedProfit:  realized,
		TotalFees:       fees,
		NetProfit:       realized.Sub(fees),
		AvgSpread:       avgSpread,
		TradeCount:      b.TradeCount + snap.TradeCount - t.offset.TradeCount,
		Volatility:      decimal.NewFromFloat(sigma),
	}
}
