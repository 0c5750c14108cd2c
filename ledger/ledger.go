// Package ledger holds the FIFO profit ledger and the per-session position
// state that is derived from the fill stream.
package ledger

import (
	"time"

	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

// Lot is an open buy tranche waiting to be consumed by sells.
type Lot struct {
	OrderID           int64
	Price             decimal.Decimal
	RemainingQuantity decimal.Decimal
	RemainingFee      decimal.Decimal // quote currency
	OpenedAt          time.Time
}

// Ledger matches sells against buys in strict arrival order. It is not safe
// for concurrent use; Session serializes access.
type Ledger struct {
	baseAsset string
	lots      []Lot
	realized  decimal.Decimal
	fees      decimal.Decimal
	unmatched decimal.Decimal
}

func New(baseAsset string) *Ledger {
	return &Ledger{baseAsset: baseAsset}
}

// Apply books a fill. A sell that outruns the open lots books the matched part,
// records the rest as unmatched and returns *models.LedgerInconsistency.
func (l *Ledger) Apply(f models.Fill) error {
	fee := f.FeeInQuote(l.baseAsset)

	if f.Side == models.SideBuy {
		l.lots = append(l.lots, Lot{
			OrderID:           f.OrderID,
			Price:             f.Price,
			RemainingQuantity: f.Quantity,
			RemainingFee:      fee,
			OpenedAt:          f.Timestamp,
		})
		return nil
	}

	l.fees = l.fees.Add(fee)
	remaining := f.Quantity
	for remaining.IsPositive() && len(l.lots) > 0 {
		lot := &l.lots[0]
		matched := decimal.Min(remaining, lot.RemainingQuantity)

		l.realized = l.realized.Add(f.Price.Sub(lot.Price).Mul(matched))

		var allocated decimal.Decimal
		if matched.Equal(lot.RemainingQuantity) {
			allocated = lot.RemainingFee
		} else {
			allocated = lot.RemainingFee.Mul(matched).Div(lot.RemainingQuantity)
		}
		l.fees = l.fees.Add(allocated)

		lot.RemainingQuantity = lot.RemainingQuantity.Sub(matched)
		lot.RemainingFee = lot.RemainingFee.Sub(allocated)
		remaining = remaining.Sub(matched)

		if !lot.RemainingQuantity.IsPositive() {
			l.lots = l.lots[1:]
		}
	}

	if remaining.IsPositive() {
		l.unmatched = l.unmatched.Add(remaining)
		return &models.LedgerInconsistency{OrderID: f.OrderID, TradeID: f.TradeID, Unmatched: remaining}
	}
	return nil
}

// RealizedProfit is the gross FIFO profit of all matched quantity.
func (l *Ledger) RealizedProfit() decimal.Decimal { return l.realized }

// TotalFees covers sell fees plus the pro-rated fees of consumed buy lots.
func (l *Ledger) TotalFees() decimal.Decimal { return l.fees }

// Unmatched is the cumulative sell quantity that found no open lot.
func (l *Ledger) Unmatched() decimal.Decimal { return l.unmatched }

// OpenPosition returns the open quantity and its weighted average price.
// The average is zero when nothing is open.
func (l *Ledger) OpenPosition() (decimal.Decimal, decimal.Decimal) {
	qty := decimal.Zero
	cost := decimal.Zero
	for _, lot := range l.lots {
		qty = qty.Add(lot.RemainingQuantity)
		cost = cost.Add(lot.Price.Mul(lot.RemainingQuantity))
	}
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	return qty, cost.Div(qty)
}

// Lots returns a copy of the open lots, oldest first.
func (l *Ledger) Lots() []Lot {
	out := make([]Lot, len(l.lots))
	copy(out, l.lots)
	return out
}

// Replay rebuilds a ledger from an ordered fill history. Replaying the same
// history always yields the same ledger.
func Replay(baseAsset string, fills []models.Fill) (*Ledger, []error) {
	l := New(baseAsset)
	var errs []error
	for _, f := range fills {
		if err := l.Apply(f); err != nil {
			errs = append(errs, err)
		}
	}
	return l, errs
}
