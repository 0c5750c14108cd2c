package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Fill is a single execution against one of our orders. Fills are immutable
// once recorded.
type Fill struct {
	OrderID       int64
	TradeID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	IsMaker       bool
	Fee           decimal.Decimal
	FeeAsset      string
	Timestamp     time.Time
	Layer         int // -1 when the fill does not belong to a ladder layer
	Tag           OrderTag
}

var (
	ErrInvalidSide     = errors.New("fill side must be BUY or SELL")
	ErrInvalidPrice    = errors.New("fill price must be positive")
	ErrInvalidQuantity = errors.New("fill quantity must be positive")
	ErrNegativeFee     = errors.New("fill fee must not be negative")
	ErrMissingOrderID  = errors.New("fill has no order id")
)

// Validate rejects malformed payloads before they reach the ledger.
func (f Fill) Validate() error {
	switch {
	case f.OrderID == 0:
		return ErrMissingOrderID
	case !f.Side.IsValid():
		return fmt.Errorf("%w: %q", ErrInvalidSide, f.Side)
	case !f.Price.IsPositive():
		return fmt.Errorf("%w: %s", ErrInvalidPrice, f.Price)
	case !f.Quantity.IsPositive():
		return fmt.Errorf("%w: %s", ErrInvalidQuantity, f.Quantity)
	case f.Fee.IsNegative():
		return fmt.Errorf("%w: %s", ErrNegativeFee, f.Fee)
	}
	return nil
}

// Key identifies a fill for deduplication. Exchanges report the same trade
// on both the push stream and the REST trade list.
func (f Fill) Key() string {
	if f.TradeID != 0 {
		return fmt.Sprintf("%d/%d", f.OrderID, f.TradeID)
	}
	return fmt.Sprintf("%d/%s/%s/%d", f.OrderID, f.Quantity.String(), f.Price.String(), f.Timestamp.UnixMilli())
}

// FeeInQuote values the fee in quote currency. Fees charged in the base asset
// are converted at the fill price; anything else is taken at face value.
func (f Fill) FeeInQuote(baseAsset string) decimal.Decimal {
	if baseAsset != "" && f.FeeAsset == baseAsset {
		return f.Fee.Mul(f.Price)
	}
	return f.Fee
}

// Notional is price times quantity.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}
