package models

import "github.com/shopspring/decimal"

// LadderLayer is one planned buy in the martingale sequence. Index 0 is the
// initial entry.
type LadderLayer struct {
	Index            int
	TargetPrice      decimal.Decimal
	TargetQuantity   decimal.Decimal
	AllocatedCapital decimal.Decimal
	Undersized       bool // min order size forces spending beyond the allocation
	Clamped          bool // computed price was not positive
}

// Cost is the quote amount the layer spends when fully filled.
func (l LadderLayer) Cost() decimal.Decimal {
	return l.TargetPrice.Mul(l.TargetQuantity)
}
