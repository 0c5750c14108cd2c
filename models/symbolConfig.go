package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolConfig holds the exchange trading rules for a single trading pair.
// It is resolved once at startup and never modified afterwards.
type SymbolConfig struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	BasePrecision  int32 // decimal places allowed for quantities
	QuotePrecision int32 // decimal places allowed for prices
	MinOrderSize   decimal.Decimal
	TickSize       decimal.Decimal
	MinNotional    decimal.Decimal
}

func NewSymbolConfig(symbol string) SymbolConfig {
	// Limits are filled in from the exchange
	return SymbolConfig{Symbol: strings.ToUpper(symbol)}
}

// Validate reports missing or nonsensical limits as a configuration error.
func (s SymbolConfig) Validate() error {
	switch {
	case s.Symbol == "":
		return NewConfigurationError("symbol is empty")
	case s.BaseAsset == "" || s.QuoteAsset == "":
		return NewConfigurationError(fmt.Sprintf("base/quote asset missing for %s", s.Symbol))
	case s.BasePrecision < 0 || s.QuotePrecision < 0:
		return NewConfigurationError(fmt.Sprintf("negative precision for %s", s.Symbol))
	case !s.TickSize.IsPositive():
		return NewConfigurationError(fmt.Sprintf("tick size missing for %s", s.Symbol))
	case !s.MinOrderSize.IsPositive():
		return NewConfigurationError(fmt.Sprintf("minimum order size missing for %s", s.Symbol))
	}
	return nil
}
