package strategies

import "fmt"

// EntryMode defines a type-safe enum-like structure for how the first layer is bought
type EntryMode struct {
	value string
}

// EntryMode constants
var (
	EntryManual = EntryMode{"manual"} // limit order at a configured price
	EntryMarket = EntryMode{"market"} // market order at the current price
	EntryOffset = EntryMode{"offset"} // limit order one step below the current price
)

// String returns the string representation of the EntryMode
func (m EntryMode) String() string {
	return m.value
}

// IsValid checks if a given value is a valid EntryMode
func (m EntryMode) IsValid() bool {
	switch m {
	case EntryManual, EntryMarket, EntryOffset:
		return true
	default:
		return false
	}
}

func ParseEntryMode(s string) (EntryMode, error) {
	m := EntryMode{s}
	if !m.IsValid() {
		return EntryMode{}, fmt.Errorf("unknown entry mode %q (want manual, market or offset)", s)
	}
	return m, nil
}

// ExitReason says why a position should be closed
type ExitReason struct {
	value string
}

var (
	ExitNone       = ExitReason{""}
	ExitTakeProfit = ExitReason{"take-profit"}
	ExitStopLoss   = ExitReason{"stop-loss"}
)

func (r ExitReason) String() string {
	if r.value == "" {
		return "none"
	}
	return r.value
}

// Triggered reports whether the reason calls for an exit.
func (r ExitReason) Triggered() bool {
	return r != ExitNone
}
