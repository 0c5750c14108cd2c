package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrConnectionLost is reported when a push stream drops.
var ErrConnectionLost = errors.New("push stream connection lost")

// ConfigurationError is fatal: the session moves to FAILED without retrying.
type ConfigurationError struct {
	Reason string
}

func NewConfigurationError(reason string) *ConfigurationError {
	return &ConfigurationError{Reason: reason}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// TransientAPIError wraps network, timeout and rate-limit failures.
type TransientAPIError struct {
	Op  string
	Err error
}

func (e *TransientAPIError) Error() string {
	return fmt.Sprintf("transient api error during %s: %v", e.Op, e.Err)
}

func (e *TransientAPIError) Unwrap() error { return e.Err }

// OrderRejected is returned when the exchange refuses an order outright,
// e.g. a post-only order that would cross the book.
type OrderRejected struct {
	Code     int64
	Reason   string
	PostOnly bool
}

func (e *OrderRejected) Error() string {
	return fmt.Sprintf("order rejected (code %d): %s", e.Code, e.Reason)
}

// WouldCross reports whether the rejection was caused by a maker-only order
// that would have taken liquidity.
func (e *OrderRejected) WouldCross() bool {
	return e.PostOnly
}

// LedgerInconsistency is raised when a sell cannot be matched against open lots.
type LedgerInconsistency struct {
	OrderID   int64
	TradeID   int64
	Unmatched decimal.Decimal
}

func (e *LedgerInconsistency) Error() string {
	return fmt.Sprintf("ledger inconsistency: sell order %d trade %d has %s unmatched quantity",
		e.OrderID, e.TradeID, e.Unmatched.String())
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientAPIError
	return errors.As(err, &target)
}

func AsOrderRejected(err error) (*OrderRejected, bool) {
	var target *OrderRejected
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func IsLedgerInconsistency(err error) bool {
	var target *LedgerInconsistency
	return errors.As(err, &target)
}
