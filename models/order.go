package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Accepted reports whether the exchange took the order onto the book or filled it.
func (s OrderStatus) Accepted() bool {
	switch s {
	case OrderStatusNew, OrderStatusPartiallyFilled, OrderStatusFilled:
		return true
	}
	return false
}

// OrderTag says which part of the strategy placed an order.
type OrderTag string

const (
	TagEntry     OrderTag = "entry"
	TagLadder    OrderTag = "ladder"
	TagRebalance OrderTag = "rebalance"
	TagExit      OrderTag = "exit"
	TagExternal  OrderTag = "external"
)

// OrderSpec is a placement request. Quantity and QuoteQuantity are mutually
// exclusive; QuoteQuantity is only honoured for market orders.
type OrderSpec struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	QuoteQuantity decimal.Decimal
	TimeInForce   TimeInForce
	PostOnly      bool
	Tag           OrderTag
	Layer         int
	ClientOrderID string
}

// OrderAck is the exchange response to a placement.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        OrderStatus
	Price         decimal.Decimal // limit price, or average fill price for market orders
	ExecutedQty   decimal.Decimal
	Fills         []Fill
}

// Order is an open order as reported by the exchange.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	Status        OrderStatus
	Tag           OrderTag
	Layer         int
	CreatedAt     time.Time
}
