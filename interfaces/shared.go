package interfaces

import (
	"context"
	"time"

	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

// Push-stream channels the bot requires.
const (
	ChannelBookTicker  = "bookTicker"
	ChannelOrderUpdate = "orderUpdate"
)

// ExchangeClient defines what the bot needs from a spot exchange REST API
type ExchangeClient interface {
	GetMarketLimits(ctx context.Context, symbol string) (models.SymbolConfig, error)
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.CandleStick, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetOrderFills(ctx context.Context, symbol string, orderID int64) ([]models.Fill, error)
	PlaceOrder(ctx context.Context, spec models.OrderSpec) (models.OrderAck, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOrders(ctx context.Context, symbol string) error
}

// FillHandler receives executions from the order-update stream.
type FillHandler func(models.Fill)

// MarketStream is a push connection with book ticker and order updates.
// Subscribe on an already active channel is a no-op.
type MarketStream interface {
	Subscribe(ctx context.Context, channel string) error
	Reconnect(ctx context.Context) error
	Connected() bool
	Subscriptions() []string
	BestBidAsk() (bid, ask decimal.Decimal, ok bool)
	Close() error
}

// Store persists fills and daily statistics
type Store interface {
	InsertFill(ctx context.Context, fill models.Fill) error
	GetFillHistory(ctx context.Context, symbol string) ([]models.Fill, error)
	GetDailyStats(ctx context.Context, symbol string, date time.Time) (models.DailyStats, bool, error)
	UpsertDailyStats(ctx context.Context, stats models.DailyStats) error
	RecordRebalanceOrder(ctx context.Context, order models.Order) error
	Close() error
}
