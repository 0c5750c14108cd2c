package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultRetries    = 3
	defaultRetryDelay = time.Second
)

// BinanceClient implements interfaces.ExchangeClient against Binance spot
type BinanceClient struct {
	client     *binance.Client
	retries    int
	retryDelay time.Duration

	limitsMutex sync.RWMutex
	limits      map[string]models.SymbolConfig
}

// NewBinanceClient creates a new Binance client instance
func NewBinanceClient(apiKey, apiSecret string, testnet bool) *BinanceClient {
	binance.UseTestnet = testnet
	client := binance.NewClient(apiKey, apiSecret)
	logger.Infof("Started trading using Binance (testnet=%v)", testnet)
	return &BinanceClient{
		client:     client,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		limits:     make(map[string]models.SymbolConfig),
	}
}

// GetMarketLimits loads precision, tick size and minimum order size from exchange info
func (b *BinanceClient) GetMarketLimits(ctx context.Context, symbol string) (models.SymbolConfig, error) {
	b.limitsMutex.RLock()
	cached, ok := b.limits[symbol]
	b.limitsMutex.RUnlock()
	if ok {
		return cached, nil
	}

	info, err := retry(ctx, "exchange info", b.retries, b.retryDelay, func() (*binance.ExchangeInfo, error) {
		return b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return models.SymbolConfig{}, fmt.Errorf("failed to get exchange info for %s: %w", symbol, err)
	}

	cfg := models.NewSymbolConfig(symbol)
	var symbolFound bool
	for _, s := range info.Symbols {
		if s.Symbol != cfg.Symbol {
			continue
		}
		symbolFound = true
		cfg.BaseAsset = s.BaseAsset
		cfg.QuoteAsset = s.QuoteAsset

		// Parse filters to extract trading rules
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "LOT_SIZE":
				if cfg.MinOrderSize, err = filterDecimal(filter, "minQty"); err != nil {
					return models.SymbolConfig{}, models.NewConfigurationError(fmt.Sprintf("%s: %v", symbol, err))
				}
				step, err := filterDecimal(filter, "stepSize")
				if err != nil {
					return models.SymbolConfig{}, models.NewConfigurationError(fmt.Sprintf("%s: %v", symbol, err))
				}
				cfg.BasePrecision = strategies.PrecisionFromStep(step)
			case "PRICE_FILTER":
				if cfg.TickSize, err = filterDecimal(filter, "tickSize"); err != nil {
					return models.SymbolConfig{}, models.NewConfigurationError(fmt.Sprintf("%s: %v", symbol, err))
				}
				cfg.QuotePrecision = strategies.PrecisionFromStep(cfg.TickSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				if v, err := filterDecimal(filter, "minNotional"); err == nil {
					cfg.MinNotional = v
				}
			}
		}
		break
	}

	if !symbolFound {
		return models.SymbolConfig{}, models.NewConfigurationError(fmt.Sprintf("symbol %s not found in exchange info", symbol))
	}
	if err := cfg.Validate(); err != nil {
		return models.SymbolConfig{}, err
	}

	b.limitsMutex.Lock()
	b.limits[symbol] = cfg
	b.limitsMutex.Unlock()

	logger.Debugf("Loaded market limits for %s: %+v", symbol, cfg)
	return cfg, nil
}

func filterDecimal(filter map[string]interface{}, key string) (decimal.Decimal, error) {
	raw, ok := filter[key].(string)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid %s format", key)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s: %v", key, err)
	}
	return v, nil
}

// GetCurrentPrice fetches the last traded price for a given symbol
func (b *BinanceClient) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := retry(ctx, "list prices", b.retries, b.retryDelay, func() ([]*binance.SymbolPrice, error) {
		return b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch current price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("no price data returned for symbol %s", symbol)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price for %s: %v", symbol, err)
	}
	logger.Debugf("Current price for %s: %s", symbol, price)
	return price, nil
}

// FetchCandles returns klines oldest first
func (b *BinanceClient) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.CandleStick, error) {
	klines, err := retry(ctx, "klines", b.retries, b.retryDelay, func() ([]*binance.Kline, error) {
		return b.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}

	candles := make([]models.CandleStick, len(klines))
	for i, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles[i] = models.CandleStick{
			Timestamp: time.UnixMilli(k.OpenTime),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    volume,
		}
	}
	return candles, nil
}

// GetBalance returns the free balance of asset
func (b *BinanceClient) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := retry(ctx, "account", b.retries, b.retryDelay, func() (*binance.Account, error) {
		return b.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get account info: %w", err)
	}

	for _, balance := range account.Balances {
		if balance.Asset == asset {
			free, err := decimal.NewFromString(balance.Free)
			if err != nil {
				return decimal.Zero, fmt.Errorf("failed to parse %s balance: %v", asset, err)
			}
			return free, nil
		}
	}
	return decimal.Zero, fmt.Errorf("asset %s not found", asset)
}

func (b *BinanceClient) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	open, err := retry(ctx, "open orders", b.retries, b.retryDelay, func() ([]*binance.Order, error) {
		return b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders for %s: %w", symbol, err)
	}

	orders := make([]models.Order, 0, len(open))
	for _, o := range open {
		tag, layer := models.ParseClientOrderID(o.ClientOrderID)
		orders = append(orders, models.Order{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          models.Side(o.Side),
			Type:          orderTypeFromBinance(o.Type),
			Price:         parseDecimal(o.Price),
			Quantity:      parseDecimal(o.OrigQuantity),
			ExecutedQty:   parseDecimal(o.ExecutedQuantity),
			Status:        models.OrderStatus(o.Status),
			Tag:           tag,
			Layer:         layer,
			CreatedAt:     time.UnixMilli(o.Time),
		})
	}
	return orders, nil
}

// GetOrderFills lists the trades of a single order
func (b *BinanceClient) GetOrderFills(ctx context.Context, symbol string, orderID int64) ([]models.Fill, error) {
	trades, err := retry(ctx, "list trades", b.retries, b.retryDelay, func() ([]*binance.TradeV3, error) {
		return b.client.NewListTradesService().Symbol(symbol).OrderId(orderID).Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list trades of order %d: %w", orderID, err)
	}

	fills := make([]models.Fill, 0, len(trades))
	for _, t := range trades {
		side := models.SideSell
		if t.IsBuyer {
			side = models.SideBuy
		}
		fills = append(fills, models.Fill{
			OrderID:   t.OrderID,
			TradeID:   t.ID,
			Symbol:    t.Symbol,
			Side:      side,
			Price:     parseDecimal(t.Price),
			Quantity:  parseDecimal(t.Quantity),
			IsMaker:   t.IsMaker,
			Fee:       parseDecimal(t.Commission),
			FeeAsset:  t.CommissionAsset,
			Timestamp: time.UnixMilli(t.Time),
			Layer:     -1,
			Tag:       models.TagExternal,
		})
	}
	return fills, nil
}

// PlaceOrder submits one order. Placement is not retried here; the caller
// owns the retry policy because a duplicate order costs money.
func (b *BinanceClient) PlaceOrder(ctx context.Context, spec models.OrderSpec) (models.OrderAck, error) {
	clientOrderID := spec.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = models.NewClientOrderID(spec.Tag, spec.Layer)
	}

	svc := b.client.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(binance.SideType(spec.Side)).
		NewClientOrderID(clientOrderID).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	switch {
	case spec.Type == models.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
		if spec.QuoteQuantity.IsPositive() {
			svc = svc.QuoteOrderQty(spec.QuoteQuantity.String())
		} else {
			svc = svc.Quantity(spec.Quantity.String())
		}
	case spec.PostOnly:
		svc = svc.Type(binance.OrderTypeLimitMaker).
			Quantity(spec.Quantity.String()).
			Price(spec.Price.String())
	default:
		tif := spec.TimeInForce
		if tif == "" {
			tif = models.TimeInForceGTC
		}
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceType(tif)).
			Quantity(spec.Quantity.String()).
			Price(spec.Price.String())
	}

	order, err := svc.Do(ctx)
	if err != nil {
		err = classify("create order", err, spec.PostOnly)
		return models.OrderAck{}, fmt.Errorf("failed to place %s %s order for %s: %w", spec.Type, spec.Side, spec.Symbol, err)
	}

	ack := models.OrderAck{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Status:        models.OrderStatus(order.Status),
		Price:         parseDecimal(order.Price),
		ExecutedQty:   parseDecimal(order.ExecutedQuantity),
	}

	// Average executed price from fills
	var quote, base decimal.Decimal
	ts := time.UnixMilli(order.TransactTime)
	for _, f := range order.Fills {
		price := parseDecimal(f.Price)
		qty := parseDecimal(f.Quantity)
		quote = quote.Add(price.Mul(qty))
		base = base.Add(qty)
		ack.Fills = append(ack.Fills, models.Fill{
			OrderID:       order.OrderID,
			TradeID:       f.TradeID,
			ClientOrderID: order.ClientOrderID,
			Symbol:        spec.Symbol,
			Side:          spec.Side,
			Price:         price,
			Quantity:      qty,
			IsMaker:       false,
			Fee:           parseDecimal(f.Commission),
			FeeAsset:      f.CommissionAsset,
			Timestamp:     ts,
			Layer:         spec.Layer,
			Tag:           spec.Tag,
		})
	}
	if base.IsPositive() && (spec.Type == models.OrderTypeMarket || !ack.Price.IsPositive()) {
		ack.Price = quote.Div(base)
	}

	logger.Infof("Placed %s %s %s order for %s: OrderID=%d qty=%s price=%s status=%s",
		spec.Tag, spec.Type, spec.Side, spec.Symbol, ack.OrderID, spec.Quantity, ack.Price, ack.Status)
	return ack, nil
}

func (b *BinanceClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	logger.Debugf("Canceling order %d for %s", orderID, symbol)

	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order %d for %s: %w", orderID, symbol, classify("cancel order", err, false))
	}

	logger.Infof("Successfully canceled order %d for %s", orderID, symbol)
	return nil
}

// CancelAllOrders cancels every open order on symbol in one request.
// Having nothing to cancel is not an error.
func (b *BinanceClient) CancelAllOrders(ctx context.Context, symbol string) error {
	_, err := b.client.NewCancelOpenOrdersService().Symbol(symbol).Do(ctx)
	if err == nil {
		logger.Infof("Canceled all open orders for %s", symbol)
		return nil
	}

	err = classify("cancel open orders", err, false)
	if rejected, ok := models.AsOrderRejected(err); ok && rejected.Code == codeCancelRejected {
		return nil
	}
	return fmt.Errorf("failed to cancel open orders for %s: %w", symbol, err)
}

// StartUserStream obtains a listen key for the user data stream.
func (b *BinanceClient) StartUserStream(ctx context.Context) (string, error) {
	return retry(ctx, "start user stream", b.retries, b.retryDelay, func() (string, error) {
		return b.client.NewStartUserStreamService().Do(ctx)
	})
}

func (b *BinanceClient) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	_, err := retry(ctx, "keepalive user stream", b.retries, b.retryDelay, func() (struct{}, error) {
		return struct{}{}, b.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
	})
	return err
}

func (b *BinanceClient) CloseUserStream(ctx context.Context, listenKey string) error {
	return b.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx)
}

func orderTypeFromBinance(t binance.OrderType) models.OrderType {
	if t == binance.OrderTypeMarket {
		return models.OrderTypeMarket
	}
	return models.OrderTypeLimit
}

func parseDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return v
}
