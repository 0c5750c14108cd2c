package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"martingale_bot/interfaces"
	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/shopspring/decimal"
)

var (
	defaultPaperFeeRate = decimal.RequireFromString("0.001")

	errNoPaperPrice = errors.New("paper exchange has no price yet")
)

// PaperExchange is an in-memory exchange for dry runs and tests. It keeps a
// single mutable price; resting limit orders fill when SetPrice crosses them.
// It implements both interfaces.ExchangeClient and interfaces.MarketStream.
type PaperExchange struct {
	*StreamManager

	mu       sync.Mutex
	limits   models.SymbolConfig
	price    decimal.Decimal
	feeRate  decimal.Decimal
	balances map[string]decimal.Decimal
	orders   map[int64]*models.Order
	trades   map[int64][]models.Fill
	candles  []models.CandleStick
	links    []*paperLink
	nextID   int64
	nextTID  int64
	now      func() time.Time
	onFill   interfaces.FillHandler
}

type paperLink struct {
	doneC chan struct{}
	once  sync.Once
}

func (l *paperLink) drop() { l.once.Do(func() { close(l.doneC) }) }

// NewPaperExchange starts with quoteBalance of the quote asset and nothing else.
func NewPaperExchange(limits models.SymbolConfig, quoteBalance decimal.Decimal, onFill interfaces.FillHandler) *PaperExchange {
	p := &PaperExchange{
		limits:   limits,
		feeRate:  defaultPaperFeeRate,
		balances: map[string]decimal.Decimal{limits.QuoteAsset: quoteBalance},
		orders:   make(map[int64]*models.Order),
		trades:   make(map[int64][]models.Fill),
		nextID:   1000,
		nextTID:  5000,
		now:      time.Now,
		onFill:   onFill,
	}
	p.StreamManager = NewStreamManager(p.dial, []string{interfaces.ChannelBookTicker, interfaces.ChannelOrderUpdate}, 3, 10*time.Millisecond)
	return p
}

// SetFillHandler replaces the push handler for order-update fills.
func (p *PaperExchange) SetFillHandler(h interfaces.FillHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFill = h
}

func (p *PaperExchange) SetFeeRate(rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeRate = rate
}

func (p *PaperExchange) SetCandles(candles []models.CandleStick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles = candles
}

func (p *PaperExchange) dial(ctx context.Context, channel string) (chan struct{}, chan struct{}, error) {
	if channel != interfaces.ChannelBookTicker && channel != interfaces.ChannelOrderUpdate {
		return nil, nil, fmt.Errorf("unknown channel %q", channel)
	}
	link := &paperLink{doneC: make(chan struct{})}
	stopC := make(chan struct{})
	go func() {
		select {
		case <-stopC:
			link.drop()
		case <-link.doneC:
		}
	}()

	p.mu.Lock()
	p.links = append(p.links, link)
	bid, ask, ok := p.quoteLocked()
	p.mu.Unlock()

	if ok && channel == interfaces.ChannelBookTicker {
		p.UpdateQuote(bid, ask)
	}
	return link.doneC, stopC, nil
}

// Disconnect drops every push connection, as a network failure would.
func (p *PaperExchange) Disconnect() {
	p.mu.Lock()
	links := p.links
	p.links = nil
	p.mu.Unlock()
	for _, l := range links {
		l.drop()
	}
}

func (p *PaperExchange) live(channel string) bool {
	for _, c := range p.Subscriptions() {
		if c == channel {
			return true
		}
	}
	return false
}

// quoteLocked derives a one-tick book around the last price.
func (p *PaperExchange) quoteLocked() (decimal.Decimal, decimal.Decimal, bool) {
	if !p.price.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	return p.price, p.price.Add(p.limits.TickSize), true
}

// SetPrice moves the market and fills every resting order the new price crosses.
func (p *PaperExchange) SetPrice(price decimal.Decimal) {
	p.mu.Lock()
	p.price = price
	bid, ask, _ := p.quoteLocked()

	ids := make([]int64, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var fills []models.Fill
	for _, id := range ids {
		o := p.orders[id]
		crossed := (o.Side == models.SideBuy && price.LessThanOrEqual(o.Price)) ||
			(o.Side == models.SideSell && price.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		fill, err := p.executeLocked(o, o.Price, o.Quantity.Sub(o.ExecutedQty), true)
		if err != nil {
			logger.Warnf("Paper order %d could not fill: %v", o.OrderID, err)
			continue
		}
		delete(p.orders, id)
		fills = append(fills, fill)
	}
	handler := p.onFill
	p.mu.Unlock()

	if p.live(interfaces.ChannelBookTicker) {
		p.UpdateQuote(bid, ask)
	}
	p.push(handler, fills)
}

func (p *PaperExchange) push(handler interfaces.FillHandler, fills []models.Fill) {
	if handler == nil || len(fills) == 0 || !p.live(interfaces.ChannelOrderUpdate) {
		return
	}
	for _, f := range fills {
		handler(f)
	}
}

// executeLocked books a fill against balances and the trade list.
func (p *PaperExchange) executeLocked(o *models.Order, price, qty decimal.Decimal, maker bool) (models.Fill, error) {
	notional := price.Mul(qty)
	fee := notional.Mul(p.feeRate)
	base, quote := p.limits.BaseAsset, p.limits.QuoteAsset

	switch o.Side {
	case models.SideBuy:
		if p.balances[quote].LessThan(notional.Add(fee)) {
			return models.Fill{}, &models.OrderRejected{Code: codeNewOrderRejected, Reason: "Account has insufficient balance for requested action."}
		}
		p.balances[quote] = p.balances[quote].Sub(notional).Sub(fee)
		p.balances[base] = p.balances[base].Add(qty)
	case models.SideSell:
		if p.balances[base].LessThan(qty) {
			return models.Fill{}, &models.OrderRejected{Code: codeNewOrderRejected, Reason: "Account has insufficient balance for requested action."}
		}
		p.balances[base] = p.balances[base].Sub(qty)
		p.balances[quote] = p.balances[quote].Add(notional).Sub(fee)
	}

	p.nextTID++
	o.ExecutedQty = o.ExecutedQty.Add(qty)
	o.Status = models.OrderStatusFilled
	fill := models.Fill{
		OrderID:       o.OrderID,
		TradeID:       p.nextTID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Price:         price,
		Quantity:      qty,
		IsMaker:       maker,
		Fee:           fee,
		FeeAsset:      quote,
		Timestamp:     p.now(),
		Layer:         o.Layer,
		Tag:           o.Tag,
	}
	p.trades[o.OrderID] = append(p.trades[o.OrderID], fill)
	return fill, nil
}

func (p *PaperExchange) GetMarketLimits(ctx context.Context, symbol string) (models.SymbolConfig, error) {
	if symbol != p.limits.Symbol {
		return models.SymbolConfig{}, models.NewConfigurationError(fmt.Sprintf("symbol %s not found in paper exchange", symbol))
	}
	return p.limits, nil
}

func (p *PaperExchange) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.price.IsPositive() {
		return decimal.Zero, &models.TransientAPIError{Op: "paper price", Err: errNoPaperPrice}
	}
	return p.price, nil
}

func (p *PaperExchange) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.CandleStick, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.candles) == 0 {
		return nil, errors.New("paper exchange has no candles")
	}
	if limit > 0 && len(p.candles) > limit {
		return append([]models.CandleStick(nil), p.candles[len(p.candles)-limit:]...), nil
	}
	return append([]models.CandleStick(nil), p.candles...), nil
}

func (p *PaperExchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset], nil
}

func (p *PaperExchange) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (p *PaperExchange) GetOrderFills(ctx context.Context, symbol string, orderID int64) ([]models.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Fill(nil), p.trades[orderID]...), nil
}

func (p *PaperExchange) PlaceOrder(ctx context.Context, spec models.OrderSpec) (models.OrderAck, error) {
	p.mu.Lock()
	if !p.price.IsPositive() {
		p.mu.Unlock()
		return models.OrderAck{}, &models.TransientAPIError{Op: "paper order", Err: errNoPaperPrice}
	}
	bid, ask, _ := p.quoteLocked()

	clientOrderID := spec.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = models.NewClientOrderID(spec.Tag, spec.Layer)
	}

	qty := spec.Quantity
	if spec.Type == models.OrderTypeMarket && spec.QuoteQuantity.IsPositive() {
		qty = strategies.TruncateQuantity(spec.QuoteQuantity.Div(ask), p.limits.BasePrecision)
	}
	if qty.LessThan(p.limits.MinOrderSize) {
		p.mu.Unlock()
		return models.OrderAck{}, &models.OrderRejected{Code: -1013, Reason: fmt.Sprintf("quantity %s below LOT_SIZE minimum", qty)}
	}

	p.nextID++
	o := &models.Order{
		OrderID:       p.nextID,
		ClientOrderID: clientOrderID,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Price:         spec.Price,
		Quantity:      qty,
		Status:        models.OrderStatusNew,
		Tag:           spec.Tag,
		Layer:         spec.Layer,
		CreatedAt:     p.now(),
	}

	crosses := (spec.Side == models.SideBuy && spec.Price.GreaterThanOrEqual(ask)) ||
		(spec.Side == models.SideSell && spec.Price.LessThanOrEqual(bid))

	var fills []models.Fill
	switch {
	case spec.Type == models.OrderTypeMarket || crosses:
		if spec.PostOnly {
			p.mu.Unlock()
			return models.OrderAck{}, &models.OrderRejected{Code: codeNewOrderRejected, Reason: "Order would immediately match and take.", PostOnly: true}
		}
		price := ask
		if spec.Side == models.SideSell {
			price = bid
		}
		fill, err := p.executeLocked(o, price, qty, false)
		if err != nil {
			p.mu.Unlock()
			return models.OrderAck{}, err
		}
		o.Price = price
		fills = append(fills, fill)
	default:
		if !spec.Price.IsPositive() {
			p.mu.Unlock()
			return models.OrderAck{}, &models.OrderRejected{Code: -1013, Reason: "price must be positive"}
		}
		p.orders[o.OrderID] = o
	}
	handler := p.onFill
	ack := models.OrderAck{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Status:        o.Status,
		Price:         o.Price,
		ExecutedQty:   o.ExecutedQty,
		Fills:         fills,
	}
	p.mu.Unlock()

	p.push(handler, fills)
	return ack, nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return &models.OrderRejected{Code: codeCancelRejected, Reason: "Unknown order sent."}
	}
	delete(p.orders, orderID)
	return nil
}

func (p *PaperExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = make(map[int64]*models.Order)
	return nil
}
