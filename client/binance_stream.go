package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"martingale_bot/interfaces"
	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/adshao/go-binance/v2"
)

const executionTypeTrade = "TRADE"

// BinanceStream wires the Binance book-ticker and user-data websockets into a
// StreamManager.
type BinanceStream struct {
	*StreamManager

	client *BinanceClient
	symbol string
	onFill interfaces.FillHandler

	keyMu     sync.Mutex
	listenKey string
}

func NewBinanceStream(client *BinanceClient, symbol string, onFill interfaces.FillHandler, attempts int, delay time.Duration) *BinanceStream {
	s := &BinanceStream{
		client: client,
		symbol: strings.ToUpper(symbol),
		onFill: onFill,
	}
	s.StreamManager = NewStreamManager(s.dial, []string{interfaces.ChannelBookTicker, interfaces.ChannelOrderUpdate}, attempts, delay)
	return s
}

func (s *BinanceStream) dial(ctx context.Context, channel string) (chan struct{}, chan struct{}, error) {
	errHandler := func(err error) {
		logger.Warnf("%s websocket error: %v", channel, err)
	}

	switch channel {
	case interfaces.ChannelBookTicker:
		return binance.WsBookTickerServe(s.symbol, s.handleBookTicker, errHandler)
	case interfaces.ChannelOrderUpdate:
		key, err := s.client.StartUserStream(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to obtain listen key: %w", err)
		}
		s.keyMu.Lock()
		s.listenKey = key
		s.keyMu.Unlock()
		return binance.WsUserDataServe(key, s.handleUserData, errHandler)
	}
	return nil, nil, fmt.Errorf("unknown channel %q", channel)
}

func (s *BinanceStream) handleBookTicker(event *binance.WsBookTickerEvent) {
	bid := parseDecimal(event.BestBidPrice)
	ask := parseDecimal(event.BestAskPrice)
	if bid.IsPositive() && ask.IsPositive() {
		s.UpdateQuote(bid, ask)
	}
}

func (s *BinanceStream) handleUserData(event *binance.WsUserDataEvent) {
	if event.Event != binance.UserDataEventTypeExecutionReport {
		return
	}
	u := event.OrderUpdate
	if u.ExecutionType != executionTypeTrade || u.Symbol != s.symbol {
		return
	}

	tag, layer := models.ParseClientOrderID(u.ClientOrderId)
	fill := models.Fill{
		OrderID:       u.Id,
		TradeID:       u.TradeId,
		ClientOrderID: u.ClientOrderId,
		Symbol:        u.Symbol,
		Side:          models.Side(u.Side),
		Price:         parseDecimal(u.LatestPrice),
		Quantity:      parseDecimal(u.LatestVolume),
		IsMaker:       u.IsMaker,
		Fee:           parseDecimal(u.FeeCost),
		FeeAsset:      u.FeeAsset,
		Timestamp:     time.UnixMilli(u.TransactionTime),
		Layer:         layer,
		Tag:           tag,
	}
	if s.onFill != nil {
		s.onFill(fill)
	}
}

// KeepAlive extends the listen key of the user data stream.
func (s *BinanceStream) KeepAlive(ctx context.Context) error {
	s.keyMu.Lock()
	key := s.listenKey
	s.keyMu.Unlock()
	if key == "" {
		return nil
	}
	if err := s.client.KeepaliveUserStream(ctx, key); err != nil {
		return fmt.Errorf("listen key keepalive: %w", err)
	}
	logger.Debugf("Listen key refreshed")
	return nil
}

func (s *BinanceStream) Close() error {
	if err := s.StreamManager.Close(); err != nil {
		return err
	}
	s.keyMu.Lock()
	key := s.listenKey
	s.listenKey = ""
	s.keyMu.Unlock()
	if key == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.CloseUserStream(ctx, key); err != nil {
		logger.Warnf("Failed to close user stream: %v", err)
	}
	return nil
}
