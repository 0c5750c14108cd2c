package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

// Dialer opens one push-stream channel. doneC is closed when the connection
// ends; closing stopC asks it to end.
type Dialer func(ctx context.Context, channel string) (doneC, stopC chan struct{}, err error)

type subscription struct {
	doneC   chan struct{}
	stopC   chan struct{}
	stopped bool
}

func (s *subscription) alive() bool {
	select {
	case <-s.doneC:
		return false
	default:
		return true
	}
}

func (s *subscription) stop() {
	if !s.stopped {
		s.stopped = true
		close(s.stopC)
	}
}

// StreamManager keeps a set of required push channels connected. It does not
// know the wire format; a Dialer does.
type StreamManager struct {
	mu       sync.Mutex
	dial     Dialer
	required []string
	subs     map[string]*subscription
	closed   bool

	attempts int
	delay    time.Duration

	quoteMu sync.RWMutex
	bid     decimal.Decimal
	ask     decimal.Decimal

	// OnDisconnect is called once per dropped channel.
	OnDisconnect func(channel string)
	// OnReconnect is called after a channel is re-established by Reconnect.
	OnReconnect func(channel string)
}

func NewStreamManager(dial Dialer, required []string, attempts int, delay time.Duration) *StreamManager {
	if attempts < 1 {
		attempts = 1
	}
	return &StreamManager{
		dial:     dial,
		required: required,
		subs:     make(map[string]*subscription),
		attempts: attempts,
		delay:    delay,
	}
}

// Subscribe opens channel unless it is already live.
func (m *StreamManager) Subscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeLocked(ctx, channel)
}

func (m *StreamManager) subscribeLocked(ctx context.Context, channel string) error {
	if m.closed {
		return errors.New("stream manager closed")
	}
	if sub, ok := m.subs[channel]; ok && sub.alive() {
		return nil
	}

	doneC, stopC, err := m.dial(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := &subscription{doneC: doneC, stopC: stopC}
	m.subs[channel] = sub
	go m.watch(channel, sub)

	logger.Infof("Subscribed to %s stream", channel)
	return nil
}

func (m *StreamManager) watch(channel string, sub *subscription) {
	<-sub.doneC
	m.mu.Lock()
	intentional := sub.stopped || m.closed
	m.mu.Unlock()
	if intentional {
		return
	}
	log := logger.Component("stream")
	log.Warn().Str("channel", channel).Err(models.ErrConnectionLost).Msg("push channel dropped")
	if m.OnDisconnect != nil {
		m.OnDisconnect(channel)
	}
}

// Reconnect re-establishes every required channel that is not live, with a
// bounded number of fixed-delay attempts per channel.
func (m *StreamManager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, channel := range m.required {
		if sub, ok := m.subs[channel]; ok && sub.alive() {
			continue
		}
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, m.subscribeLocked(ctx, channel)
		}, backoff.WithBackOff(backoff.NewConstantBackOff(m.delay)), backoff.WithMaxTries(uint(m.attempts)))
		if err != nil {
			logger.Errorf("Failed to reconnect %s stream after %d attempts: %v", channel, m.attempts, err)
			errs = append(errs, err)
			continue
		}
		log := logger.Component("stream")
		log.Info().Str("channel", channel).Msg("push channel re-established")
		if m.OnReconnect != nil {
			m.OnReconnect(channel)
		}
	}
	return errors.Join(errs...)
}

// Connected reports whether every required channel is live.
func (m *StreamManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, channel := range m.required {
		sub, ok := m.subs[channel]
		if !ok || !sub.alive() {
			return false
		}
	}
	return true
}

// Subscriptions lists live channels, sorted.
func (m *StreamManager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for channel, sub := range m.subs {
		if sub.alive() {
			out = append(out, channel)
		}
	}
	sort.Strings(out)
	return out
}

// UpdateQuote stores the latest top of book.
func (m *StreamManager) UpdateQuote(bid, ask decimal.Decimal) {
	m.quoteMu.Lock()
	defer m.quoteMu.Unlock()
	m.bid, m.ask = bid, ask
}

// BestBidAsk returns the last top of book pushed by the dialer.
func (m *StreamManager) BestBidAsk() (decimal.Decimal, decimal.Decimal, bool) {
	m.quoteMu.RLock()
	bid, ask := m.bid, m.ask
	m.quoteMu.RUnlock()
	if !bid.IsPositive() || !ask.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	return bid, ask, true
}

// Close stops every channel. It is safe to call more than once.
func (m *StreamManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, sub := range m.subs {
		sub.stop()
	}
	return nil
}
