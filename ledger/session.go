package ledger

import (
	"sort"
	"sync"
	"time"

	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

// averageDivergence is the relative gap between the FIFO average and the
// running buy average above which a warning is logged.
var averageDivergence = decimal.RequireFromString("0.001")

// PnL is a point-in-time profit summary in quote currency.
type PnL struct {
	Realized   decimal.Decimal
	Unrealized decimal.Decimal
	Fees       decimal.Decimal
	Net        decimal.Decimal
}

// Snapshot is a consistent copy of the session counters.
type Snapshot struct {
	Symbol          string
	StartedAt       time.Time
	TotalBought     decimal.Decimal
	TotalSold       decimal.Decimal
	MakerBuyVolume  decimal.Decimal
	MakerSellVolume decimal.Decimal
	TakerBuyVolume  decimal.Decimal
	TakerSellVolume decimal.Decimal
	Fees            decimal.Decimal
	RealizedProfit  decimal.Decimal
	LedgerFees      decimal.Decimal
	OpenQuantity    decimal.Decimal
	EntryPrice      decimal.Decimal
	RunningAverage  decimal.Decimal
	Unmatched       decimal.Decimal
	CurrentLayer    int
	TradeCount      int
	ActiveOrders    int
}

// Session is the single owned aggregate for one trading session. The bot's
// run goroutine is the only writer; readers use Snapshot and PnL.
type Session struct {
	mu sync.RWMutex

	symbol    string
	baseAsset string
	startedAt time.Time

	fills  []models.Fill
	ledger *Ledger

	totalBought     decimal.Decimal
	totalSold       decimal.Decimal
	makerBuyVolume  decimal.Decimal
	makerSellVolume decimal.Decimal
	takerBuyVolume  decimal.Decimal
	takerSellVolume decimal.Decimal
	fees            decimal.Decimal
	buyCost         decimal.Decimal
	currentLayer    int
	tradeCount      int

	activeOrders map[int64]models.Order
}

func NewSession(symbol, baseAsset string, startedAt time.Time) *Session {
	return &Session{
		symbol:       symbol,
		baseAsset:    baseAsset,
		startedAt:    startedAt,
		ledger:       New(baseAsset),
		activeOrders: make(map[int64]models.Order),
	}
}

// fillBefore orders fills by execution time, then by trade id.
func fillBefore(a, b models.Fill) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.TradeID < b.TradeID
}

// Apply records a validated, deduplicated fill. A fill that sorts before the
// last one seen is inserted in (timestamp, trade id) order and the ledger is
// rebuilt by replay. A returned *models.LedgerInconsistency leaves the
// session usable.
func (s *Session) Apply(f models.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.fills)
	if n == 0 || !fillBefore(f, s.fills[n-1]) {
		s.fills = append(s.fills, f)
		return s.applyLocked(f)
	}

	idx := sort.Search(n, func(i int) bool {
		return fillBefore(f, s.fills[i])
	})
	s.fills = append(s.fills, models.Fill{})
	copy(s.fills[idx+1:], s.fills[idx:])
	s.fills[idx] = f

	logger.Debugf("Out-of-order fill %s inserted at %d/%d, rebuilding ledger", f.Key(), idx, n+1)
	before := s.ledger.Unmatched()
	s.rebuildLocked()
	if after := s.ledger.Unmatched(); after.GreaterThan(before) {
		return &models.LedgerInconsistency{OrderID: f.OrderID, TradeID: f.TradeID, Unmatched: after.Sub(before)}
	}
	return nil
}

func (s *Session) applyLocked(f models.Fill) error {
	qty := f.Quantity
	switch f.Side {
	case models.SideBuy:
		s.totalBought = s.totalBought.Add(qty)
		s.buyCost = s.buyCost.Add(f.Notional())
		if f.IsMaker {
			s.makerBuyVolume = s.makerBuyVolume.Add(qty)
		} else {
			s.takerBuyVolume = s.takerBuyVolume.Add(qty)
		}
		if (f.Tag == models.TagEntry || f.Tag == models.TagLadder) && f.Layer > s.currentLayer {
			s.currentLayer = f.Layer
		}
	case models.SideSell:
		s.totalSold = s.totalSold.Add(qty)
		if f.IsMaker {
			s.makerSellVolume = s.makerSellVolume.Add(qty)
		} else {
			s.takerSellVolume = s.takerSellVolume.Add(qty)
		}
	}
	s.fees = s.fees.Add(f.FeeInQuote(s.baseAsset))
	s.tradeCount++

	return s.ledger.Apply(f)
}

func (s *Session) rebuildLocked() {
	s.ledger = New(s.baseAsset)
	s.totalBought = decimal.Zero
	s.totalSold = decimal.Zero
	s.makerBuyVolume = decimal.Zero
	s.makerSellVolume = decimal.Zero
	s.takerBuyVolume = decimal.Zero
	s.takerSellVolume = decimal.Zero
	s.fees = decimal.Zero
	s.buyCost = decimal.Zero
	s.currentLayer = 0
	s.tradeCount = 0
	for _, f := range s.fills {
		// inconsistencies are tracked through ledger.Unmatched
		_ = s.applyLocked(f)
	}
}

// TrackOrder registers an order the bot expects to be working on the book.
func (s *Session) TrackOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrders[o.OrderID] = o
}

func (s *Session) ForgetOrder(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeOrders, orderID)
}

// ClearOrders drops every tracked order, e.g. after a cancel-all.
func (s *Session) ClearOrders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrders = make(map[int64]models.Order)
}

func (s *Session) ActiveOrder(orderID int64) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.activeOrders[orderID]
	return o, ok
}

// ActiveOrders returns the tracked orders sorted by order id.
func (s *Session) ActiveOrders() []models.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Order, 0, len(s.activeOrders))
	for _, o := range s.activeOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// EntryPrice is the weighted average of open lots. ok is false with no open lots.
func (s *Session) EntryPrice() (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, avg := s.ledger.OpenPosition()
	return avg, qty.IsPositive()
}

func (s *Session) runningAverageLocked() decimal.Decimal {
	if !s.totalBought.IsPositive() {
		return decimal.Zero
	}
	return s.buyCost.Div(s.totalBought)
}

// CheckAverageDivergence logs a warning when the running buy average drifts
// from the FIFO entry price by more than 0.1%. It reports whether it did.
func (s *Session) CheckAverageDivergence() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, fifo := s.ledger.OpenPosition()
	running := s.runningAverageLocked()
	if !qty.IsPositive() || !running.IsPositive() {
		return false
	}
	gap := fifo.Sub(running).Abs().Div(fifo)
	if gap.GreaterThan(averageDivergence) {
		logger.Warnf("Average price divergence on %s: fifo=%s running=%s (%.3f%%)",
			s.symbol, fifo.StringFixed(8), running.StringFixed(8), gap.Mul(decimal.NewFromInt(100)).InexactFloat64())
		return true
	}
	return false
}

func (s *Session) OpenQuantity() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, _ := s.ledger.OpenPosition()
	return qty
}

// Imbalance is total bought minus total sold.
func (s *Session) Imbalance() (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalBought.Sub(s.totalSold), s.totalBought, s.totalSold
}

func (s *Session) CurrentLayer() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLayer
}

// Fills returns a copy of the ordered fill history.
func (s *Session) Fills() []models.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Fill, len(s.fills))
	copy(out, s.fills)
	return out
}

// PnL values the open position at price. Fees are every fee paid in the session.
func (s *Session) PnL(price decimal.Decimal) PnL {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, avg := s.ledger.OpenPosition()
	unrealized := decimal.Zero
	if qty.IsPositive() && price.IsPositive() {
		unrealized = price.Sub(avg).Mul(qty)
	}
	realized := s.ledger.RealizedProfit()
	return PnL{
		Realized:   realized,
		Unrealized: unrealized,
		Fees:       s.fees,
		Net:        realized.Add(unrealized).Sub(s.fees),
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, avg := s.ledger.OpenPosition()
	return Snapshot{
		Symbol:          s.symbol,
		StartedAt:       s.startedAt,
		TotalBought:     s.totalBought,
		TotalSold:       s.totalSold,
		MakerBuyVolume:  s.makerBuyVolume,
		MakerSellVolume: s.makerSellVolume,
		TakerBuyVolume:  s.takerBuyVolume,
		TakerSellVolume: s.takerSellVolume,
		Fees:            s.fees,
		RealizedProfit:  s.ledger.RealizedProfit(),
		LedgerFees:      s.ledger.TotalFees(),
		OpenQuantity:    qty,
		EntryPrice:      avg,
		RunningAverage:  s.runningAverageLocked(),
		Unmatched:       s.ledger.Unmatched(),
		CurrentLayer:    s.currentLayer,
		TradeCount:      s.tradeCount,
		ActiveOrders:    len(s.activeOrders),
	}
}
