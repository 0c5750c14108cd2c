package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"martingale_bot/interfaces"
	"martingale_bot/ledger"
	"martingale_bot/logger"
	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/shopspring/decimal"
)

const teardownTimeout = 30 * time.Second

// Observer receives session events. metrics.Collector implements it.
type Observer interface {
	StateChanged(state string)
	FillApplied(f models.Fill)
	OrderResult(tag models.OrderTag, result string)
	LedgerInconsistency()
	SessionUpdated(snap ledger.Snapshot, pnl ledger.PnL)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string) {}
func (nopObserver) FillApplied(models.Fill) {}
func (nopObserver) OrderResult(models.OrderTag, string) {}
func (nopObserver) LedgerInconsistency() {}
func (nopObserver) SessionUpdated(ledger.Snapshot, ledger.PnL) {}

// keepAliver is implemented by streams whose session must be refreshed,
// such as the Binance user data stream.
type keepAliver interface {
	KeepAlive(ctx context.Context) error
}

// MartingaleBot runs one martingale session on one symbol. All state
// mutation happens on the goroutine that calls Run; push-stream callbacks
// only hand fills to the reconciler.
type MartingaleBot struct {
	cfg      Config
	exchange interfaces.ExchangeClient
	stream   interfaces.MarketStream
	store    interfaces.Store
	observer Observer

	limits     models.SymbolConfig
	session    atomic.Pointer[ledger.Session]
	reconciler *Reconciler
	persister  *Persister

	state      atomic.Int32
	startedAt  time.Time
	allocation []decimal.Decimal
	ladder     []models.LadderLayer
	sigma      float64
	subscribed bool
	lastOpen   map[int64]models.Order
	daily      *dailyTracker

	priceMu   sync.Mutex
	lastPrice decimal.Decimal
	spreadSum decimal.Decimal
	spreadN   int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMartingaleBot wires a bot. stream and store may be nil: without a stream
// the bot polls for fills and prices, without a store nothing is persisted.
func NewMartingaleBot(cfg Config, exchange interfaces.ExchangeClient, stream interfaces.MarketStream, store interfaces.Store) *MartingaleBot {
	bot := &MartingaleBot{
		cfg:      cfg.withDefaults(),
		exchange: exchange,
		stream:   stream,
		store:    store,
		observer: nopObserver{},
		lastOpen: make(map[int64]models.Order),
		now:      time.Now,
		sleep:    sleepContext,
	}
	bot.reconciler = NewReconciler(bot.cfg.InboxSize, bot.lookupOrder)
	bot.daily = newDailyTracker(cfg.Symbol)
	return bot
}

func (bot *MartingaleBot) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	bot.observer = o
}

// HandleFill is the push-stream fill handler. It is safe to call from any goroutine.
func (bot *MartingaleBot) HandleFill(f models.Fill) {
	bot.reconciler.Submit(f)
}

func (bot *MartingaleBot) State() State {
	return State(bot.state.Load())
}

// Session is nil until the startup checks have passed.
func (bot *MartingaleBot) Session() *ledger.Session {
	return bot.session.Load()
}

func (bot *MartingaleBot) Ladder() []models.LadderLayer {
	return append([]models.LadderLayer(nil), bot.ladder...)
}

func (bot *MartingaleBot) lookupOrder(orderID int64) (models.Order, bool) {
	s := bot.Session()
	if s == nil {
		return models.Order{}, false
	}
	return s.ActiveOrder(orderID)
}

func (bot *MartingaleBot) transition(to State) bool {
	from := bot.State()
	if !canTransition(from, to) {
		logger.Warnf("Ignoring illegal transition %s -> %s", from, to)
		return false
	}
	bot.state.Store(int32(to))
	logger.Infof("[%s] %s -> %s", bot.cfg.Symbol, from, to)
	bot.observer.StateChanged(to.String())
	return true
}

func (bot *MartingaleBot) fail(err error) {
	log := logger.Component("bot")
	log.Error().Err(err).Str("symbol", bot.cfg.Symbol).Str("state", bot.State().String()).Msg("session failed")
	bot.transition(StateFailed)
}

// Run executes the session until it closes, fails, the run duration elapses
// or ctx is cancelled. Outstanding orders are always cancelled on return.
func (bot *MartingaleBot) Run(ctx context.Context) error {
	bot.startedAt = bot.now()
	defer bot.teardown()

	if err := bot.startup(ctx); err != nil {
		bot.fail(err)
		return err
	}
	bot.transition(StateAwaitingEntry)
	bot.ensureStreams(ctx)

	ack, err := bot.enter(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logger.Infof("Stopped before entry: %v", ctx.Err())
			return nil
		}
		bot.fail(err)
		return err
	}
	bot.transition(StateLadderPlaced)

	entryPrice := ack.Price
	if !entryPrice.IsPositive() {
		entryPrice = bot.lastKnownPrice()
	}
	bot.placeLadder(ctx, entryPrice)
	bot.transition(StateMonitoring)

	if err := bot.monitor(ctx); err != nil {
		bot.fail(err)
		return err
	}
	return nil
}

func (bot *MartingaleBot) startup(ctx context.Context) error {
	if err := bot.cfg.Validate(); err != nil {
		return err
	}
	limits, err := strategies.ResolveLimits(ctx, bot.exchange, bot.cfg.Symbol)
	if err != nil {
		return err
	}
	bot.limits = limits
	logger.Infof("Trading rules for %s: tick %s, min qty %s, base precision %d, quote precision %d",
		limits.Symbol, limits.TickSize, limits.MinOrderSize, limits.BasePrecision, limits.QuotePrecision)

	bot.session.Store(ledger.NewSession(limits.Symbol, limits.BaseAsset, bot.startedAt))
	bot.daily.seed(bot.today(), models.DailyStats{})
	if bot.store != nil {
		bot.persister = NewPersister(bot.store, bot.cfg.PersistQueueSize)
		bot.loadHistory(ctx)
	}
	return nil
}

// loadHistory reports all-time results from stored fills and seeds today's
// statistics. A store failure is logged, never fatal.
func (bot *MartingaleBot) loadHistory(ctx context.Context) {
	fills, err := bot.store.GetFillHistory(ctx, bot.limits.Symbol)
	if err != nil {
		logger.Warnf("Failed to load fill history for %s: %v", bot.limits.Symbol, err)
	} else if len(fills) > 0 {
		history, errs := ledger.Replay(bot.limits.BaseAsset, fills)
		qty, avg := history.OpenPosition()
		logger.Infof("History for %s: %d fills, realized %s, fees %s, open %s @ %s",
			bot.limits.Symbol, len(fills), history.RealizedProfit().StringFixed(4), history.TotalFees().StringFixed(4),
			qty, avg.StringFixed(bot.limits.QuotePrecision))
		if len(errs) > 0 {
			logger.Warnf("History for %s has %d unmatched sells (%s)", bot.limits.Symbol, len(errs), history.Unmatched())
		}
	}

	stats, ok, err := bot.store.GetDailyStats(ctx, bot.limits.Symbol, bot.now())
	switch {
	case err != nil:
		logger.Warnf("Failed to load daily stats for %s: %v", bot.limits.Symbol, err)
	case ok:
		bot.daily.seed(stats.Date, stats)
		logger.Infof("Today on %s so far: %d trades, realized %s, fees %s",
			bot.limits.Symbol, stats.TradeCount, stats.RealizedProfit.StringFixed(4), stats.TotalFees.StringFixed(4))
	}
}

// monitor is the MONITORING loop: poll on a ticker, apply pushed fills as
// they arrive.
func (bot *MartingaleBot) monitor(ctx context.Context) error {
	poll := time.NewTicker(bot.cfg.PollInterval)
	defer poll.Stop()
	report := time.NewTicker(bot.cfg.ReportInterval)
	defer report.Stop()
	keepAlive := time.NewTicker(bot.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	var deadline <-chan time.Time
	if bot.cfg.Duration > 0 {
		timer := time.NewTimer(bot.cfg.Duration - bot.now().Sub(bot.startedAt))
		defer timer.Stop()
		deadline = timer.C
	}

	if done, err := bot.tick(ctx); done || err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Stopping %s: %v", bot.cfg.Symbol, ctx.Err())
			return nil
		case <-deadline:
			logger.Infof("Run duration of %s elapsed, stopping %s without exit", bot.cfg.Duration, bot.cfg.Symbol)
			return nil
		case f := <-bot.reconciler.Inbox():
			bot.applyFill(f)
		case <-poll.C:
			if done, err := bot.tick(ctx); done || err != nil {
				return err
			}
		case <-report.C:
			bot.report()
		case <-keepAlive.C:
			bot.keepAlive(ctx)
		}
	}
}

// tick is one polling pass. done is true once the session has closed.
func (bot *MartingaleBot) tick(ctx context.Context) (bool, error) {
	bot.ensureStreams(ctx)
	bot.reconcileOrders(ctx)
	bot.drainInbox()

	price, err := bot.currentPrice(ctx)
	if err != nil {
		logger.Warnf("Failed to get price for %s: %v", bot.cfg.Symbol, err)
		return false, nil
	}

	s := bot.Session()
	s.CheckAverageDivergence()
	if avg, ok := s.EntryPrice(); ok {
		if reason := strategies.EvaluateExit(price, avg, bot.cfg.exitParams()); reason.Triggered() {
			return true, bot.exit(ctx, reason, price, avg)
		}
	}

	if bot.cfg.Rebalance.Enabled {
		bot.rebalance(ctx)
	}
	return false, nil
}

// ensureStreams subscribes on first use and reconnects afterwards. While the
// stream is down polling stays the fill source.
func (bot *MartingaleBot) ensureStreams(ctx context.Context) {
	if bot.stream == nil || bot.stream.Connected() {
		return
	}
	if !bot.subscribed {
		bot.subscribed = true
		for _, channel := range []string{interfaces.ChannelBookTicker, interfaces.ChannelOrderUpdate} {
			if err := bot.stream.Subscribe(ctx, channel); err != nil {
				logger.Warnf("Failed to subscribe to %s: %v", channel, err)
			}
		}
		return
	}
	logger.Warnf("Push stream for %s is down, reconnecting", bot.cfg.Symbol)
	if err := bot.stream.Reconnect(ctx); err != nil {
		logger.Errorf("Reconnect failed, continuing in polling mode: %v", err)
	}
}

func (bot *MartingaleBot) degraded() bool {
	return bot.stream == nil || !bot.stream.Connected()
}

// reconcileOrders diffs open orders against the previous poll. Orders that
// vanished, and orders that filled further while the stream is down, have
// their trades pulled through the reconciler.
func (bot *MartingaleBot) reconcileOrders(ctx context.Context) {
	s := bot.Session()
	open, err := bot.exchange.GetOpenOrders(ctx, bot.limits.Symbol)
	if err != nil {
		logger.Warnf("Failed to list open orders for %s: %v", bot.limits.Symbol, err)
		return
	}

	current := make(map[int64]models.Order, len(open))
	for _, o := range open {
		current[o.OrderID] = o
	}

	known := make(map[int64]models.Order, len(bot.lastOpen))
	for id, o := range bot.lastOpen {
		known[id] = o
	}
	for _, o := range s.ActiveOrders() {
		known[o.OrderID] = o
	}

	for id, o := range known {
		if _, still := current[id]; still {
			continue
		}
		bot.pullFills(ctx, o)
		s.ForgetOrder(id)
	}

	degraded := bot.degraded()
	for id, o := range current {
		prev, seen := known[id]
		if !seen && o.Tag != models.TagExternal {
			logger.Infof("Tracking open %s order %d found on the exchange", o.Tag, id)
			s.TrackOrder(o)
		}
		if degraded && o.ExecutedQty.IsPositive() && (!seen || o.ExecutedQty.GreaterThan(prev.ExecutedQty)) {
			bot.pullFills(ctx, o)
		}
	}
	bot.lastOpen = current
}

func (bot *MartingaleBot) pullFills(ctx context.Context, o models.Order) {
	fills, err := bot.exchange.GetOrderFills(ctx, bot.limits.Symbol, o.OrderID)
	if err != nil {
		logger.Warnf("Failed to fetch trades of order %d: %v", o.OrderID, err)
		return
	}
	for _, f := range fills {
		if f.Tag == "" || f.Tag == models.TagExternal {
			f.Tag, f.Layer = o.Tag, o.Layer
		}
		if f.ClientOrderID == "" {
			f.ClientOrderID = o.ClientOrderID
		}
		bot.ingest(f)
	}
}

// ingest applies a fill that did not come through the inbox.
func (bot *MartingaleBot) ingest(f models.Fill) {
	if f, ok := bot.reconciler.Accept(f); ok {
		bot.applyFill(f)
	}
}

// ingestAck applies the fills carried by a placement ack, then whatever the
// push stream delivered for the same order in the meantime.
func (bot *MartingaleBot) ingestAck(ack models.OrderAck) {
	for _, f := range ack.Fills {
		bot.ingest(f)
	}
	bot.drainInbox()
}

func (bot *MartingaleBot) drainInbox() {
	for _, f := range bot.reconciler.Drain() {
		bot.applyFill(f)
	}
}

func (bot *MartingaleBot) applyFill(f models.Fill) {
	s := bot.Session()
	if s == nil {
		logger.Warnf("Fill %s arrived before the session started", f.Key())
		return
	}
	bot.daily.roll(bot.today(), s.Snapshot())

	if err := s.Apply(f); err != nil {
		if models.IsLedgerInconsistency(err) {
			bot.observer.LedgerInconsistency()
		}
		logger.Errorf("[%s] %v", bot.limits.Symbol, err)
	}
	bot.updateTrackedOrder(f)

	logger.Infof("[%s] %s fill %s @ %s (%s layer %d, maker=%v, fee %s %s)",
		bot.limits.Symbol, f.Side, f.Quantity, f.Price, f.Tag, f.Layer, f.IsMaker, f.Fee, f.FeeAsset)
	bot.observer.FillApplied(f)

	snap := s.Snapshot()
	if bot.persister != nil {
		bot.persister.InsertFill(f)
		bot.persister.UpsertDailyStats(bot.daily.stats(snap, bot.averageSpread(), bot.sigma))
	}
	bot.observer.SessionUpdated(snap, s.PnL(bot.lastKnownPrice()))
}

func (bot *MartingaleBot) updateTrackedOrder(f models.Fill) {
	s := bot.Session()
	o, ok := s.ActiveOrder(f.OrderID)
	if !ok {
		return
	}
	o.ExecutedQty = o.ExecutedQty.Add(f.Quantity)
	if o.Quantity.IsPositive() && o.ExecutedQty.GreaterThanOrEqual(o.Quantity) {
		s.ForgetOrder(o.OrderID)
		return
	}
	o.Status = models.OrderStatusPartiallyFilled
	s.TrackOrder(o)
}

// trackAck registers a working order and returns its record.
func (bot *MartingaleBot) trackAck(spec models.OrderSpec, ack models.OrderAck) models.Order {
	o := models.Order{
		OrderID:       ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Price:         spec.Price,
		Quantity:      spec.Quantity,
		Status:        ack.Status,
		Tag:           spec.Tag,
		Layer:         spec.Layer,
		CreatedAt:     bot.now(),
	}
	if o.Price.IsZero() {
		o.Price = ack.Price
	}
	if ack.Status == models.OrderStatusNew || ack.Status == models.OrderStatusPartiallyFilled {
		bot.Session().TrackOrder(o)
	}
	return o
}

// currentPrice prefers the book-ticker mid and falls back to REST.
func (bot *MartingaleBot) currentPrice(ctx context.Context) (decimal.Decimal, error) {
	if !bot.degraded() {
		if bid, ask, ok := bot.stream.BestBidAsk(); ok {
			bot.sampleSpread(bid, ask)
			mid := bid.Add(ask).Div(decimal.NewFromInt(2))
			bot.setLastPrice(mid)
			return mid, nil
		}
	}
	price, err := bot.exchange.GetCurrentPrice(ctx, bot.limits.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	bot.setLastPrice(price)
	return price, nil
}

// bestBidAsk falls back to the REST price on both sides without a stream quote.
func (bot *MartingaleBot) bestBidAsk(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	if !bot.degraded() {
		if bid, ask, ok := bot.stream.BestBidAsk(); ok {
			return bid, ask, nil
		}
	}
	price, err := bot.exchange.GetCurrentPrice(ctx, bot.limits.Symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return price, price, nil
}

func (bot *MartingaleBot) sampleSpread(bid, ask decimal.Decimal) {
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return
	}
	pct := ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(100))
	bot.priceMu.Lock()
	bot.spreadSum = bot.spreadSum.Add(pct)
	bot.spreadN++
	bot.priceMu.Unlock()
}

func (bot *MartingaleBot) averageSpread() decimal.Decimal {
	bot.priceMu.Lock()
	defer bot.priceMu.Unlock()
	if bot.spreadN == 0 {
		return decimal.Zero
	}
	return bot.spreadSum.Div(decimal.NewFromInt(bot.spreadN))
}

func (bot *MartingaleBot) setLastPrice(p decimal.Decimal) {
	bot.priceMu.Lock()
	bot.lastPrice = p
	bot.priceMu.Unlock()
}

func (bot *MartingaleBot) lastKnownPrice() decimal.Decimal {
	bot.priceMu.Lock()
	defer bot.priceMu.Unlock()
	return bot.lastPrice
}

func (bot *MartingaleBot) keepAlive(ctx context.Context) {
	ka, ok := bot.stream.(keepAliver)
	if !ok {
		return
	}
	if err := ka.KeepAlive(ctx); err != nil {
		logger.Warnf("Stream keep-alive failed: %v", err)
	}
}

// Performance is a point-in-time summary for reporting.
func (bot *MartingaleBot) Performance() models.PerformanceMetrics {
	m := models.PerformanceMetrics{Timestamp: bot.now(), State: bot.State().String()}
	s := bot.Session()
	if s == nil {
		return m
	}
	snap := s.Snapshot()
	pnl := s.PnL(bot.lastKnownPrice())
	m.RealizedProfit = pnl.Realized
	m.UnrealizedProfit = pnl.Unrealized
	m.TotalFees = pnl.Fees
	m.NetProfit = pnl.Net
	m.OpenQuantity = snap.OpenQuantity
	m.AvgEntryPrice = snap.EntryPrice
	m.CurrentLayer = snap.CurrentLayer
	return m
}

func (bot *MartingaleBot) report() {
	s := bot.Session()
	if s == nil {
		return
	}
	snap := s.Snapshot()
	pnl := s.PnL(bot.lastKnownPrice())
	logger.Infof("[%s] %s | layer %d/%d | bought %s sold %s | open %s @ %s | realized %s unrealized %s fees %s net %s | %d trades, %d working orders",
		snap.Symbol, bot.State(), snap.CurrentLayer, bot.cfg.Layers-1, snap.TotalBought, snap.TotalSold,
		snap.OpenQuantity, snap.EntryPrice.StringFixed(bot.limits.QuotePrecision),
		pnl.Realized.StringFixed(4), pnl.Unrealized.StringFixed(4), pnl.Fees.StringFixed(4), pnl.Net.StringFixed(4),
		snap.TradeCount, snap.ActiveOrders)
	bot.observer.SessionUpdated(snap, pnl)
}

// teardown cancels outstanding orders, closes the streams and drains
// persistence. It runs on every exit path of Run.
func (bot *MartingaleBot) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if bot.Session() != nil {
		report := bot.cancelAll(ctx)
		if report.Remaining > 0 {
			logger.Warnf("%d orders still open on %s after shutdown", report.Remaining, bot.limits.Symbol)
		}
	}
	if bot.stream != nil {
		if err := bot.stream.Close(); err != nil {
			logger.Warnf("Failed to close stream: %v", err)
		}
	}
	bot.reconciler.Close()
	if bot.Session() != nil {
		bot.drainInbox()
	}
	if bot.persister != nil {
		bot.persister.Close()
		if n := bot.persister.Failed(); n > 0 {
			logger.Warnf("%d store writes failed during the session on %s", n, bot.cfg.Symbol)
		}
	}
	if bot.store != nil {
		if err := bot.store.Close(); err != nil {
			logger.Warnf("Failed to close store: %v", err)
		}
	}
	bot.report()
	logger.Infof("Session on %s ended in state %s", bot.cfg.Symbol, bot.State())
}

func (bot *MartingaleBot) today() string {
	return bot.now().UTC().Format(dateLayout)
}

// orderResult labels a placement outcome for the observer.
func orderResult(err error) string {
	if err == nil {
		return "accepted"
	}
	if rejected, ok := models.AsOrderRejected(err); ok {
		if rejected.WouldCross() {
			return "would_cross"
		}
		return "rejected"
	}
	if models.IsTransient(err) {
		return "transient"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func describeLayers(layers []decimal.Decimal) string {
	out := ""
	for i, c := range layers {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("L%d=%s", i, c.StringFixed(2))
	}
	return out
}
