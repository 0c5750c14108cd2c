package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"martingale_bot/client"
	"martingale_bot/ledger"
	"martingale_bot/models"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLimits() models.SymbolConfig {
	return models.SymbolConfig{
		Symbol:         "SOLUSDT",
		BaseAsset:      "SOL",
		QuoteAsset:     "USDT",
		BasePrecision:  3,
		QuotePrecision: 2,
		MinOrderSize:   d("0.001"),
		TickSize:       d("0.01"),
	}
}

// testConfig plans 100 USDT per layer with 1% steps.
func testConfig(layers int) Config {
	cfg := DefaultConfig("SOLUSDT")
	cfg.Capital = decimal.NewFromInt(int64(100 * layers))
	cfg.Layers = layers
	cfg.StepDown = d("0.01")
	cfg.Multiplier = d("1")
	cfg.TakeProfitPct = d("0.01")
	cfg.StopLossPct = d("-0.05")
	cfg.EntryRetryDelay = time.Millisecond
	cfg.ExitRetryDelay = time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ReportInterval = time.Hour
	cfg.KeepAliveInterval = time.Hour
	cfg.CancelSettleDelay = 0
	return cfg
}

func newPaper(t *testing.T) *client.PaperExchange {
	t.Helper()
	p := client.NewPaperExchange(testLimits(), d("1000"), nil)
	p.SetPrice(d("100"))
	t.Cleanup(func() { p.Close() })
	return p
}

// startSession prepares a bot for tests that drive its phases directly.
func startSession(bot *MartingaleBot) {
	bot.limits = testLimits()
	bot.session.Store(ledger.NewSession("SOLUSDT", "SOL", time.Now()))
	bot.daily.seed(bot.today(), models.DailyStats{})
}

func runAsync(ctx context.Context, bot *MartingaleBot) <-chan error {
	errC := make(chan error, 1)
	go func() { errC <- bot.Run(ctx) }()
	return errC
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitRun(t *testing.T, errC <-chan error) error {
	t.Helper()
	select {
	case err := <-errC:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

type recorder struct {
	mu           sync.Mutex
	states       []string
	results      map[string][]string
	inconsistent int
	fills        int
}

func newRecorder() *recorder {
	return &recorder{results: make(map[string][]string)}
}

func (r *recorder) StateChanged(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) FillApplied(models.Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills++
}

func (r *recorder) OrderResult(tag models.OrderTag, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[string(tag)] = append(r.results[string(tag)], result)
}

func (r *recorder) LedgerInconsistency() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inconsistent++
}

func (r *recorder) SessionUpdated(ledger.Snapshot, ledger.PnL) {}

func (r *recorder) resultsFor(tag models.OrderTag) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.results[string(tag)]...)
}

func (r *recorder) stateLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

type memStore struct {
	mu        sync.Mutex
	fills     []models.Fill
	daily     map[string]models.DailyStats
	rebalance []models.Order
	history   []models.Fill
	closed    bool
}

func newMemStore() *memStore {
	return &memStore{daily: make(map[string]models.DailyStats)}
}

func (m *memStore) InsertFill(ctx context.Context, f models.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, f)
	return nil
}

func (m *memStore) GetFillHistory(ctx context.Context, symbol string) ([]models.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Fill(nil), m.history...), nil
}

func (m *memStore) GetDailyStats(ctx context.Context, symbol string, date time.Time) (models.DailyStats, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.daily[date.UTC().Format(dateLayout)]
	return s, ok, nil
}

func (m *memStore) UpsertDailyStats(ctx context.Context, stats models.DailyStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[stats.Date] = stats
	return nil
}

func (m *memStore) RecordRebalanceOrder(ctx context.Context, o models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebalance = append(m.rebalance, o)
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// flakyEntry fails entry placements: limit ones always, market ones too when failMarket is set.
type flakyEntry struct {
	*client.PaperExchange
	failMarket bool

	mu            sync.Mutex
	limitAttempts int
}

func (f *flakyEntry) PlaceOrder(ctx context.Context, spec models.OrderSpec) (models.OrderAck, error) {
	if spec.Tag == models.TagEntry && (spec.Type == models.OrderTypeLimit || f.failMarket) {
		f.mu.Lock()
		if spec.Type == models.OrderTypeLimit {
			f.limitAttempts++
		}
		f.mu.Unlock()
		return models.OrderAck{}, &models.TransientAPIError{Op: "place order", Err: errors.New("i/o timeout")}
	}
	return f.PaperExchange.PlaceOrder(ctx, spec)
}

func (f *flakyEntry) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limitAttempts
}

// brokenCancel rejects the bulk cancel and one specific order cancel.
type brokenCancel struct {
	*client.PaperExchange
	failOrder int64
}

func (b *brokenCancel) CancelAllOrders(ctx context.Context, symbol string) error {
	return &models.TransientAPIError{Op: "cancel all", Err: errors.New("503 service unavailable")}
}

func (b *brokenCancel) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if orderID == b.failOrder {
		return &models.TransientAPIError{Op: "cancel", Err: errors.New("i/o timeout")}
	}
	return b.PaperExchange.CancelOrder(ctx, symbol, orderID)
}

// rejectLayer rejects ladder placements for one layer index.
type rejectLayer struct {
	*client.PaperExchange
	layer int
}

func (r *rejectLayer) PlaceOrder(ctx context.Context, spec models.OrderSpec) (models.OrderAck, error) {
	if spec.Tag == models.TagLadder && spec.Layer == r.layer {
		return models.OrderAck{}, &models.OrderRejected{Code: -2010, Reason: "Account has insufficient balance for requested action."}
	}
	return r.PaperExchange.PlaceOrder(ctx, spec)
}

// rejectRebalance turns the post-only rebalance away as crossing and the
// taker retry as a plain rejection, counting both.
type rejectRebalance struct {
	*client.PaperExchange

	mu       sync.Mutex
	attempts int
}

func (r *rejectRebalance) PlaceOrder(ctx context.Context, spec models.OrderSpec) (models.OrderAck, error) {
	if spec.Tag != models.TagRebalance {
		return r.PaperExchange.PlaceOrder(ctx, spec)
	}
	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()
	if spec.PostOnly {
		return models.OrderAck{}, &models.OrderRejected{Code: -2010, Reason: "Order would immediately match and take.", PostOnly: true}
	}
	return models.OrderAck{}, &models.OrderRejected{Code: -2010, Reason: "Account has insufficient balance for requested action."}
}

func (r *rejectRebalance) placed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
