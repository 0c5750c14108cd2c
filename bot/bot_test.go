package bot

import (
	"context"
	"reflect"
	"testing"

	"martingale_bot/models"
	"martingale_bot/strategies"
)

func TestTakeProfitClosesSession(t *testing.T) {
	paper := newPaper(t)
	store := newMemStore()
	rec := newRecorder()

	bot := NewMartingaleBot(testConfig(3), paper, paper, store)
	bot.SetObserver(rec)
	paper.SetFillHandler(bot.HandleFill)

	errC := runAsync(context.Background(), bot)
	waitFor(t, "monitoring", func() bool { return bot.State() == StateMonitoring })

	ladder := bot.Ladder()
	if len(ladder) != 3 {
		t.Fatalf("ladder has %d layers, want 3", len(ladder))
	}
	// planned from the 100.01 market fill, floored to the tick
	if !ladder[1].TargetPrice.Equal(d("99")) || !ladder[2].TargetPrice.Equal(d("98")) {
		t.Errorf("ladder prices = %s, %s", ladder[1].TargetPrice, ladder[2].TargetPrice)
	}
	open, _ := paper.GetOpenOrders(context.Background(), "SOLUSDT")
	if len(open) != 2 {
		t.Fatalf("working ladder orders = %d, want 2", len(open))
	}

	paper.SetPrice(d("98.99"))
	waitFor(t, "layer 1 fill", func() bool { return bot.Session().CurrentLayer() == 1 })

	paper.SetPrice(d("101"))
	if err := waitRun(t, errC); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if bot.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED", bot.State())
	}
	snap := bot.Session().Snapshot()
	if !snap.OpenQuantity.IsZero() {
		t.Errorf("open quantity after exit = %s", snap.OpenQuantity)
	}
	// (101-100.01)*0.999 + (101-99)*1.010
	if !snap.RealizedProfit.Equal(d("3.00901")) {
		t.Errorf("realized = %s, want 3.00901", snap.RealizedProfit)
	}
	if !snap.TotalBought.Equal(d("2.009")) || !snap.TotalSold.Equal(d("2.009")) {
		t.Errorf("bought/sold = %s/%s", snap.TotalBought, snap.TotalSold)
	}
	if snap.TradeCount != 3 {
		t.Errorf("trade count = %d, want 3", snap.TradeCount)
	}

	open, _ = paper.GetOpenOrders(context.Background(), "SOLUSDT")
	if len(open) != 0 {
		t.Errorf("%d orders left open after exit", len(open))
	}

	want := []string{"AWAITING_ENTRY", "LADDER_PLACED", "MONITORING", "EXIT_TRIGGERED", "CLOSED"}
	if got := rec.stateLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.fills) != 3 {
		t.Errorf("persisted fills = %d, want 3", len(store.fills))
	}
	day := store.daily[bot.today()]
	if day.TradeCount != 3 || !day.RealizedProfit.Equal(d("3.00901")) {
		t.Errorf("daily stats = %+v", day)
	}
	if !store.closed {
		t.Error("store not closed on teardown")
	}
}

func TestStopLossClosesSession(t *testing.T) {
	paper := newPaper(t)
	bot := NewMartingaleBot(testConfig(2), paper, paper, nil)
	paper.SetFillHandler(bot.HandleFill)

	errC := runAsync(context.Background(), bot)
	waitFor(t, "monitoring", func() bool { return bot.State() == StateMonitoring })

	paper.SetPrice(d("94"))
	if err := waitRun(t, errC); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bot.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED", bot.State())
	}
	snap := bot.Session().Snapshot()
	if !snap.OpenQuantity.IsZero() || !snap.RealizedProfit.IsNegative() {
		t.Errorf("after stop loss: open %s, realized %s", snap.OpenQuantity, snap.RealizedProfit)
	}
}

func TestPollingPicksUpFillsWithoutStream(t *testing.T) {
	paper := newPaper(t)
	bot := NewMartingaleBot(testConfig(3), paper, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errC := runAsync(ctx, bot)
	waitFor(t, "monitoring", func() bool { return bot.State() == StateMonitoring })

	paper.SetPrice(d("98.5"))
	waitFor(t, "polled layer 1 fill", func() bool { return bot.Session().CurrentLayer() == 1 })

	cancel()
	if err := waitRun(t, errC); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bot.State() != StateMonitoring {
		t.Errorf("state after cancel = %s, want MONITORING", bot.State())
	}
	open, _ := paper.GetOpenOrders(context.Background(), "SOLUSDT")
	if len(open) != 0 {
		t.Errorf("teardown left %d orders open", len(open))
	}
}

func TestEntryFallsBackToMarket(t *testing.T) {
	paper := newPaper(t)
	flaky := &flakyEntry{PaperExchange: paper}
	cfg := testConfig(2)
	cfg.EntryMode = strategies.EntryOffset

	bot := NewMartingaleBot(cfg, flaky, paper, nil)
	paper.SetFillHandler(bot.HandleFill)

	ctx, cancel := context.WithCancel(context.Background())
	errC := runAsync(ctx, bot)
	waitFor(t, "monitoring", func() bool { return bot.State() == StateMonitoring })

	if got := flaky.attempts(); got != 3 {
		t.Errorf("limit entry attempts = %d, want 3", got)
	}
	if bot.Session().OpenQuantity().IsZero() {
		t.Error("market fallback did not fill")
	}
	cancel()
	if err := waitRun(t, errC); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestEntryFailureFailsSession(t *testing.T) {
	paper := newPaper(t)
	flaky := &flakyEntry{PaperExchange: paper, failMarket: true}

	bot := NewMartingaleBot(testConfig(2), flaky, paper, nil)
	err := bot.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded with every entry failing")
	}
	if bot.State() != StateFailed {
		t.Errorf("state = %s, want FAILED", bot.State())
	}
}

func TestStartupConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no layers", func(c *Config) { c.Layers = 0 }},
		{"multiplier below one", func(c *Config) { c.Multiplier = d("0.9") }},
		{"no capital", func(c *Config) { c.Capital = d("0") }},
		{"ladder reaches zero", func(c *Config) { c.StepDown = d("0.5") }},
		{"manual without price", func(c *Config) { c.EntryMode = strategies.EntryManual }},
		{"positive stop loss", func(c *Config) { c.StopLossPct = d("0.05") }},
		{"unknown symbol", func(c *Config) { c.Symbol = "DOGEUSDT" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paper := newPaper(t)
			cfg := testConfig(3)
			tt.mutate(&cfg)

			bot := NewMartingaleBot(cfg, paper, paper, nil)
			err := bot.Run(context.Background())
			if !models.IsConfigurationError(err) {
				t.Fatalf("err = %v, want ConfigurationError", err)
			}
			if bot.State() != StateFailed {
				t.Errorf("state = %s, want FAILED", bot.State())
			}
			open, _ := paper.GetOpenOrders(context.Background(), "SOLUSDT")
			if len(open) != 0 {
				t.Errorf("orders placed despite configuration error")
			}
		})
	}
}

func TestCancelAllAccountingWhenBulkFails(t *testing.T) {
	paper := newPaper(t)
	ctx := context.Background()

	var ids []int64
	for _, price := range []string{"99", "98", "97"} {
		ack, err := paper.PlaceOrder(ctx, models.OrderSpec{
			Symbol: "SOLUSDT", Side: models.SideBuy, Type: models.OrderTypeLimit,
			Price: d(price), Quantity: d("0.1"), PostOnly: true, Tag: models.TagLadder, Layer: len(ids) + 1,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, ack.OrderID)
	}

	broken := &brokenCancel{PaperExchange: paper, failOrder: ids[1]}
	bot := NewMartingaleBot(testConfig(3), broken, nil, nil)
	startSession(bot)

	report := bot.cancelAll(ctx)
	want := CancelReport{Requested: 3, Cancelled: 2, Failed: 1, Remaining: 1}
	if report != want {
		t.Errorf("report = %+v, want %+v", report, want)
	}
	active := bot.Session().ActiveOrders()
	if len(active) != 1 || active[0].OrderID != ids[1] {
		t.Errorf("tracked after cancel = %+v, want only order %d", active, ids[1])
	}
}

func TestLadderSkipsRejectedLayer(t *testing.T) {
	paper := newPaper(t)
	exchange := &rejectLayer{PaperExchange: paper, layer: 1}
	rec := newRecorder()

	bot := NewMartingaleBot(testConfig(4), exchange, paper, nil)
	bot.SetObserver(rec)
	paper.SetFillHandler(bot.HandleFill)

	ctx, cancel := context.WithCancel(context.Background())
	errC := runAsync(ctx, bot)
	waitFor(t, "monitoring", func() bool { return bot.State() == StateMonitoring })

	want := []string{"rejected", "accepted", "accepted"}
	if got := rec.resultsFor(models.TagLadder); !reflect.DeepEqual(got, want) {
		t.Errorf("ladder results = %v, want %v", got, want)
	}

	ladder := bot.Ladder()
	if len(ladder) != 4 {
		t.Fatalf("ladder has %d layers, want 4", len(ladder))
	}
	open, _ := paper.GetOpenOrders(context.Background(), "SOLUSDT")
	if len(open) != 2 {
		t.Fatalf("working ladder orders = %d, want 2", len(open))
	}
	for _, o := range open {
		if o.Price.Equal(ladder[1].TargetPrice) {
			t.Errorf("rejected layer 1 is working at %s", o.Price)
		}
	}

	var layers []int
	for _, o := range bot.Session().ActiveOrders() {
		if o.Tag == models.TagLadder {
			layers = append(layers, o.Layer)
		}
	}
	if !reflect.DeepEqual(layers, []int{2, 3}) {
		t.Errorf("tracked ladder layers = %v, want [2 3]", layers)
	}

	cancel()
	if err := waitRun(t, errC); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bot.State() != StateMonitoring {
		t.Errorf("state after cancel = %s, want MONITORING", bot.State())
	}
}

func TestRebalanceRetriesAsTaker(t *testing.T) {
	paper := newPaper(t)
	ctx := context.Background()
	store := newMemStore()
	rec := newRecorder()

	cfg := testConfig(3)
	cfg.Rebalance = RebalanceConfig{Enabled: true, ThresholdPct: d("10")}
	bot := NewMartingaleBot(cfg, paper, nil, store)
	bot.SetObserver(rec)
	startSession(bot)
	bot.persister = NewPersister(store, 16)

	ack, err := paper.PlaceOrder(ctx, models.OrderSpec{
		Symbol: "SOLUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: d("1"), Tag: models.TagEntry,
	})
	if err != nil {
		t.Fatal(err)
	}
	bot.ingestAck(ack)

	bot.rebalance(ctx)
	bot.persister.Close()

	want := []string{"would_cross", "accepted"}
	if got := rec.resultsFor(models.TagRebalance); !reflect.DeepEqual(got, want) {
		t.Errorf("rebalance results = %v, want %v", got, want)
	}
	_, bought, sold := bot.Session().Imbalance()
	if !bought.Equal(sold) {
		t.Errorf("bought %s sold %s after rebalance", bought, sold)
	}
	if bot.Session().CurrentLayer() != 0 {
		t.Errorf("rebalance advanced the layer to %d", bot.Session().CurrentLayer())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.rebalance) != 1 || store.rebalance[0].Tag != models.TagRebalance {
		t.Errorf("recorded rebalance orders = %+v", store.rebalance)
	}
	if len(store.fills) != 2 {
		t.Errorf("persisted fills = %d, want 2", len(store.fills))
	}
}

func TestRebalanceStopsAfterTakerRejection(t *testing.T) {
	paper := newPaper(t)
	exchange := &rejectRebalance{PaperExchange: paper}
	ctx := context.Background()
	store := newMemStore()
	rec := newRecorder()

	cfg := testConfig(3)
	cfg.Rebalance = RebalanceConfig{Enabled: true, ThresholdPct: d("10")}
	bot := NewMartingaleBot(cfg, exchange, nil, store)
	bot.SetObserver(rec)
	startSession(bot)
	bot.persister = NewPersister(store, 16)

	ack, err := paper.PlaceOrder(ctx, models.OrderSpec{
		Symbol: "SOLUSDT", Side: models.SideBuy, Type: models.OrderTypeMarket, Quantity: d("1"), Tag: models.TagEntry,
	})
	if err != nil {
		t.Fatal(err)
	}
	bot.ingestAck(ack)

	bot.rebalance(ctx)
	bot.persister.Close()

	want := []string{"would_cross", "rejected"}
	if got := rec.resultsFor(models.TagRebalance); !reflect.DeepEqual(got, want) {
		t.Errorf("rebalance results = %v, want %v", got, want)
	}
	if n := exchange.placed(); n != 2 {
		t.Errorf("rebalance placements = %d, want 2", n)
	}
	for _, o := range bot.Session().ActiveOrders() {
		if o.Tag == models.TagRebalance {
			t.Errorf("rejected rebalance order %d is tracked", o.OrderID)
		}
	}
	_, bought, sold := bot.Session().Imbalance()
	if bought.Equal(sold) {
		t.Errorf("imbalance cleared by a rejected rebalance: bought %s sold %s", bought, sold)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.rebalance) != 0 {
		t.Errorf("recorded rebalance orders = %+v", store.rebalance)
	}
}

func TestRebalanceBelowThresholdDoesNothing(t *testing.T) {
	paper := newPaper(t)
	rec := newRecorder()
	cfg := testConfig(3)
	cfg.Rebalance = RebalanceConfig{Enabled: true, ThresholdPct: d("10")}
	bot := NewMartingaleBot(cfg, paper, nil, nil)
	bot.SetObserver(rec)
	startSession(bot)

	bot.rebalance(context.Background())
	if got := rec.resultsFor(models.TagRebalance); len(got) != 0 {
		t.Errorf("orders sent with no imbalance: %v", got)
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateAwaitingEntry, true},
		{StateAwaitingEntry, StateLadderPlaced, true},
		{StateLadderPlaced, StateMonitoring, true},
		{StateMonitoring, StateExitTriggered, true},
		{StateExitTriggered, StateClosed, true},
		{StateMonitoring, StateFailed, true},
		{StateIdle, StateFailed, true},
		{StateIdle, StateMonitoring, false},
		{StateMonitoring, StateClosed, false},
		{StateClosed, StateFailed, false},
		{StateFailed, StateIdle, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
