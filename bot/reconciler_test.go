package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"martingale_bot/ledger"
	"martingale_bot/models"
)

func pushFill(orderID, tradeID int64) models.Fill {
	return models.Fill{
		OrderID:   orderID,
		TradeID:   tradeID,
		Symbol:    "SOLUSDT",
		Side:      models.SideBuy,
		Price:     d("99"),
		Quantity:  d("1"),
		Fee:       d("0.099"),
		FeeAsset:  "USDT",
		Timestamp: time.Unix(1700000000, 0),
	}
}

func TestReconcilerDeduplicates(t *testing.T) {
	r := NewReconciler(8, nil)
	f := pushFill(1, 10)

	r.Submit(f)
	r.Submit(f)
	if _, ok := r.Accept(f); ok {
		t.Error("ack copy of a pushed fill was accepted")
	}
	if got := len(r.Drain()); got != 1 {
		t.Errorf("queued fills = %d, want 1", got)
	}

	r.Submit(pushFill(1, 11))
	if got := len(r.Drain()); got != 1 {
		t.Errorf("second trade of the same order queued %d fills, want 1", got)
	}
}

func TestReconcilerRejectsMalformed(t *testing.T) {
	r := NewReconciler(8, nil)
	bad := pushFill(1, 10)
	bad.Quantity = d("0")

	r.Submit(bad)
	if len(r.Drain()) != 0 {
		t.Error("zero-quantity fill reached the inbox")
	}
	if r.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", r.Dropped())
	}
}

func TestReconcilerAttribution(t *testing.T) {
	tracked := models.Order{OrderID: 7, Tag: models.TagLadder, Layer: 3, ClientOrderID: "mgL03-000000000000"}
	r := NewReconciler(8, func(id int64) (models.Order, bool) {
		if id == tracked.OrderID {
			return tracked, true
		}
		return models.Order{}, false
	})

	byClientID := pushFill(1, 1)
	byClientID.ClientOrderID = models.NewClientOrderID(models.TagRebalance, 0)
	got, ok := r.Accept(byClientID)
	if !ok || got.Tag != models.TagRebalance {
		t.Errorf("client id attribution = %s, want rebalance", got.Tag)
	}

	byRegistry := pushFill(7, 2)
	got, _ = r.Accept(byRegistry)
	if got.Tag != models.TagLadder || got.Layer != 3 || got.ClientOrderID != tracked.ClientOrderID {
		t.Errorf("registry attribution = %s/%d/%q", got.Tag, got.Layer, got.ClientOrderID)
	}

	unknown := pushFill(99, 3)
	got, _ = r.Accept(unknown)
	if got.Tag != models.TagExternal || got.Layer != -1 {
		t.Errorf("unknown order attribution = %s/%d, want external/-1", got.Tag, got.Layer)
	}
}

func TestReconcilerSubmitAfterClose(t *testing.T) {
	r := NewReconciler(1, nil)
	r.Submit(pushFill(1, 1))
	r.Close()

	done := make(chan struct{})
	go func() {
		r.Submit(pushFill(1, 2))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full inbox after Close")
	}
}

func TestDuplicatePushAndPollAppliedOnce(t *testing.T) {
	paper := newPaper(t)
	bot := NewMartingaleBot(testConfig(3), paper, nil, nil)
	startSession(bot)

	f := pushFill(1, 10)
	f.Tag, f.Layer = models.TagLadder, 1
	bot.HandleFill(f)
	bot.drainInbox()
	bot.ingest(f)

	snap := bot.Session().Snapshot()
	if snap.TradeCount != 1 || !snap.TotalBought.Equal(d("1")) {
		t.Errorf("after duplicate delivery: trades %d, bought %s", snap.TradeCount, snap.TotalBought)
	}
}

func TestPersisterKeepsOrder(t *testing.T) {
	store := newMemStore()
	p := NewPersister(store, 4)
	for i := int64(1); i <= 20; i++ {
		p.InsertFill(pushFill(i, i))
	}
	p.Close()
	p.InsertFill(pushFill(99, 99))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.fills) != 20 {
		t.Fatalf("persisted %d fills, want 20", len(store.fills))
	}
	for i, f := range store.fills {
		if f.OrderID != int64(i+1) {
			t.Fatalf("fill %d has order %d, out of order", i, f.OrderID)
		}
	}
	if _, err := store.GetFillHistory(context.Background(), "SOLUSDT"); err != nil {
		t.Fatal(err)
	}
}

// stallingStore holds the first fill write until release is closed, then fails it.
type stallingStore struct {
	*memStore
	started chan struct{}
	release chan struct{}
	calls   int
}

func (s *stallingStore) InsertFill(ctx context.Context, f models.Fill) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.started)
		<-s.release
		return errors.New("disk full")
	}
	return s.memStore.InsertFill(ctx, f)
}

func TestPersisterFullQueueSurvivesFailedWrite(t *testing.T) {
	store := &stallingStore{memStore: newMemStore(), started: make(chan struct{}), release: make(chan struct{})}
	p := NewPersister(store, 1)

	p.InsertFill(pushFill(1, 1))
	<-store.started
	p.InsertFill(pushFill(2, 2))

	enqueued := make(chan struct{})
	go func() {
		p.InsertFill(pushFill(3, 3))
		close(enqueued)
	}()
	time.Sleep(10 * time.Millisecond)
	close(store.release)

	select {
	case <-enqueued:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue on a full queue never returned after a failed write")
	}

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain the queue")
	}

	if p.Failed() != 1 {
		t.Errorf("failed writes = %d, want 1", p.Failed())
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.fills) != 2 || store.fills[0].OrderID != 2 || store.fills[1].OrderID != 3 {
		t.Errorf("persisted %+v, want orders 2 and 3 in order", store.fills)
	}
}

func TestDailyTrackerRollsOver(t *testing.T) {
	tr := newDailyTracker("SOLUSDT")
	tr.seed("2026-10-18", models.DailyStats{TradeCount: 5, RealizedProfit: d("2"), TotalFees: d("0.5")})

	snap := ledger.Snapshot{TradeCount: 2, RealizedProfit: d("1"), Fees: d("0.1"), MakerBuyVolume: d("3")}
	got := tr.stats(snap, d("0.01"), 0.02)
	if got.TradeCount != 7 || !got.RealizedProfit.Equal(d("3")) || !got.NetProfit.Equal(d("2.4")) {
		t.Errorf("same-day stats = %+v", got)
	}

	tr.roll("2026-10-19", snap)
	next := ledger.Snapshot{TradeCount: 3, RealizedProfit: d("1.5"), Fees: d("0.2"), MakerBuyVolume: d("4")}
	got = tr.stats(next, d("0.01"), 0.02)
	if got.Date != "2026-10-19" || got.TradeCount != 1 || !got.RealizedProfit.Equal(d("0.5")) || !got.MakerBuyVolume.Equal(d("1")) {
		t.Errorf("next-day stats = %+v", got)
	}
}
