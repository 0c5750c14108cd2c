package metrics

import (
	"context"
	"encoding/csv"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"martingale_bot/ledger"
	"martingale_bot/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCollectorTracksSession(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.StateChanged("AWAITING_ENTRY")
	c.StateChanged("MONITORING")
	if got := testutil.ToFloat64(c.state.WithLabelValues("MONITORING")); got != 1 {
		t.Errorf("MONITORING gauge = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.state); n != 1 {
		t.Errorf("state series = %d, want only the current state", n)
	}

	c.FillApplied(models.Fill{Side: models.SideBuy, IsMaker: true})
	c.FillApplied(models.Fill{Side: models.SideBuy, IsMaker: true})
	c.FillApplied(models.Fill{Side: models.SideSell})
	if got := testutil.ToFloat64(c.fills.WithLabelValues("BUY", "maker")); got != 2 {
		t.Errorf("maker buys = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.fills.WithLabelValues("SELL", "taker")); got != 1 {
		t.Errorf("taker sells = %v, want 1", got)
	}

	c.OrderResult(models.TagRebalance, "would_cross")
	c.LedgerInconsistency()
	c.StreamDisconnected("orderUpdate")
	c.StreamReconnected("orderUpdate")
	if got := testutil.ToFloat64(c.disconnects.WithLabelValues("orderUpdate")); got != 1 {
		t.Errorf("disconnects = %v", got)
	}
	if got := testutil.ToFloat64(c.orders.WithLabelValues("rebalance", "would_cross")); got != 1 {
		t.Errorf("rebalance would_cross = %v", got)
	}
	if got := testutil.ToFloat64(c.inconsistencies); got != 1 {
		t.Errorf("inconsistencies = %v", got)
	}

	c.SessionUpdated(ledger.Snapshot{OpenQuantity: d("2.009"), EntryPrice: d("99.5"), CurrentLayer: 1},
		ledger.PnL{Realized: d("3.5"), Unrealized: d("-1.25"), Fees: d("0.5"), Net: d("1.75")})
	if got := testutil.ToFloat64(c.unrealized); got != -1.25 {
		t.Errorf("unrealized = %v", got)
	}
	if got := testutil.ToFloat64(c.layer); got != 1 {
		t.Errorf("layer = %v", got)
	}
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.StateChanged("MONITORING")
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	get := func(path string) string {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Fatalf("%s returned %d", path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}

	if body := get("/healthz"); body != "ok" {
		t.Errorf("/healthz = %q", body)
	}
	if body := get("/metrics"); !strings.Contains(body, `martingale_state{state="MONITORING"} 1`) {
		t.Errorf("/metrics missing state gauge:\n%s", body)
	}
}

func TestMonitorPerformanceWritesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 8)
	source := func() models.PerformanceMetrics {
		calls <- struct{}{}
		return models.PerformanceMetrics{Timestamp: time.Unix(1700000000, 0), State: "MONITORING", RealizedProfit: d("1.5")}
	}

	done := make(chan struct{})
	go func() {
		MonitorPerformance(ctx, source, path, 5*time.Millisecond)
		close(done)
	}()
	<-calls
	<-calls
	cancel()
	<-done

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) < 3 || rows[0][0] != "Timestamp" || rows[1][2] != "1.50000000" {
		t.Errorf("csv rows = %v", rows)
	}
}
