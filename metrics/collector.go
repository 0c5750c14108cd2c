package metrics

import (
	"martingale_bot/ledger"
	"martingale_bot/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports session state as Prometheus metrics:
//
//	martingale_state{state}                   1 for the current state
//	martingale_realized_profit                FIFO realized profit (quote)
//	martingale_unrealized_profit              open lots marked at last price
//	martingale_fees                           fees paid, in quote
//	martingale_open_quantity                  base held by open lots
//	martingale_avg_entry_price                FIFO average of open lots
//	martingale_current_layer                  deepest filled ladder layer
//	martingale_fills_total{side,liquidity}    applied fills
//	martingale_orders_total{tag,result}       order placements by outcome
//	martingale_ledger_inconsistencies_total   sells beyond held quantity
//	martingale_stream_disconnects_total{channel}
//	martingale_stream_reconnects_total{channel}
type Collector struct {
	state           *prometheus.GaugeVec
	realized        prometheus.Gauge
	unrealized      prometheus.Gauge
	fees            prometheus.Gauge
	openQty         prometheus.Gauge
	avgEntry        prometheus.Gauge
	layer           prometheus.Gauge
	fills           *prometheus.CounterVec
	orders          *prometheus.CounterVec
	inconsistencies prometheus.Counter
	disconnects     *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	c := &Collector{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "martingale_state",
			Help: "Current session state (1 for the active state).",
		}, []string{"state"}),
		realized:   gauge("martingale_realized_profit", "FIFO realized profit in quote asset."),
		unrealized: gauge("martingale_unrealized_profit", "Unrealized profit of open lots at the last price."),
		fees:       gauge("martingale_fees", "Total fees paid, valued in quote asset."),
		openQty:    gauge("martingale_open_quantity", "Base quantity held by open lots."),
		avgEntry:   gauge("martingale_avg_entry_price", "FIFO average entry price of open lots."),
		layer:      gauge("martingale_current_layer", "Deepest filled ladder layer."),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "martingale_fills_total",
			Help: "Fills applied to the ledger.",
		}, []string{"side", "liquidity"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "martingale_orders_total",
			Help: "Order placements by tag and result.",
		}, []string{"tag", "result"}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "martingale_ledger_inconsistencies_total",
			Help: "Sells that exceeded the quantity held by open lots.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "martingale_stream_disconnects_total",
			Help: "Push stream channels dropped unexpectedly.",
		}, []string{"channel"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "martingale_stream_reconnects_total",
			Help: "Push stream channels re-established after a drop.",
		}, []string{"channel"}),
	}
	reg.MustRegister(c.state, c.realized, c.unrealized, c.fees, c.openQty, c.avgEntry, c.layer,
		c.fills, c.orders, c.inconsistencies, c.disconnects, c.reconnects)
	return c
}

func (c *Collector) StateChanged(state string) {
	c.state.Reset()
	c.state.WithLabelValues(state).Set(1)
}

func (c *Collector) FillApplied(f models.Fill) {
	liquidity := "taker"
	if f.IsMaker {
		liquidity = "maker"
	}
	c.fills.WithLabelValues(string(f.Side), liquidity).Inc()
}

func (c *Collector) OrderResult(tag models.OrderTag, result string) {
	c.orders.WithLabelValues(string(tag), result).Inc()
}

func (c *Collector) LedgerInconsistency() { c.inconsistencies.Inc() }

func (c *Collector) SessionUpdated(snap ledger.Snapshot, pnl ledger.PnL) {
	c.realized.Set(pnl.Realized.InexactFloat64())
	c.unrealized.Set(pnl.Unrealized.InexactFloat64())
	c.fees.Set(pnl.Fees.InexactFloat64())
	c.openQty.Set(snap.OpenQuantity.InexactFloat64())
	c.avgEntry.Set(snap.EntryPrice.InexactFloat64())
	c.layer.Set(float64(snap.CurrentLayer))
}

// StreamDisconnected matches client.StreamManager.OnDisconnect.
func (c *Collector) StreamDisconnected(channel string) {
	c.disconnects.WithLabelValues(channel).Inc()
}

// StreamReconnected matches client.StreamManager.OnReconnect.
func (c *Collector) StreamReconnected(channel string) {
	c.reconnects.WithLabelValues(channel).Inc()
}
