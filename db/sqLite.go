package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"martingale_bot/logger"
	"martingale_bot/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fill_key TEXT NOT NULL,
		symbol TEXT NOT NULL,
		order_id INTEGER NOT NULL,
		trade_id INTEGER NOT NULL,
		client_order_id TEXT,
		side TEXT NOT NULL,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		fee TEXT NOT NULL,
		fee_asset TEXT,
		is_maker INTEGER NOT NULL,
		layer INTEGER NOT NULL,
		tag TEXT NOT NULL,
		executed_at INTEGER NOT NULL,
		UNIQUE(symbol, fill_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fills_symbol_time ON fills(symbol, executed_at)`,
	`CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT NOT NULL,
		symbol TEXT NOT NULL,
		maker_buy_volume TEXT NOT NULL,
		maker_sell_volume TEXT NOT NULL,
		taker_buy_volume TEXT NOT NULL,
		taker_sell_volume TEXT NOT NULL,
		realized_profit TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		net_profit TEXT NOT NULL,
		avg_spread TEXT NOT NULL,
		trade_count INTEGER NOT NULL,
		volatility TEXT NOT NULL,
		PRIMARY KEY (date, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS rebalance_orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		order_id INTEGER NOT NULL,
		client_order_id TEXT,
		side TEXT NOT NULL,
		price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}

// SQLite is the default fill and statistics store.
type SQLite struct {
	DB *sql.DB
}

// NewSQLite opens (and creates) the database at path in WAL mode.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger.Infof("Initializing database at %s", path)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, query := range sqliteSchema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			db.Close()
			return nil, fmt.Errorf("error creating schema: %w", err)
		}
	}
	logger.Infof("Database initialized successfully.")
	return &SQLite{DB: db}, nil
}

// InsertFill ignores a fill that is already stored.
func (s *SQLite) InsertFill(ctx context.Context, f models.Fill) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills (fill_key, symbol, order_id, trade_id, client_order_id, side, price, quantity,
			fee, fee_asset, is_maker, layer, tag, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Key(), f.Symbol, f.OrderID, f.TradeID, f.ClientOrderID, string(f.Side), f.Price.String(), f.Quantity.String(),
		f.Fee.String(), f.FeeAsset, f.IsMaker, f.Layer, string(f.Tag), f.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("error inserting fill %s: %w", f.Key(), err)
	}
	return nil
}

// GetFillHistory returns every stored fill for symbol in execution order.
func (s *SQLite) GetFillHistory(ctx context.Context, symbol string) ([]models.Fill, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT order_id, trade_id, client_order_id, side, price, quantity, fee, fee_asset, is_maker, layer, tag, executed_at
		FROM fills WHERE symbol = ? ORDER BY executed_at, id`, symbol)
	if err != nil {
		return nil, fmt.Errorf("error querying fills for %s: %w", symbol, err)
	}
	defer rows.Close()

	var fills []models.Fill
	for rows.Next() {
		var (
			f                  models.Fill
			side, tag          string
			clientID, feeAsset sql.NullString
			price, qty, fee    string
			executedAt         int64
		)
		if err := rows.Scan(&f.OrderID, &f.TradeID, &clientID, &side, &price, &qty, &fee, &feeAsset,
			&f.IsMaker, &f.Layer, &tag, &executedAt); err != nil {
			return nil, fmt.Errorf("error scanning fill: %w", err)
		}
		f.Symbol = symbol
		f.ClientOrderID = clientID.String
		f.FeeAsset = feeAsset.String
		f.Side = models.Side(side)
		f.Tag = models.OrderTag(tag)
		f.Timestamp = time.UnixMilli(executedAt)
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("bad price %q: %w", price, err)
		}
		if f.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("bad quantity %q: %w", qty, err)
		}
		if f.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("bad fee %q: %w", fee, err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func (s *SQLite) GetDailyStats(ctx context.Context, symbol string, date time.Time) (models.DailyStats, bool, error) {
	day := date.UTC().Format(dateLayout)
	row := s.DB.QueryRowContext(ctx, `
		SELECT maker_buy_volume, maker_sell_volume, taker_buy_volume, taker_sell_volume, realized_profit,
			total_fees, net_profit, avg_spread, trade_count, volatility
		FROM daily_stats WHERE date = ? AND symbol = ?`, day, symbol)

	stats := models.DailyStats{Date: day, Symbol: symbol}
	var cols [9]string
	err := row.Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6], &cols[7], &stats.TradeCount, &cols[8])
	if errors.Is(err, sql.ErrNoRows) {
		return stats, false, nil
	}
	if err != nil {
		return stats, false, fmt.Errorf("error fetching daily stats for %s on %s: %w", symbol, day, err)
	}
	if err := scanDecimals(cols[:], &stats.MakerBuyVolume, &stats.MakerSellVolume, &stats.TakerBuyVolume,
		&stats.TakerSellVolume, &stats.RealizedProfit, &stats.TotalFees, &stats.NetProfit, &stats.AvgSpread, &stats.Volatility); err != nil {
		return stats, false, err
	}
	return stats, true, nil
}

func (s *SQLite) UpsertDailyStats(ctx context.Context, st models.DailyStats) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO daily_stats (date, symbol, maker_buy_volume, maker_sell_volume, taker_buy_volume, taker_sell_volume,
			realized_profit, total_fees, net_profit, avg_spread, trade_count, volatility)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, symbol) DO UPDATE SET
			maker_buy_volume = excluded.maker_buy_volume,
			maker_sell_volume = excluded.maker_sell_volume,
			taker_buy_volume = excluded.taker_buy_volume,
			taker_sell_volume = excluded.taker_sell_volume,
			realized_profit = excluded.realized_profit,
			total_fees = excluded.total_fees,
			net_profit = excluded.net_profit,
			avg_spread = excluded.avg_spread,
			trade_count = excluded.trade_count,
			volatility = excluded.volatility`,
		st.Date, st.Symbol, st.MakerBuyVolume.String(), st.MakerSellVolume.String(), st.TakerBuyVolume.String(),
		st.TakerSellVolume.String(), st.RealizedProfit.String(), st.TotalFees.String(), st.NetProfit.String(),
		st.AvgSpread.String(), st.TradeCount, st.Volatility.String())
	if err != nil {
		return fmt.Errorf("error upserting daily stats for %s on %s: %w", st.Symbol, st.Date, err)
	}
	return nil
}

func (s *SQLite) RecordRebalanceOrder(ctx context.Context, o models.Order) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rebalance_orders (symbol, order_id, client_order_id, side, price, quantity, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.Symbol, o.OrderID, o.ClientOrderID, string(o.Side), o.Price.String(), o.Quantity.String(), string(o.Status))
	if err != nil {
		return fmt.Errorf("error recording rebalance order %d: %w", o.OrderID, err)
	}
	return nil
}

// RebalanceOrders lists recorded rebalance orders for symbol, oldest first.
func (s *SQLite) RebalanceOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT order_id, client_order_id, side, price, quantity, status
		FROM rebalance_orders WHERE symbol = ? ORDER BY id`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var (
			o            models.Order
			clientID     sql.NullString
			side, status string
			price, qty   string
		)
		if err := rows.Scan(&o.OrderID, &clientID, &side, &price, &qty, &status); err != nil {
			return nil, err
		}
		o.Symbol = symbol
		o.ClientOrderID = clientID.String
		o.Side = models.Side(side)
		o.Status = models.OrderStatus(status)
		o.Tag = models.TagRebalance
		if err := scanDecimals([]string{price, qty}, &o.Price, &o.Quantity); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLite) Close() error {
	if s.DB == nil {
		return nil
	}
	logger.Infof("Database connection closed")
	return s.DB.Close()
}

func scanDecimals(values []string, targets ...*decimal.Decimal) error {
	for i, target := range targets {
		v, err := decimal.NewFromString(values[i])
		if err != nil {
			return fmt.Errorf("bad decimal %q: %w", values[i], err)
		}
		*target = v
	}
	return nil
}
