package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"martingale_bot/logger"
	"martingale_bot/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS fills (
		id BIGSERIAL PRIMARY KEY,
		fill_key VARCHAR(96) NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		order_id BIGINT NOT NULL,
		trade_id BIGINT NOT NULL,
		client_order_id VARCHAR(64),
		side VARCHAR(4) NOT NULL,
		price NUMERIC(30, 12) NOT NULL,
		quantity NUMERIC(30, 12) NOT NULL,
		fee NUMERIC(30, 12) NOT NULL,
		fee_asset VARCHAR(16),
		is_maker BOOLEAN NOT NULL,
		layer INTEGER NOT NULL,
		tag VARCHAR(16) NOT NULL,
		executed_at TIMESTAMPTZ NOT NULL,
		UNIQUE (symbol, fill_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fills_symbol_time ON fills(symbol, executed_at)`,
	`CREATE TABLE IF NOT EXISTS daily_stats (
		date DATE NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		maker_buy_volume NUMERIC(30, 12) NOT NULL,
		maker_sell_volume NUMERIC(30, 12) NOT NULL,
		taker_buy_volume NUMERIC(30, 12) NOT NULL,
		taker_sell_volume NUMERIC(30, 12) NOT NULL,
		realized_profit NUMERIC(30, 12) NOT NULL,
		total_fees NUMERIC(30, 12) NOT NULL,
		net_profit NUMERIC(30, 12) NOT NULL,
		avg_spread NUMERIC(30, 12) NOT NULL,
		trade_count INTEGER NOT NULL,
		volatility NUMERIC(30, 12) NOT NULL,
		PRIMARY KEY (date, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS rebalance_orders (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		order_id BIGINT NOT NULL,
		client_order_id VARCHAR(64),
		side VARCHAR(4) NOT NULL,
		price NUMERIC(30, 12) NOT NULL,
		quantity NUMERIC(30, 12) NOT NULL,
		status VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Postgres stores fills and statistics in PostgreSQL. Numeric columns are
// exchanged as text to keep decimal precision.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	for _, query := range postgresSchema {
		if _, err := pool.Exec(ctx, query); err != nil {
			pool.Close()
			return nil, fmt.Errorf("error creating schema: %w", err)
		}
	}
	logger.Infof("Connected to PostgreSQL database %s", poolConfig.ConnConfig.Database)
	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) InsertFill(ctx context.Context, f models.Fill) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO fills (fill_key, symbol, order_id, trade_id, client_order_id, side, price, quantity,
			fee, fee_asset, is_maker, layer, tag, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11, $12, $13, $14)
		ON CONFLICT (symbol, fill_key) DO NOTHING`,
		f.Key(), f.Symbol, f.OrderID, f.TradeID, f.ClientOrderID, string(f.Side), f.Price.String(), f.Quantity.String(),
		f.Fee.String(), f.FeeAsset, f.IsMaker, f.Layer, string(f.Tag), f.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("error inserting fill %s: %w", f.Key(), err)
	}
	return nil
}

func (p *Postgres) GetFillHistory(ctx context.Context, symbol string) ([]models.Fill, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT order_id, trade_id, COALESCE(client_order_id, ''), side, price::text, quantity::text, fee::text,
			COALESCE(fee_asset, ''), is_maker, layer, tag, executed_at
		FROM fills WHERE symbol = $1 ORDER BY executed_at, id`, symbol)
	if err != nil {
		return nil, fmt.Errorf("error querying fills for %s: %w", symbol, err)
	}
	defer rows.Close()

	var fills []models.Fill
	for rows.Next() {
		var (
			f               models.Fill
			side, tag       string
			price, qty, fee string
		)
		if err := rows.Scan(&f.OrderID, &f.TradeID, &f.ClientOrderID, &side, &price, &qty, &fee,
			&f.FeeAsset, &f.IsMaker, &f.Layer, &tag, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("error scanning fill: %w", err)
		}
		f.Symbol = symbol
		f.Side = models.Side(side)
		f.Tag = models.OrderTag(tag)
		if err := scanDecimals([]string{price, qty, fee}, &f.Price, &f.Quantity, &f.Fee); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

func (p *Postgres) GetDailyStats(ctx context.Context, symbol string, date time.Time) (models.DailyStats, bool, error) {
	day := date.UTC().Format(dateLayout)
	stats := models.DailyStats{Date: day, Symbol: symbol}
	var cols [9]string
	err := p.Pool.QueryRow(ctx, `
		SELECT maker_buy_volume::text, maker_sell_volume::text, taker_buy_volume::text, taker_sell_volume::text,
			realized_profit::text, total_fees::text, net_profit::text, avg_spread::text, trade_count, volatility::text
		FROM daily_stats WHERE date = $1::date AND symbol = $2`, day, symbol).
		Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6], &cols[7], &stats.TradeCount, &cols[8])
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) UpsertDailyStats(ctx context.Context, st models.DailyStats) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO daily_stats (date, symbol, maker_buy_volume, maker_sell_volume, taker_buy_volume, taker_sell_volume,
			realized_profit, total_fees, net_profit, avg_spread, trade_count, volatility)
		VALUES ($1::date, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9::numeric, $10::numeric, $11, $12::numeric)
		ON CONFLICT (date, symbol) DO UPDATE SET
			maker_buy_volume = EXCLUDED.maker_buy_volume,
			maker_sell_volume = EXCLUDED.maker_sell_volume,
			taker_buy_volume = EXCLUDED.taker_buy_volume,
			taker_sell_volume = EXCLUDED.taker_sell_volume,
			realized_profit = EXCLUDED.realized_profit,
			total_fees = EXCLUDED.total_fees,
			net_profit = EXCLUDED.net_profit,
			avg_spread = EXCLUDED.avg_spread,
			trade_count = EXCLUDED.trade_count,
			volatility = EXCLUDED.volatility`,
		st.Date, st.Symbol, st.MakerBuyVolume.String(), st.MakerSellVolume.String(), st.TakerBuyVolume.String(),
		st.TakerSellVolume.String(), st.RealizedProfit.String(), st.TotalFees.String(), st.NetProfit.String(),
		st.AvgSpread.String(), st.TradeCount, st.Volatility.String())
	if err != nil {
		return fmt.Errorf("error upserting daily stats for %s on %s: %w", st.Symbol, st.Date, err)
	}
	return nil
}

func (p *Postgres) RecordRebalanceOrder(ctx context.Context, o models.Order) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO rebalance_orders (symbol, order_id, client_order_id, side, price, quantity, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)`,
		o.Symbol, o.OrderID, o.ClientOrderID, string(o.Side), o.Price.String(), o.Quantity.String(), string(o.Status))
	if err != nil {
		return fmt.Errorf("error recording rebalance order %d: %w", o.OrderID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
		logger.Infof("Database connection closed")
	}
	return nil
}
