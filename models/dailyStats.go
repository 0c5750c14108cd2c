package models

import "github.com/shopspring/decimal"

// DailyStats aggregates one symbol's trading for one calendar day (YYYY-MM-DD).
type DailyStats struct {
	Date            string          `json:"date" db:"date"`
	Symbol          string          `json:"symbol" db:"symbol"`
	MakerBuyVolume  decimal.Decimal `json:"maker_buy_volume" db:"maker_buy_volume"`
	MakerSellVolume decimal.Decimal `json:"maker_sell_volume" db:"maker_sell_volume"`
	TakerBuyVolume  decimal.Decimal `json:"taker_buy_volume" db:"taker_buy_volume"`
	TakerSellVolume decimal.Decimal `json:"taker_sell_volume" db:"taker_sell_volume"`
	RealizedProfit  decimal.Decimal `json:"realized_profit" db:"realized_profit"`
	TotalFees       decimal.Decimal `json:"total_fees" db:"total_fees"`
	NetProfit       decimal.Decimal `json:"net_profit" db:"net_profit"`
	AvgSpread       decimal.Decimal `json:"avg_spread" db:"avg_spread"`
	TradeCount      int             `json:"trade_count" db:"trade_count"`
	Volatility      decimal.Decimal `json:"volatility" db:"volatility"`
}
