package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PerformanceMetrics struct {
	Timestamp        time.Time
	State            string
	RealizedProfit   decimal.Decimal
	UnrealizedProfit decimal.Decimal
	TotalFees        decimal.Decimal
	NetProfit        decimal.Decimal
	OpenQuantity     decimal.Decimal
	AvgEntryPrice    decimal.Decimal
	CurrentLayer     int
}
