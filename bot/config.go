package bot

import (
	"fmt"
	"time"

	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/shopspring/decimal"
)

type RebalanceConfig struct {
	Enabled      bool
	ThresholdPct decimal.Decimal
}

// Config is everything one martingale session needs. Zero durations and
// sizes are replaced by defaults in withDefaults.
type Config struct {
	Symbol        string
	Capital       decimal.Decimal
	StepDown      decimal.Decimal
	Multiplier    decimal.Decimal
	Layers        int
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal

	EntryMode      strategies.EntryMode
	EntryPrice     decimal.Decimal
	UseMarketOrder bool

	EntryAttempts   int
	EntryRetryDelay time.Duration
	ExitAttempts    int
	ExitRetryDelay  time.Duration

	PollInterval      time.Duration
	Duration          time.Duration // <= 0 runs until cancelled
	ReportInterval    time.Duration
	KeepAliveInterval time.Duration

	CancelSettleDelay time.Duration
	CancelWorkers     int

	VolatilityWindow int
	Rebalance        RebalanceConfig

	InboxSize        int
	PersistQueueSize int
}

func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:            symbol,
		Capital:           decimal.NewFromInt(100),
		StepDown:          decimal.RequireFromString("0.008"),
		Multiplier:        decimal.RequireFromString("1.3"),
		Layers:            5,
		TakeProfitPct:     decimal.RequireFromString("0.012"),
		StopLossPct:       decimal.RequireFromString("-0.33"),
		EntryMode:         strategies.EntryMarket,
		EntryAttempts:     3,
		EntryRetryDelay:   5 * time.Second,
		ExitAttempts:      5,
		ExitRetryDelay:    2 * time.Second,
		PollInterval:      60 * time.Second,
		Duration:          -1,
		ReportInterval:    300 * time.Second,
		KeepAliveInterval: 30 * time.Minute,
		CancelSettleDelay: time.Second,
		CancelWorkers:     5,
		VolatilityWindow:  strategies.DefaultVolatilityWindow,
		Rebalance:         RebalanceConfig{ThresholdPct: decimal.NewFromInt(10)},
		InboxSize:         1024,
		PersistQueueSize:  1024,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Symbol)
	if c.EntryAttempts <= 0 {
		c.EntryAttempts = def.EntryAttempts
	}
	if c.ExitAttempts <= 0 {
		c.ExitAttempts = def.ExitAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = def.ReportInterval
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.CancelWorkers <= 0 {
		c.CancelWorkers = def.CancelWorkers
	}
	if c.VolatilityWindow <= 0 {
		c.VolatilityWindow = def.VolatilityWindow
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.PersistQueueSize <= 0 {
		c.PersistQueueSize = def.PersistQueueSize
	}
	if !c.EntryMode.IsValid() {
		c.EntryMode = def.EntryMode
	}
	return c
}

// Validate runs the startup checks. Every failure is a ConfigurationError.
func (c Config) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case c.Symbol == "":
		return models.NewConfigurationError("symbol is required")
	case c.Layers < 1:
		return models.NewConfigurationError(fmt.Sprintf("layers must be at least 1, got %d", c.Layers))
	case c.Multiplier.LessThan(one):
		return models.NewConfigurationError(fmt.Sprintf("multiplier must be >= 1, got %s", c.Multiplier))
	case !c.Capital.IsPositive():
		return models.NewConfigurationError(fmt.Sprintf("capital must be positive, got %s", c.Capital))
	case !c.StepDown.IsPositive():
		return models.NewConfigurationError(fmt.Sprintf("step down must be positive, got %s", c.StepDown))
	case c.StepDown.Mul(decimal.NewFromInt(int64(c.Layers))).GreaterThanOrEqual(one):
		return models.NewConfigurationError(fmt.Sprintf("step down %s x %d layers reaches zero price", c.StepDown, c.Layers))
	case !c.TakeProfitPct.IsPositive():
		return models.NewConfigurationError(fmt.Sprintf("take profit must be positive, got %s", c.TakeProfitPct))
	case !c.StopLossPct.IsNegative() || c.StopLossPct.LessThanOrEqual(one.Neg()):
		return models.NewConfigurationError(fmt.Sprintf("stop loss must be in (-1, 0), got %s", c.StopLossPct))
	case c.EntryMode == strategies.EntryManual && !c.EntryPrice.IsPositive():
		return models.NewConfigurationError("manual entry mode requires an entry price")
	case c.Rebalance.Enabled && !c.Rebalance.ThresholdPct.IsPositive():
		return models.NewConfigurationError(fmt.Sprintf("rebalance threshold must be positive, got %s", c.Rebalance.ThresholdPct))
	}
	return nil
}

func (c Config) exitParams() strategies.ExitParams {
	return strategies.ExitParams{TakeProfitPct: c.TakeProfitPct, StopLossPct: c.StopLossPct}
}
