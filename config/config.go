package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"martingale_bot/bot"
	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ExchangeBinance = "binance"
	ExchangePaper   = "paper"
)

type RebalanceConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Threshold decimal.Decimal `yaml:"threshold"`
}

// Config is the process configuration: where to trade, where to store, and
// the martingale parameters handed to the bot.
type Config struct {
	Exchange  string `yaml:"exchange"`
	Testnet   bool   `yaml:"testnet"`
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`

	Database        string          `yaml:"database"`
	MetricsAddr     string          `yaml:"metrics_addr"`
	MetricsCSV      string          `yaml:"metrics_csv"`
	MetricsInterval time.Duration   `yaml:"metrics_interval"`
	LogLevel        string          `yaml:"log_level"`
	PaperBalance    decimal.Decimal `yaml:"paper_balance"`

	Symbol         string          `yaml:"symbol"`
	Capital        decimal.Decimal `yaml:"capital"`
	StepDown       decimal.Decimal `yaml:"step_down"`
	Multiplier     decimal.Decimal `yaml:"multiplier"`
	Layers         int             `yaml:"layers"`
	TakeProfit     decimal.Decimal `yaml:"take_profit"`
	StopLoss       decimal.Decimal `yaml:"stop_loss"`
	EntryMode      string          `yaml:"entry_mode"`
	EntryPrice     decimal.Decimal `yaml:"entry_price"`
	UseMarketOrder bool            `yaml:"use_market_order"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	Duration       time.Duration   `yaml:"duration"`
	ReportInterval time.Duration   `yaml:"report_interval"`

	Rebalance RebalanceConfig `yaml:"rebalance"`
}

func Default() *Config {
	def := bot.DefaultConfig("SOLUSDT")
	return &Config{
		Exchange:        ExchangeBinance,
		Database:        "data/martingale.db",
		MetricsInterval: time.Hour,
		LogLevel:        "info",
		PaperBalance:    decimal.NewFromInt(1000),
		Symbol:          def.Symbol,
		Capital:         def.Capital,
		StepDown:        def.StepDown,
		Multiplier:      def.Multiplier,
		Layers:          def.Layers,
		TakeProfit:      def.TakeProfitPct,
		StopLoss:        def.StopLossPct,
		EntryMode:       def.EntryMode.String(),
		PollInterval:    def.PollInterval,
		ReportInterval:  def.ReportInterval,
		Rebalance:       RebalanceConfig{Threshold: def.Rebalance.ThresholdPct},
	}
}

// Load reads the optional YAML file at path, then the .env files (".env" when
// none are given), then environment overrides. Missing .env files are not an
// error; a missing YAML file is.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, models.NewConfigurationError(fmt.Sprintf("failed to parse config file %s: %v", path, err))
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Exchange = strings.ToLower(strings.TrimSpace(c.Exchange))
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	dec := func(key string, dst *decimal.Decimal) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("BINANCE_API_KEY", &c.APIKey)
	str("BINANCE_API_SECRET", &c.APISecret)
	str("MARTINGALE_EXCHANGE", &c.Exchange)
	boolean("MARTINGALE_TESTNET", &c.Testnet)
	str("MARTINGALE_DB", &c.Database)
	str("MARTINGALE_METRICS_ADDR", &c.MetricsAddr)
	str("MARTINGALE_METRICS_CSV", &c.MetricsCSV)
	duration("MARTINGALE_METRICS_INTERVAL", &c.MetricsInterval)
	str("MARTINGALE_LOG_LEVEL", &c.LogLevel)
	dec("MARTINGALE_PAPER_BALANCE", &c.PaperBalance)

	str("MARTINGALE_SYMBOL", &c.Symbol)
	dec("MARTINGALE_CAPITAL", &c.Capital)
	dec("MARTINGALE_STEP_DOWN", &c.StepDown)
	dec("MARTINGALE_MULTIPLIER", &c.Multiplier)
	integer("MARTINGALE_LAYERS", &c.Layers)
	dec("MARTINGALE_TAKE_PROFIT", &c.TakeProfit)
	dec("MARTINGALE_STOP_LOSS", &c.StopLoss)
	str("MARTINGALE_ENTRY_MODE", &c.EntryMode)
	dec("MARTINGALE_ENTRY_PRICE", &c.EntryPrice)
	boolean("MARTINGALE_USE_MARKET_ORDER", &c.UseMarketOrder)
	duration("MARTINGALE_POLL_INTERVAL", &c.PollInterval)
	duration("MARTINGALE_DURATION", &c.Duration)
	duration("MARTINGALE_REPORT_INTERVAL", &c.ReportInterval)
	boolean("MARTINGALE_REBALANCE", &c.Rebalance.Enabled)
	dec("MARTINGALE_REBALANCE_THRESHOLD", &c.Rebalance.Threshold)

	if len(errs) > 0 {
		return models.NewConfigurationError(fmt.Sprintf("invalid environment override: %v", errors.Join(errs...)))
	}
	return nil
}

// Validate checks the process settings and then the bot parameters.
func (c *Config) Validate() error {
	c.normalize()
	switch c.Exchange {
	case ExchangeBinance:
		if c.APIKey == "" || c.APISecret == "" {
			return models.NewConfigurationError("BINANCE_API_KEY or BINANCE_API_SECRET not set")
		}
	case ExchangePaper:
		if !c.PaperBalance.IsPositive() {
			return models.NewConfigurationError(fmt.Sprintf("paper balance must be positive, got %s", c.PaperBalance))
		}
	default:
		return models.NewConfigurationError(fmt.Sprintf("unknown exchange %q (want binance or paper)", c.Exchange))
	}
	if _, err := strategies.ParseEntryMode(c.EntryMode); err != nil {
		return models.NewConfigurationError(err.Error())
	}
	return c.BotConfig().Validate()
}

// BotConfig maps the file and environment settings onto bot.Config. Fields
// not exposed here keep the bot defaults.
func (c *Config) BotConfig() bot.Config {
	cfg := bot.DefaultConfig(c.Symbol)
	cfg.Capital = c.Capital
	cfg.StepDown = c.StepDown
	cfg.Multiplier = c.Multiplier
	cfg.Layers = c.Layers
	cfg.TakeProfitPct = c.TakeProfit
	cfg.StopLossPct = c.StopLoss
	if mode, err := strategies.ParseEntryMode(c.EntryMode); err == nil {
		cfg.EntryMode = mode
	}
	cfg.EntryPrice = c.EntryPrice
	cfg.UseMarketOrder = c.UseMarketOrder
	if c.PollInterval > 0 {
		cfg.PollInterval = c.PollInterval
	}
	cfg.Duration = c.Duration
	if c.ReportInterval > 0 {
		cfg.ReportInterval = c.ReportInterval
	}
	cfg.Rebalance = bot.RebalanceConfig{Enabled: c.Rebalance.Enabled, ThresholdPct: c.Rebalance.Threshold}
	return cfg
}
