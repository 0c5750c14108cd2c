package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"martingale_bot/models"
	"martingale_bot/strategies"

	"github.com/shopspring/decimal"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestDefaultsMatchBot(t *testing.T) {
	cfg, err := Load("", noEnvFile(t))
	if err != nil {
		t.Fatal(err)
	}
	bc := cfg.BotConfig()
	if bc.Layers != 5 || !bc.Multiplier.Equal(decimal.RequireFromString("1.3")) ||
		!bc.StepDown.Equal(decimal.RequireFromString("0.008")) || bc.EntryMode != strategies.EntryMarket ||
		bc.PollInterval != 60*time.Second {
		t.Errorf("default bot config = %+v", bc)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "bot.yaml", `
exchange: paper
symbol: ethusdt
capital: 250.5
step_down: 0.01
layers: 4
take_profit: 0.015
stop_loss: -0.2
entry_mode: offset
poll_interval: 30s
rebalance:
  enabled: true
  threshold: 12.5
`)
	t.Setenv("MARTINGALE_LAYERS", "6")
	t.Setenv("MARTINGALE_DURATION", "2h")

	cfg, err := Load(path, noEnvFile(t))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Symbol != "ETHUSDT" || cfg.Exchange != ExchangePaper {
		t.Errorf("symbol/exchange = %s/%s", cfg.Symbol, cfg.Exchange)
	}
	if !cfg.Capital.Equal(decimal.RequireFromString("250.5")) || cfg.Layers != 6 {
		t.Errorf("capital %s, layers %d", cfg.Capital, cfg.Layers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bc := cfg.BotConfig()
	if bc.EntryMode != strategies.EntryOffset || bc.PollInterval != 30*time.Second || bc.Duration != 2*time.Hour {
		t.Errorf("bot config = %+v", bc)
	}
	if !bc.Rebalance.Enabled || !bc.Rebalance.ThresholdPct.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("rebalance = %+v", bc.Rebalance)
	}
	if !bc.Multiplier.Equal(decimal.RequireFromString("1.3")) {
		t.Errorf("multiplier not defaulted: %s", bc.Multiplier)
	}
}

func TestEnvFileProvidesCredentials(t *testing.T) {
	env := writeFile(t, "test.env", "BINANCE_API_KEY=key-from-file\nBINANCE_API_SECRET=secret-from-file\n")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	os.Unsetenv("BINANCE_API_KEY")
	os.Unsetenv("BINANCE_API_SECRET")

	cfg, err := Load("", env)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "key-from-file" || cfg.APISecret != "secret-from-file" {
		t.Errorf("credentials = %q/%q", cfg.APIKey, cfg.APISecret)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"binance without keys", func(c *Config) { c.Exchange = ExchangeBinance; c.APIKey = "" }},
		{"unknown exchange", func(c *Config) { c.Exchange = "kraken" }},
		{"unknown entry mode", func(c *Config) { c.EntryMode = "twap" }},
		{"manual without price", func(c *Config) { c.EntryMode = "manual" }},
		{"zero layers", func(c *Config) { c.Layers = 0 }},
		{"positive stop loss", func(c *Config) { c.StopLoss = decimal.RequireFromString("0.1") }},
		{"paper without balance", func(c *Config) { c.PaperBalance = decimal.Zero }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Exchange = ExchangePaper
			tt.mutate(cfg)
			err := cfg.Validate()
			if !models.IsConfigurationError(err) {
				t.Errorf("Validate() = %v, want ConfigurationError", err)
			}
		})
	}
}

func TestBadEnvOverride(t *testing.T) {
	t.Setenv("MARTINGALE_CAPITAL", "lots")
	_, err := Load("", noEnvFile(t))
	if !models.IsConfigurationError(err) {
		t.Errorf("Load() = %v, want ConfigurationError", err)
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFile(t)); err == nil {
		t.Error("missing config file accepted")
	}
}
