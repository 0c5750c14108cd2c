package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClientOrderIDRoundTrip(t *testing.T) {
	tests := []struct {
		tag   OrderTag
		layer int
	}{
		{TagEntry, 0},
		{TagLadder, 3},
		{TagRebalance, 0},
		{TagExit, 0},
		{TagLadder, 42},
	}
	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			id := NewClientOrderID(tt.tag, tt.layer)
			if len(id) > 36 {
				t.Fatalf("client order id %q longer than 36 chars", id)
			}
			tag, layer := ParseClientOrderID(id)
			if tag != tt.tag || layer != tt.layer {
				t.Errorf("ParseClientOrderID(%q) = (%s, %d), want (%s, %d)", id, tag, layer, tt.tag, tt.layer)
			}
		})
	}
}

func TestClientOrderIDUnique(t *testing.T) {
	a := NewClientOrderID(TagLadder, 1)
	b := NewClientOrderID(TagLadder, 1)
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestParseClientOrderIDForeign(t *testing.T) {
	for _, id := range []string{"", "web_abc123", "mgZ01-abc", "mgLxx-123456"} {
		tag, layer := ParseClientOrderID(id)
		if tag != TagExternal || layer != -1 {
			t.Errorf("ParseClientOrderID(%q) = (%s, %d), want external/-1", id, tag, layer)
		}
	}
}

func TestFillValidate(t *testing.T) {
	good := Fill{
		OrderID:  1,
		Side:     SideBuy,
		Price:    decimal.NewFromInt(10),
		Quantity: decimal.NewFromInt(1),
		Fee:      decimal.Zero,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid fill rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(f *Fill)
		want   error
	}{
		{"no order id", func(f *Fill) { f.OrderID = 0 }, ErrMissingOrderID},
		{"bad side", func(f *Fill) { f.Side = "HOLD" }, ErrInvalidSide},
		{"zero price", func(f *Fill) { f.Price = decimal.Zero }, ErrInvalidPrice},
		{"negative qty", func(f *Fill) { f.Quantity = decimal.NewFromInt(-1) }, ErrInvalidQuantity},
		{"negative fee", func(f *Fill) { f.Fee = decimal.NewFromFloat(-0.1) }, ErrNegativeFee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := good
			tt.mutate(&f)
			if err := f.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFeeInQuote(t *testing.T) {
	f := Fill{Price: decimal.NewFromInt(200), Fee: decimal.RequireFromString("0.001"), FeeAsset: "SOL"}
	if got := f.FeeInQuote("SOL"); !got.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("base fee in quote = %s, want 0.2", got)
	}
	f.FeeAsset = "USDT"
	if got := f.FeeInQuote("SOL"); !got.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("quote fee = %s, want 0.001", got)
	}
}

func TestSymbolConfigValidate(t *testing.T) {
	cfg := SymbolConfig{
		Symbol:         "SOLUSDT",
		BaseAsset:      "SOL",
		QuoteAsset:     "USDT",
		BasePrecision:  2,
		QuotePrecision: 2,
		MinOrderSize:   decimal.RequireFromString("0.01"),
		TickSize:       decimal.RequireFromString("0.01"),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	cfg.TickSize = decimal.Zero
	err := cfg.Validate()
	if !IsConfigurationError(err) {
		t.Fatalf("missing tick size: got %v, want ConfigurationError", err)
	}
}
