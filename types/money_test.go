package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"JPY", JPY(100), 100, "jpy", "¥100"},
		{"New", New(2500, "CAD"), 2500, "cad", "C$25.00"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
		{"Zero EUR", Zero("EUR"), 0, "eur", "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Multiply", func() Money { return USD(100).Multiply(3) }, USD(300)},
		{"Negate", func() Money { return USD(100).Negate() }, USD(-100)},
		{"Abs positive", func() Money { return USD(100).Abs() }, USD(100)},
		{"Abs negative", func() Money { return USD(-100).Abs() }, USD(100)},
		{"Complex", func() Money {
			return USD(1000).Add(USD(500)).Multiply(2).Subtract(USD(1000))
		}, USD(2000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestParseMajor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		currency string
		want     int64
		wantErr  bool
	}{
		{"two decimals", "12.34", "usd", 1234, false},
		{"round half up at boundary", "12.345", "usd", 1235, false},
		{"round down below half", "12.344", "usd", 1234, false},
		{"no fraction", "12", "usd", 1200, false},
		{"single decimal", "12.3", "usd", 1230, false},
		{"negative half away from zero", "-12.345", "usd", -1235, false},
		{"leading dot", ".50", "usd", 50, false},
		{"zero", "0", "usd", 0, false},
		{"zero-decimal currency", "100", "jpy", 100, false},
		{"zero-decimal rounding", "100.5", "jpy", 101, false},
		{"long tail rounds once", "1.0049999", "usd", 100, false},
		{"empty", "", "usd", 0, true},
		{"garbage", "12.3a", "usd", 0, true},
		{"double sign", "--1", "usd", 0, true},
		{"bare dot", ".", "usd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMajor(tt.input, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMajor(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMajor(%q) failed: %v", tt.input, err)
			}
			if got.Amount != tt.want {
				t.Errorf("ParseMajor(%q) = %d, want %d", tt.input, got.Amount, tt.want)
			}
		})
	}
}

func TestBasisPoints(t *testing.T) {
	tests := []struct {
		name string
		m    Money
		bps  int64
		want int64
	}{
		{"ten percent", USD(10000), 1000, 1000},
		{"rounds half up", USD(105), 500, 5},     // 5.25 → 5
		{"rounds half away", USD(110), 500, 6},   // 5.5 → 6
		{"negative amount", USD(-110), 500, -6},  // -5.5 → -6
		{"zero bps", USD(10000), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.m.BasisPoints(tt.bps)
			if got.Amount != tt.want {
				t.Errorf("BasisPoints(%d) = %d, want %d", tt.bps, got.Amount, tt.want)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	// This should panic
	_ = USD(100).Add(EUR(100))
}

func TestMoneyComparisons(t *testing.T) {
	if !USD(100).LessThan(USD(200)) {
		t.Error("100 should be less than 200")
	}
	if !USD(200).GreaterThan(USD(100)) {
		t.Error("200 should be greater than 100")
	}
	if !USD(0).IsZero() {
		t.Error("0 should be zero")
	}
	if !USD(1).IsPositive() {
		t.Error("1 should be positive")
	}
	if !USD(-1).IsNegative() {
		t.Error("-1 should be negative")
	}
}

func TestMoneySum(t *testing.T) {
	total := Sum(USD(100), USD(200), USD(-50))
	if !total.Equal(USD(250)) {
		t.Errorf("Sum = %v, want %v", total, USD(250))
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Amount != 4900 || decoded.Currency != "usd" || decoded.Display != "$49.00" {
		t.Errorf("unexpected JSON: %s", data)
	}
}
