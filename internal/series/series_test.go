package series

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestParseTicker_Valid(t *testing.T) {
	s, err := ParseTicker("SOL-20250815-150-C")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Asset != "SOL" {
		t.Errorf("expected asset=SOL, got %s", s.Asset)
	}
	if s.OptionType != model.Call {
		t.Errorf("expected call, got %s", s.OptionType)
	}
	if !s.Strike.Equal(d(150)) {
		t.Errorf("expected strike=150, got %s", s.Strike)
	}
	expected := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	if !s.Expiry.Equal(expected) {
		t.Errorf("expected expiry=%v, got %v", expected, s.Expiry)
	}
	units, err := s.StrikeUnits()
	if err != nil || units != 150_000000 {
		t.Errorf("StrikeUnits = %d, %v", units, err)
	}
	if s.ExpiryUnix() != expected.Unix() {
		t.Errorf("ExpiryUnix = %d", s.ExpiryUnix())
	}
}

func TestParseTicker_FractionalPut(t *testing.T) {
	s, err := ParseTicker("SOL-20250815-142.5-P")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.OptionType != model.Put || !s.Strike.Equal(d(142.5)) {
		t.Errorf("unexpected series %+v", s)
	}
	units, _ := s.StrikeUnits()
	if units != 142_500000 {
		t.Errorf("expected 142_500000, got %d", units)
	}
}

func TestParseTicker_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"INVALID",
		"SOL-20250815",
		"SOL-20250815-150",
		"SOL-20250815-150-X",
		"SOL-2025081-150-C",
		"SOL-20251345-150-C",       // not a date
		"sol-20250815-150-C",       // lower-case asset
		"SOL-20250815-1.0000001-C", // beyond price precision
	}
	for _, ticker := range tests {
		if _, err := ParseTicker(ticker); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", ticker, err)
		}
	}
}

func TestParseTicker_ZeroStrike(t *testing.T) {
	if _, err := ParseTicker("SOL-20250815-0-C"); !errors.Is(err, ErrInvalidStrike) {
		t.Errorf("expected ErrInvalidStrike, got %v", err)
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	p := &model.Position{
		Custody:     "SOL",
		StrikePrice: 142_500000,
		Expiry:      time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC).Unix(),
		OptionType:  model.Put,
	}
	ticker := Format(p)
	if ticker != "SOL-20250815-142.5-P" {
		t.Fatalf("unexpected ticker %s", ticker)
	}
	s, err := ParseTicker(ticker)
	if err != nil {
		t.Fatal(err)
	}
	units, _ := s.StrikeUnits()
	if units != p.StrikePrice || s.ExpiryUnix() != p.Expiry || s.OptionType != p.OptionType {
		t.Errorf("round trip mismatch: %+v", s)
	}
}
