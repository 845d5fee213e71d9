package limits

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckOwner_WithinLimits(t *testing.T) {
	limiter := NewPositionLimiter(d(100), 0)

	err := limiter.CheckOwner("SOL", d(10), nil)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckOwner_Exceeded(t *testing.T) {
	limiter := NewPositionLimiter(d(100), 0)

	// Existing open 95 + new 10 = 105 > 100.
	existing := map[string]decimal.Decimal{
		"SOL": d(95),
	}

	err := limiter.CheckOwner("SOL", d(10), existing)
	if err != ErrOwnerLimitExceeded {
		t.Errorf("expected ErrOwnerLimitExceeded, got %v", err)
	}
}

func TestCheckOwner_OtherAssetsIgnored(t *testing.T) {
	limiter := NewPositionLimiter(d(100), 0)

	existing := map[string]decimal.Decimal{
		"SOL": d(10),
		"ETH": d(99),
	}

	err := limiter.CheckOwner("SOL", d(50), existing)
	if err != nil {
		t.Errorf("open quantity on other assets should be ignored, got %v", err)
	}
}

func TestCheckOwner_AtLimit(t *testing.T) {
	limiter := NewPositionLimiter(d(100), 0)

	existing := map[string]decimal.Decimal{"SOL": d(90)}
	if err := limiter.CheckOwner("SOL", d(10), existing); err != nil {
		t.Errorf("reaching the limit exactly should pass, got %v", err)
	}
}

func TestCheckOwner_Disabled(t *testing.T) {
	limiter := NewPositionLimiter(decimal.Zero, 0)

	existing := map[string]decimal.Decimal{"SOL": d(1e9)}
	if err := limiter.CheckOwner("SOL", d(1e9), existing); err != nil {
		t.Errorf("zero limit disables the check, got %v", err)
	}
}

func TestOpenExposure(t *testing.T) {
	positions := []*model.Position{
		{Custody: "SOL", Quantity: 10_000000000, Valid: true},
		{Custody: "SOL", Quantity: 2_500000000, Valid: true},
		{Custody: "SOL", Quantity: 7_000000000, Valid: false, Exercised: 5},
		{Custody: "USDC", Quantity: 3_000000, Valid: true},
	}
	exp := OpenExposure(positions, map[string]uint8{"SOL": 9, "USDC": 6})

	if !exp["SOL"].Equal(d(12.5)) {
		t.Errorf("expected SOL exposure 12.5, got %s", exp["SOL"])
	}
	if !exp["USDC"].Equal(d(3)) {
		t.Errorf("expected USDC exposure 3, got %s", exp["USDC"])
	}
}

func TestCheckUtilization(t *testing.T) {
	limiter := NewPositionLimiter(decimal.Zero, 8000) // 80%

	c := &model.Custody{Pool: "main", Asset: "SOL", TotalBalance: 100, LockedBalance: 50}

	if err := limiter.CheckUtilization(c, 30); err != nil {
		t.Errorf("80%% utilization should pass, got %v", err)
	}
	if err := limiter.CheckUtilization(c, 31); err != ErrUtilizationExceeded {
		t.Errorf("expected ErrUtilizationExceeded, got %v", err)
	}
	if c.LockedBalance != 50 {
		t.Errorf("check must not mutate the custody, locked = %d", c.LockedBalance)
	}

	// Capacity errors are left to the lock itself.
	if err := limiter.CheckUtilization(c, 60); err != nil {
		t.Errorf("over-capacity lock should not be reported as utilization, got %v", err)
	}

	off := NewPositionLimiter(decimal.Zero, 0)
	if err := off.CheckUtilization(c, 50); err != nil {
		t.Errorf("zero cap disables the check, got %v", err)
	}
}
