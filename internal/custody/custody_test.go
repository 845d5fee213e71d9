package custody

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/model"
)

func sol(total, locked uint64) *model.Custody {
	return &model.Custody{Pool: "main", Asset: "SOL", Decimals: 9, TotalBalance: total, LockedBalance: locked}
}

func TestLockUnlock(t *testing.T) {
	c := sol(100, 0)

	if err := Lock(c, 60); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if c.LockedBalance != 60 || Available(c) != 40 {
		t.Fatalf("unexpected balances %+v", c)
	}

	if err := Lock(c, 41); !errors.Is(err, ErrInvalidPoolBalance) {
		t.Errorf("expected ErrInvalidPoolBalance, got %v", err)
	}
	if c.LockedBalance != 60 {
		t.Errorf("failed lock must not mutate, locked = %d", c.LockedBalance)
	}

	if err := Unlock(c, 61); !errors.Is(err, ErrInvalidLockedBalance) {
		t.Errorf("expected ErrInvalidLockedBalance, got %v", err)
	}
	if err := Unlock(c, 60); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if c.LockedBalance != 0 || c.TotalBalance != 100 {
		t.Errorf("unexpected balances %+v", c)
	}
}

func TestCreditDebit(t *testing.T) {
	c := sol(100, 80)

	if err := Credit(c, 5); err != nil {
		t.Fatal(err)
	}
	if c.TotalBalance != 105 {
		t.Errorf("expected total 105, got %d", c.TotalBalance)
	}

	// Only the 25 unlocked units may leave.
	if err := Debit(c, 26); !errors.Is(err, ErrInvalidPoolBalance) {
		t.Errorf("expected ErrInvalidPoolBalance, got %v", err)
	}
	if err := Debit(c, 25); err != nil {
		t.Fatal(err)
	}
	if c.TotalBalance != 80 || c.LockedBalance != 80 {
		t.Errorf("unexpected balances %+v", c)
	}
}

func TestCredit_Overflow(t *testing.T) {
	c := sol(^uint64(0), 0)
	if err := Credit(c, 1); err == nil {
		t.Fatal("expected overflow error")
	}
	if c.TotalBalance != ^uint64(0) {
		t.Error("failed credit must not mutate")
	}
}

func TestMutation_RejectsCorruptState(t *testing.T) {
	c := sol(10, 20)
	if err := CheckInvariant(c); !errors.Is(err, ErrInvalidCustodyState) {
		t.Fatalf("expected ErrInvalidCustodyState, got %v", err)
	}
	if err := Credit(c, 1); !errors.Is(err, ErrInvalidCustodyState) {
		t.Errorf("credit on corrupt custody: expected ErrInvalidCustodyState, got %v", err)
	}
	if Available(c) != 0 {
		t.Errorf("available of corrupt custody should clamp to 0, got %d", Available(c))
	}
}

func TestRegister(t *testing.T) {
	pool := &model.Pool{Name: "main"}
	c := &model.Custody{Pool: "main", Asset: "SOL", Oracle: "sol-usd", Decimals: 9}

	if err := Register(pool, c); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(pool.Custodies) != 1 || pool.Custodies[0] != "SOL" {
		t.Errorf("unexpected custody list %v", pool.Custodies)
	}
	if c.TokenAccount != "custody:main:SOL" {
		t.Errorf("unexpected token account %s", c.TokenAccount)
	}

	dup := &model.Custody{Pool: "main", Asset: "SOL"}
	if err := Register(pool, dup); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	other := &model.Custody{Pool: "side", Asset: "USDC"}
	if err := Register(pool, other); !errors.Is(err, ErrPoolMismatch) {
		t.Errorf("expected ErrPoolMismatch, got %v", err)
	}
	if len(pool.Custodies) != 1 {
		t.Errorf("rejected registrations must not grow the pool, got %v", pool.Custodies)
	}
}

func TestSummarize(t *testing.T) {
	pool := &model.Pool{Name: "main", Custodies: []string{"SOL", "USDC"}}
	custodies := map[string]*model.Custody{
		"USDC": {Pool: "main", Asset: "USDC", Decimals: 6, TotalBalance: 1000, LockedBalance: 250},
		"SOL":  {Pool: "main", Asset: "SOL", Decimals: 9, TotalBalance: 0},
	}

	s := Summarize(pool, custodies)
	if s.Pool != "main" || len(s.Custodies) != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.Custodies[0].Asset != "SOL" || s.Custodies[1].Asset != "USDC" {
		t.Errorf("summary must follow registration order, got %+v", s.Custodies)
	}
	if !s.Custodies[0].Utilization.IsZero() {
		t.Errorf("empty custody utilization should be 0, got %s", s.Custodies[0].Utilization)
	}
	usdc := s.Custodies[1]
	if usdc.Available != 750 || !usdc.Utilization.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("unexpected USDC balance %+v", usdc)
	}
}
