// Package custody implements the per-asset balance bookkeeping of a pool:
// total versus locked collateral, registration of new custodies, and
// pool-level aggregation.
//
// Every mutation is a pure state transition on a record the caller owns;
// the invariant locked <= total is checked before and after each one.
package custody

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/decimalmath"
	"github.com/atmx/option-pool/internal/model"
)

var (
	// ErrInvalidPoolBalance is returned when free (unlocked) balance is
	// insufficient for a lock or a debit.
	ErrInvalidPoolBalance = errors.New("custody: insufficient pool balance")

	// ErrInvalidLockedBalance is returned when unlocking more than is locked.
	ErrInvalidLockedBalance = errors.New("custody: insufficient locked balance")

	// ErrInvalidCustodyState is returned when locked exceeds total.
	ErrInvalidCustodyState = errors.New("custody: locked balance exceeds total balance")

	// ErrAlreadyRegistered is returned when an asset is registered twice.
	ErrAlreadyRegistered = errors.New("custody: asset already registered in pool")

	// ErrPoolMismatch is returned when the custody being initialised is not
	// the one appended last to its pool.
	ErrPoolMismatch = errors.New("custody: pool custody list does not match")
)

// CheckInvariant verifies 0 <= locked <= total.
func CheckInvariant(c *model.Custody) error {
	if c.LockedBalance > c.TotalBalance {
		return fmt.Errorf("%w: %s locked %d > total %d",
			ErrInvalidCustodyState, c.Key(), c.LockedBalance, c.TotalBalance)
	}
	return nil
}

// Available returns the unlocked balance.
func Available(c *model.Custody) uint64 {
	if c.LockedBalance > c.TotalBalance {
		return 0
	}
	return c.TotalBalance - c.LockedBalance
}

// Lock reserves amount of free balance as collateral.
func Lock(c *model.Custody, amount uint64) error {
	return mutate(c, func() error {
		if Available(c) < amount {
			return fmt.Errorf("%w: %s available %d, lock %d",
				ErrInvalidPoolBalance, c.Key(), Available(c), amount)
		}
		c.LockedBalance += amount
		return nil
	})
}

// Unlock releases amount of locked collateral.
func Unlock(c *model.Custody, amount uint64) error {
	return mutate(c, func() error {
		if amount > c.LockedBalance {
			return fmt.Errorf("%w: %s locked %d, unlock %d",
				ErrInvalidLockedBalance, c.Key(), c.LockedBalance, amount)
		}
		c.LockedBalance -= amount
		return nil
	})
}

// Credit adds inflow (premium, deposit) to the total balance.
func Credit(c *model.Custody, amount uint64) error {
	return mutate(c, func() error {
		total, err := decimalmath.CheckedAdd(c.TotalBalance, amount)
		if err != nil {
			return fmt.Errorf("credit %s: %w", c.Key(), err)
		}
		c.TotalBalance = total
		return nil
	})
}

// Debit removes outflow (payout, withdrawal) from the free balance.
// Locked collateral is never debited.
func Debit(c *model.Custody, amount uint64) error {
	return mutate(c, func() error {
		if Available(c) < amount {
			return fmt.Errorf("%w: %s available %d, debit %d",
				ErrInvalidPoolBalance, c.Key(), Available(c), amount)
		}
		c.TotalBalance -= amount
		return nil
	})
}

// mutate runs fn between two invariant checks. fn must leave c untouched
// when it returns an error.
func mutate(c *model.Custody, fn func() error) error {
	if err := CheckInvariant(c); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return CheckInvariant(c)
}

// Register appends c to pool. The pool's custody list must end with the
// asset being initialised once registration completes.
func Register(pool *model.Pool, c *model.Custody) error {
	if c.Pool != pool.Name {
		return fmt.Errorf("%w: custody pool %s, pool %s", ErrPoolMismatch, c.Pool, pool.Name)
	}
	if pool.HasCustody(c.Asset) {
		return fmt.Errorf("%w: %s in %s", ErrAlreadyRegistered, c.Asset, pool.Name)
	}

	pool.Custodies = append(pool.Custodies, c.Asset)
	if last := pool.Custodies[len(pool.Custodies)-1]; last != c.Asset {
		return fmt.Errorf("%w: last %s, initialising %s", ErrPoolMismatch, last, c.Asset)
	}
	c.TokenAccount = model.TokenAccountFor(pool.Name, c.Asset)
	return CheckInvariant(c)
}

// Balance is the aggregated view of one custody.
type Balance struct {
	Asset       string          `json:"asset"`
	Oracle      string          `json:"oracle"`
	Decimals    uint8           `json:"decimals"`
	Total       uint64          `json:"total"`
	Locked      uint64          `json:"locked"`
	Available   uint64          `json:"available"`
	Utilization decimal.Decimal `json:"utilization"` // locked / total, 0..1
}

// Summary aggregates the custodies of a pool in registration order.
type Summary struct {
	Pool      string    `json:"pool"`
	Custodies []Balance `json:"custodies"`
}

// Summarize builds a pool summary. custodies must belong to pool.
func Summarize(pool *model.Pool, custodies map[string]*model.Custody) Summary {
	s := Summary{Pool: pool.Name, Custodies: make([]Balance, 0, len(pool.Custodies))}
	for _, asset := range pool.Custodies {
		c, ok := custodies[asset]
		if !ok {
			continue
		}
		s.Custodies = append(s.Custodies, Balance{
			Asset:       c.Asset,
			Oracle:      c.Oracle,
			Decimals:    c.Decimals,
			Total:       c.TotalBalance,
			Locked:      c.LockedBalance,
			Available:   Available(c),
			Utilization: Utilization(c),
		})
	}
	return s
}

// Utilization returns locked/total rounded to 8 places, 0 for an empty
// custody.
func Utilization(c *model.Custody) decimal.Decimal {
	if c.TotalBalance == 0 {
		return decimal.Zero
	}
	locked := decimalmath.ToDecimal(c.LockedBalance, 0)
	total := decimalmath.ToDecimal(c.TotalBalance, 0)
	return locked.DivRound(total, 8)
}
