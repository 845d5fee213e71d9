// Package limits implements the risk limits applied before a position is
// sold: a per-owner cap on open quantity per asset and a per-custody cap on
// utilization (locked / total).
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/custody"
	"github.com/atmx/option-pool/internal/decimalmath"
	"github.com/atmx/option-pool/internal/model"
)

var (
	// ErrOwnerLimitExceeded is returned when a sale would push an owner's
	// open quantity on one asset beyond the per-owner maximum.
	ErrOwnerLimitExceeded = errors.New("limits: per-owner open quantity limit exceeded")

	// ErrUtilizationExceeded is returned when locking the notional would
	// push the custody's utilization beyond the maximum.
	ErrUtilizationExceeded = errors.New("limits: custody utilization limit exceeded")
)

var bps = decimal.NewFromInt(10_000)

// PositionLimiter enforces sale limits. A zero limit disables its check.
type PositionLimiter struct {
	// MaxOpenPerOwner is the maximum open quantity, in whole tokens, one
	// owner may hold on any single target asset.
	MaxOpenPerOwner decimal.Decimal

	// MaxUtilizationBps caps locked/total of the locked custody after the
	// sale, in basis points.
	MaxUtilizationBps uint64
}

// NewPositionLimiter creates a limiter with the given caps.
func NewPositionLimiter(maxOpenPerOwner decimal.Decimal, maxUtilizationBps uint64) *PositionLimiter {
	if maxOpenPerOwner.IsNegative() {
		maxOpenPerOwner = decimal.Zero
	}
	return &PositionLimiter{
		MaxOpenPerOwner:   maxOpenPerOwner,
		MaxUtilizationBps: maxUtilizationBps,
	}
}

// OpenExposure sums the quantity of an owner's still-valid positions per
// target asset, in whole tokens. decimals maps asset to token decimals.
func OpenExposure(positions []*model.Position, decimals map[string]uint8) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range positions {
		if !p.Valid {
			continue
		}
		qty := decimalmath.ToDecimal(p.Quantity, -int32(decimals[p.Custody]))
		out[p.Custody] = out[p.Custody].Add(qty)
	}
	return out
}

// CheckOwner validates whether adding delta whole tokens of asset keeps the
// owner within limits.
//
// existing maps target asset to the owner's current open quantity.
func (l *PositionLimiter) CheckOwner(asset string, delta decimal.Decimal, existing map[string]decimal.Decimal) error {
	if l.MaxOpenPerOwner.IsZero() {
		return nil
	}
	if existing[asset].Add(delta).GreaterThan(l.MaxOpenPerOwner) {
		return ErrOwnerLimitExceeded
	}
	return nil
}

// CheckUtilization validates whether locking amount more on c keeps the
// custody within the utilization cap.
func (l *PositionLimiter) CheckUtilization(c *model.Custody, amount uint64) error {
	if l.MaxUtilizationBps == 0 {
		return nil
	}
	after := *c
	if err := custody.Lock(&after, amount); err != nil {
		// Insufficient balance is reported by the lock itself.
		return nil
	}
	limit := decimalmath.ToDecimal(l.MaxUtilizationBps, 0).Div(bps)
	if custody.Utilization(&after).GreaterThan(limit) {
		return ErrUtilizationExceeded
	}
	return nil
}
