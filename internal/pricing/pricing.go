// Package pricing values option premiums.
//
// The model is the at-the-money Black-Scholes approximation
//
//	premium per unit = spot * sigma * sqrt(T / year) / sqrt(2*pi) * ratio
//
// oriented by moneyness: ratio = spot/strike for calls and strike/spot for
// puts. Everything is evaluated in exact decimal arithmetic with an integer
// square root, and the result is rounded up so the pool is never paid less
// than the model value.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/decimalmath"
	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/oracle"
)

// DefaultVolatilityBps is the implied volatility used when none is
// configured: 6000 bps = 0.6.
const DefaultVolatilityBps uint64 = 6000

// SecondsPerYear is the year length used to annualise time to expiry.
const SecondsPerYear int64 = 365 * 24 * 60 * 60

var (
	ErrInvalidInput = errors.New("pricing: spot, strike, quantity and time to expiry must be positive")
	ErrZeroPremium  = errors.New("pricing: premium rounds to zero")
)

var (
	invSqrt2Pi = decimal.RequireFromString("0.398942280401432678")
	bps        = decimal.NewFromInt(10_000)
)

// intermediate precision for ratios and annualised time
const (
	ratioPlaces = 18
	timeExp     = int32(-12)
	sqrtExp     = int32(-9)
)

// Engine prices premiums at a fixed implied volatility.
type Engine struct {
	VolatilityBps uint64
}

// NewEngine creates an engine; zero volatility falls back to the default.
func NewEngine(volatilityBps uint64) *Engine {
	if volatilityBps == 0 {
		volatilityBps = DefaultVolatilityBps
	}
	return &Engine{VolatilityBps: volatilityBps}
}

// Request describes a proposed position. Spot and Strike are in quote
// units (model.PriceExponent); Quantity is in target token units.
type Request struct {
	Spot             uint64
	Strike           uint64
	Quantity         uint64
	QuantityDecimals uint8
	OptionType       model.OptionType
	Now              int64
	Expiry           int64
}

// Quote is the valuation of a Request.
type Quote struct {
	PerUnit uint64 `json:"per_unit"` // quote units per whole target token
	Value   uint64 `json:"value"`    // quote units for the whole quantity
}

// Value computes the premium of r in quote units, rounded up.
func (e *Engine) Value(r Request) (Quote, error) {
	if r.Spot == 0 || r.Strike == 0 || r.Quantity == 0 || r.Expiry <= r.Now {
		return Quote{}, ErrInvalidInput
	}

	perUnit, err := e.perUnit(r)
	if err != nil {
		return Quote{}, err
	}

	qty := decimalmath.ToDecimal(r.Quantity, -int32(r.QuantityDecimals))
	total := perUnit.Mul(qty)

	q := Quote{}
	if q.PerUnit, err = decimalmath.ScaleDecimalCeil(perUnit, model.PriceExponent); err != nil {
		return Quote{}, fmt.Errorf("pricing: per unit: %w", err)
	}
	if q.Value, err = decimalmath.ScaleDecimalCeil(total, model.PriceExponent); err != nil {
		return Quote{}, fmt.Errorf("pricing: value: %w", err)
	}
	if q.Value == 0 {
		return Quote{}, ErrZeroPremium
	}
	return q, nil
}

func (e *Engine) perUnit(r Request) (decimal.Decimal, error) {
	spot := decimalmath.ToDecimal(r.Spot, model.PriceExponent)
	strike := decimalmath.ToDecimal(r.Strike, model.PriceExponent)

	years, err := decimalmath.CheckedDecimalDiv(uint64(r.Expiry-r.Now), 0, uint64(SecondsPerYear), 0, timeExp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: annualise: %w", err)
	}
	root, err := decimalmath.CheckedSqrt(years, timeExp, sqrtExp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: sqrt: %w", err)
	}
	sqrtT := decimalmath.ToDecimal(root, sqrtExp)
	sigma := decimalmath.ToDecimal(e.VolatilityBps, 0).Div(bps)

	var ratio decimal.Decimal
	switch r.OptionType {
	case model.Call:
		ratio = spot.DivRound(strike, ratioPlaces)
	case model.Put:
		ratio = strike.DivRound(spot, ratioPlaces)
	default:
		return decimal.Zero, fmt.Errorf("pricing: unknown option type %q", r.OptionType)
	}

	return spot.Mul(sigma).Mul(sqrtT).Mul(invSqrt2Pi).Mul(ratio), nil
}

// Convert expresses value (quote units) in tokens of a custody with the
// given decimals priced at p, rounding up.
func Convert(value uint64, p oracle.Price, decimals uint8) (uint64, error) {
	tokens, err := decimalmath.CheckedDecimalCeilDiv(value, model.PriceExponent, p.Price, p.Exponent, -int32(decimals))
	if err != nil {
		return 0, fmt.Errorf("pricing: convert: %w", err)
	}
	return tokens, nil
}
