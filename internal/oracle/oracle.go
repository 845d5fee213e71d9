// Package oracle normalizes raw price quotes into validated prices.
//
// A Feed is the transport collaborator (pushed quotes, Redis relay, ...);
// the Adapter enforces staleness, positivity and confidence on every read.
// Nothing is cached: each settlement re-fetches and re-validates.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/decimalmath"
)

// DefaultMaxAge is the maximum quote age in seconds.
const DefaultMaxAge int64 = 30

var (
	// ErrStalePrice is returned when a quote is older than the max age.
	ErrStalePrice = errors.New("oracle: stale price")

	// ErrInvalidPrice is returned when the quote mantissa is not positive.
	ErrInvalidPrice = errors.New("oracle: invalid price requirement")

	// ErrPriceConfidence is returned when the confidence interval is too
	// wide relative to the price.
	ErrPriceConfidence = errors.New("oracle: confidence interval too wide")

	// ErrUnknownOracle is returned by feeds that have no quote for an id.
	ErrUnknownOracle = errors.New("oracle: unknown oracle account")
)

// Quote is a raw externally supplied price: value = Price * 10^Exponent.
type Quote struct {
	Price       int64  `json:"price"`
	Exponent    int32  `json:"exponent"`
	Confidence  uint64 `json:"confidence"`
	PublishTime int64  `json:"publish_time"`
}

// Price is a validated, positive oracle price.
type Price struct {
	Price       uint64 `json:"price"`
	Exponent    int32  `json:"exponent"`
	Confidence  uint64 `json:"confidence"`
	PublishedAt int64  `json:"published_at"`
}

// Decimal returns the exact price value.
func (p Price) Decimal() decimal.Decimal {
	return decimalmath.ToDecimal(p.Price, p.Exponent)
}

// Scale returns the price as a coefficient at the target exponent.
func (p Price) Scale(target int32) (uint64, error) {
	return decimalmath.ScaleToExponent(p.Price, p.Exponent, target)
}

// Feed yields the latest raw quote for an oracle id.
type Feed interface {
	Quote(ctx context.Context, oracleID string) (Quote, error)
}

// Adapter validates quotes against the caller-supplied current time.
type Adapter struct {
	// MaxAge is the maximum allowed now - PublishTime, in seconds.
	MaxAge int64

	// MaxConfidenceBps rejects quotes whose confidence exceeds this share
	// of the price (basis points). Zero disables the check.
	MaxConfidenceBps uint64
}

// NewAdapter creates an adapter. A non-positive maxAge falls back to
// DefaultMaxAge.
func NewAdapter(maxAge int64, maxConfidenceBps uint64) *Adapter {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Adapter{MaxAge: maxAge, MaxConfidenceBps: maxConfidenceBps}
}

// Normalize validates a raw quote at time now.
func (a *Adapter) Normalize(q Quote, now int64) (Price, error) {
	if q.Price <= 0 {
		return Price{}, fmt.Errorf("%w: mantissa %d", ErrInvalidPrice, q.Price)
	}
	if now-q.PublishTime > a.MaxAge {
		return Price{}, fmt.Errorf("%w: published %d, now %d, max age %d",
			ErrStalePrice, q.PublishTime, now, a.MaxAge)
	}

	p := Price{
		Price:       uint64(q.Price),
		Exponent:    q.Exponent,
		Confidence:  q.Confidence,
		PublishedAt: q.PublishTime,
	}

	if a.MaxConfidenceBps > 0 {
		// confidence * 10000 > price * bps
		lhs, err := decimalmath.CheckedMul(p.Confidence, 10_000)
		if err != nil {
			return Price{}, err
		}
		rhs, err := decimalmath.CheckedMul(p.Price, a.MaxConfidenceBps)
		if err != nil {
			return Price{}, err
		}
		if lhs > rhs {
			return Price{}, fmt.Errorf("%w: confidence %d on price %d", ErrPriceConfidence, p.Confidence, p.Price)
		}
	}
	return p, nil
}

// Fetch reads oracleID from feed and normalizes the quote.
func (a *Adapter) Fetch(ctx context.Context, feed Feed, oracleID string, now int64) (Price, error) {
	q, err := feed.Quote(ctx, oracleID)
	if err != nil {
		return Price{}, fmt.Errorf("fetch %s: %w", oracleID, err)
	}
	p, err := a.Normalize(q, now)
	if err != nil {
		return Price{}, fmt.Errorf("oracle %s: %w", oracleID, err)
	}
	return p, nil
}
