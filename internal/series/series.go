// Package series handles option series ticker parsing and rendering.
package series

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/option-pool/internal/decimalmath"
	"github.com/atmx/option-pool/internal/model"
)

// tickerRegex matches: {ASSET}-{YYYYMMDD}-{strike}-{C|P}
// Example: SOL-20250815-150-C, SOL-20250815-142.5-P
var tickerRegex = regexp.MustCompile(
	`^([A-Z][A-Z0-9]*)-(\d{8})-([0-9]+(?:\.[0-9]{1,6})?)-([CP])$`,
)

const dateLayout = "20060102"

var (
	ErrInvalidTicker = errors.New("series: invalid ticker format")
	ErrInvalidStrike = errors.New("series: strike must be positive")
)

// Series is a parsed option series.
type Series struct {
	Ticker     string           `json:"ticker"`
	Asset      string           `json:"asset"`
	Expiry     time.Time        `json:"expiry"` // 00:00 UTC of the ticker date
	Strike     decimal.Decimal  `json:"strike"`
	OptionType model.OptionType `json:"option_type"`
}

// ParseTicker parses and validates a series ticker.
// Format: {ASSET}-{YYYYMMDD}-{strike}-{C|P}
func ParseTicker(ticker string) (*Series, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {ASSET}-{YYYYMMDD}-{strike}-{C|P})",
			ErrInvalidTicker, ticker)
	}

	asset := matches[1]
	dateStr := matches[2]
	strikeStr := matches[3]
	side := matches[4]

	expiry, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, dateStr)
	}

	strike, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid strike %s", ErrInvalidTicker, strikeStr)
	}
	if !strike.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStrike, strikeStr)
	}

	typ := model.Call
	if side == "P" {
		typ = model.Put
	}

	return &Series{
		Ticker:     ticker,
		Asset:      asset,
		Expiry:     expiry,
		Strike:     strike,
		OptionType: typ,
	}, nil
}

// StrikeUnits returns the strike in quote units (model.PriceExponent).
func (s *Series) StrikeUnits() (uint64, error) {
	return decimalmath.ScaleDecimal(s.Strike, model.PriceExponent)
}

// ExpiryUnix returns the expiry as unix seconds.
func (s *Series) ExpiryUnix() int64 { return s.Expiry.Unix() }

// Format renders the ticker of a position. Strikes are printed without
// trailing zeros.
func Format(p *model.Position) string {
	side := "C"
	if p.OptionType == model.Put {
		side = "P"
	}
	strike := decimalmath.ToDecimal(p.StrikePrice, model.PriceExponent)
	date := time.Unix(p.Expiry, 0).UTC().Format(dateLayout)
	return fmt.Sprintf("%s-%s-%s-%s", strings.ToUpper(p.Custody), date, strike.String(), side)
}
