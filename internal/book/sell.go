package book

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/option-pool/internal/custody"
	"github.com/atmx/option-pool/internal/decimalmath"
	"github.com/atmx/option-pool/internal/ledger"
	"github.com/atmx/option-pool/internal/limits"
	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/oracle"
	"github.com/atmx/option-pool/internal/pricing"
	"github.com/atmx/option-pool/internal/store"
)

// SellParams describes a position to open.
type SellParams struct {
	Owner      string            `json:"owner"`
	Pool       string            `json:"pool"`
	Asset      string            `json:"asset"`       // target (priced) asset
	QuoteAsset string            `json:"quote_asset"` // cash asset for puts and quote premiums
	Index      uint64            `json:"index"`       // must be the owner's next index
	Quantity   uint64            `json:"quantity"`    // target token units
	Strike     uint64            `json:"strike"`      // quote units
	Expiry     int64             `json:"expiry"`
	OptionType model.OptionType  `json:"option_type"`
	PayIn      model.PremiumUnit `json:"pay_in"`
}

func (p SellParams) validate() error {
	switch {
	case p.Owner == "" || p.Pool == "" || p.Asset == "":
		return fmt.Errorf("%w: owner, pool and asset are required", ErrInvalidParams)
	case p.Quantity == 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidParams)
	case p.Strike == 0:
		return fmt.Errorf("%w: strike must be positive", ErrInvalidParams)
	case p.OptionType != model.Call && p.OptionType != model.Put:
		return fmt.Errorf("%w: option type %q", ErrInvalidParams, p.OptionType)
	case p.PayIn != model.PremiumBase && p.PayIn != model.PremiumQuote:
		return fmt.Errorf("%w: premium unit %q", ErrInvalidParams, p.PayIn)
	case p.QuoteAsset == p.Asset:
		return fmt.Errorf("%w: quote asset must differ from target asset", ErrInvalidParams)
	}
	if p.QuoteAsset == "" && (p.OptionType == model.Put || p.PayIn == model.PremiumQuote) {
		return fmt.Errorf("%w: quote asset is required for puts and quote premiums", ErrInvalidParams)
	}
	return checkAccounts("owner", p.Owner)
}

// Sell opens a position for p.Owner: the premium is charged in the chosen
// asset and credited to the pool, and the notional is locked. A call locks
// Quantity of the target custody (covered); a put locks Strike*Quantity
// worth of the quote custody (cash-secured).
func (e *Engine) Sell(ctx context.Context, p SellParams, now int64) (*model.Position, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	user, err := store.GetUser(ctx, e.store, p.Owner)
	if errors.Is(err, store.ErrNotFound) {
		user = &model.User{Owner: p.Owner}
	} else if err != nil {
		return nil, err
	}
	if p.Index != user.OptionIndex+1 {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrInvalidOptionIndex, p.Index, user.OptionIndex+1)
	}
	if p.Expiry <= now {
		return nil, fmt.Errorf("%w: expiry %d is not after %d", ErrInvalidTime, p.Expiry, now)
	}

	if _, err := store.GetPool(ctx, e.store, p.Pool); err != nil {
		return nil, err
	}
	target, err := store.GetCustody(ctx, e.store, p.Pool, p.Asset)
	if err != nil {
		return nil, err
	}
	var quote *model.Custody
	if p.QuoteAsset != "" {
		if quote, err = store.GetCustody(ctx, e.store, p.Pool, p.QuoteAsset); err != nil {
			return nil, err
		}
	}

	spot, err := e.fetchPrice(ctx, target, now)
	if err != nil {
		return nil, err
	}
	spotUnits, err := spot.Scale(model.PriceExponent)
	if err != nil {
		return nil, err
	}
	if spotUnits == 0 {
		return nil, fmt.Errorf("%w: spot below price precision", ErrInvalidPriceRequirement)
	}
	var quotePrice oracle.Price
	if quote != nil && (p.OptionType == model.Put || p.PayIn == model.PremiumQuote) {
		if quotePrice, err = e.fetchPrice(ctx, quote, now); err != nil {
			return nil, err
		}
	}

	// Collateral.
	locked, amount := target, p.Quantity
	if p.OptionType == model.Put {
		notional, err := decimalmath.CheckedDecimalMul(p.Strike, model.PriceExponent, p.Quantity, target.Exponent(), model.PriceExponent)
		if err != nil {
			return nil, err
		}
		if amount, err = pricing.Convert(notional, quotePrice, quote.Decimals); err != nil {
			return nil, err
		}
		locked = quote
	}

	if err := e.checkLimits(ctx, p, target, locked, amount); err != nil {
		return nil, err
	}

	// Premium.
	q, err := e.pricer.Value(pricing.Request{
		Spot:             spotUnits,
		Strike:           p.Strike,
		Quantity:         p.Quantity,
		QuantityDecimals: target.Decimals,
		OptionType:       p.OptionType,
		Now:              now,
		Expiry:           p.Expiry,
	})
	if err != nil {
		return nil, err
	}
	payCustody, payPrice := target, spot
	if p.PayIn == model.PremiumQuote {
		payCustody, payPrice = quote, quotePrice
	}
	premium, err := pricing.Convert(q.Value, payPrice, payCustody.Decimals)
	if err != nil {
		return nil, err
	}

	bal, err := e.tokens.Balance(ctx, p.Owner, payCustody.Asset)
	if err != nil {
		return nil, err
	}
	if bal < premium {
		return nil, fmt.Errorf("%w: %s has %d %s, premium %d",
			ErrInvalidSignerBalance, p.Owner, bal, payCustody.Asset, premium)
	}

	// Mutate private copies; payCustody and locked may be the same record.
	if err := custody.Credit(payCustody, premium); err != nil {
		return nil, err
	}
	if err := custody.Lock(locked, amount); err != nil {
		return nil, err
	}

	pos := &model.Position{
		Owner:         p.Owner,
		Index:         p.Index,
		Pool:          p.Pool,
		Custody:       target.Asset,
		LockedCustody: locked.Asset,
		Quantity:      p.Quantity,
		Amount:        amount,
		StrikePrice:   p.Strike,
		Expiry:        p.Expiry,
		OptionType:    p.OptionType,
		Premium:       premium,
		PremiumUnit:   p.PayIn,
		Valid:         true,
		CreatedAt:     now,
	}
	user.OptionIndex = p.Index

	records := []model.Record{target, user, pos}
	if quote != nil {
		records = append(records, quote)
	}
	err = e.commit(ctx,
		[]ledger.Transfer{{From: p.Owner, To: payCustody.TokenAccount, Asset: payCustody.Asset, Amount: premium}},
		store.Batch{
			Records: records,
			Entries: []model.LedgerEntry{newEntry("sell", p.Owner, p.Pool, payCustody.Asset, p.Index, premium, spotUnits, now)},
		})
	if err != nil {
		return nil, err
	}

	e.log.Info("position sold",
		"owner", p.Owner,
		"index", p.Index,
		"asset", target.Asset,
		"type", p.OptionType,
		"quantity", p.Quantity,
		"strike", p.Strike,
		"spot", spotUnits,
		"premium", premium,
		"premium_asset", payCustody.Asset,
		"locked", amount,
		"locked_asset", locked.Asset,
	)
	return pos, nil
}

func (e *Engine) checkLimits(ctx context.Context, p SellParams, target, locked *model.Custody, amount uint64) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.CheckUtilization(locked, amount); err != nil {
		return err
	}

	positions, err := store.ListPositions(ctx, e.store, p.Owner)
	if err != nil {
		return err
	}
	same := positions[:0]
	for _, pos := range positions {
		if pos.Pool == p.Pool && pos.Custody == target.Asset {
			same = append(same, pos)
		}
	}
	open := limits.OpenExposure(same, map[string]uint8{target.Asset: target.Decimals})
	delta := decimalmath.ToDecimal(p.Quantity, target.Exponent())
	return e.limiter.CheckOwner(target.Asset, delta, open)
}
