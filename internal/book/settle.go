package book

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/option-pool/internal/custody"
	"github.com/atmx/option-pool/internal/decimalmath"
	"github.com/atmx/option-pool/internal/ledger"
	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/oracle"
	"github.com/atmx/option-pool/internal/store"
)

type settlement int

const (
	settleExercise settlement = iota
	settleAuto
	settleExpire
)

func (s settlement) action() string {
	switch s {
	case settleAuto:
		return "auto_exercise"
	case settleExpire:
		return "expire"
	}
	return "exercise"
}

// Exercise settles an open, in-the-money position before expiry at the
// owner's request. Out-of-the-money or at-the-money exercise is rejected.
func (e *Engine) Exercise(ctx context.Context, caller, owner string, index uint64, now int64) (*model.Position, error) {
	return e.settle(ctx, settleExercise, caller, owner, index, now, nil)
}

// AutoExercise settles an expired position regardless of moneyness. Only
// keepers may call it; an out-of-the-money position settles to zero and its
// collateral is still released.
func (e *Engine) AutoExercise(ctx context.Context, agent, owner string, index uint64, now int64) (*model.Position, error) {
	return e.settle(ctx, settleAuto, agent, owner, index, now, nil)
}

// ExpireParams carries the administrator's settlement prices, in quote
// units. QuotePrice is only used when collateral is held in the quote
// asset; zero reads it from the oracle.
type ExpireParams struct {
	Owner      string `json:"owner"`
	Index      uint64 `json:"index"`
	Price      uint64 `json:"price"`
	QuotePrice uint64 `json:"quote_price"`
}

// Expire closes an expired position at an administrator-supplied settlement
// price. It is the fallback when the oracle or the keepers are unavailable.
func (e *Engine) Expire(ctx context.Context, caller string, p ExpireParams, now int64) (*model.Position, error) {
	if p.Price == 0 {
		return nil, fmt.Errorf("%w: settlement price must be positive", ErrInvalidPriceRequirement)
	}
	return e.settle(ctx, settleExpire, caller, p.Owner, p.Index, now, &p)
}

func (e *Engine) authorize(ctx context.Context, mode settlement, caller string) error {
	switch mode {
	case settleAuto:
		c, err := e.contract(ctx)
		if err != nil {
			return err
		}
		if caller == "" || !c.IsKeeper(caller) {
			return fmt.Errorf("%w: %s", ErrUnauthorizedAgent, caller)
		}
	case settleExpire:
		if _, err := e.requireAdmin(ctx, caller); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) settle(ctx context.Context, mode settlement, caller, owner string, index uint64, now int64, exp *ExpireParams) (*model.Position, error) {
	if now <= 0 {
		return nil, fmt.Errorf("%w: settlement time must be positive", ErrInvalidTime)
	}
	if err := e.authorize(ctx, mode, caller); err != nil {
		return nil, err
	}

	user, err := store.GetUser(ctx, e.store, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no positions", ErrInvalidOptionIndex, owner)
	} else if err != nil {
		return nil, err
	}
	if index == 0 || index > user.OptionIndex {
		return nil, fmt.Errorf("%w: %d above counter %d", ErrInvalidOptionIndex, index, user.OptionIndex)
	}
	pos, err := store.GetPosition(ctx, e.store, owner, index)
	if err != nil {
		return nil, err
	}

	if pos.Exercised != 0 {
		return nil, fmt.Errorf("%w: %s at %d", ErrOptionAlreadyExercised, pos.Key(), pos.Exercised)
	}
	if !pos.Valid {
		return nil, fmt.Errorf("%w: %s", ErrOptionNotValid, pos.Key())
	}
	if mode == settleExercise && caller != pos.Owner {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOwner, caller)
	}
	switch mode {
	case settleExercise:
		if now >= pos.Expiry {
			return nil, fmt.Errorf("%w: expired at %d, now %d", ErrInvalidTime, pos.Expiry, now)
		}
	default:
		if now < pos.Expiry {
			return nil, fmt.Errorf("%w: expires at %d, now %d", ErrInvalidTime, pos.Expiry, now)
		}
	}

	target, err := store.GetCustody(ctx, e.store, pos.Pool, pos.Custody)
	if err != nil {
		return nil, err
	}
	locked := target
	if !pos.Covered() {
		if locked, err = store.GetCustody(ctx, e.store, pos.Pool, pos.LockedCustody); err != nil {
			return nil, err
		}
	}
	if locked.LockedBalance < pos.Amount {
		return nil, fmt.Errorf("%w: %s locked %d, position %d",
			custody.ErrInvalidLockedBalance, locked.Key(), locked.LockedBalance, pos.Amount)
	}

	spot, lockedPrice, err := e.settlementPrices(ctx, mode, pos, target, locked, now, exp)
	if err != nil {
		return nil, err
	}

	profit, err := payoff(pos, spot, target.Exponent())
	if err != nil {
		return nil, err
	}
	if mode == settleExercise && profit == 0 {
		return nil, fmt.Errorf("%w: spot %d, strike %d", ErrInvalidPriceRequirement, spot, pos.StrikePrice)
	}

	claimed := uint64(0)
	if profit > 0 {
		claimed, err = decimalmath.CheckedDecimalDiv(profit, model.PriceExponent,
			lockedPrice.Price, lockedPrice.Exponent, locked.Exponent())
		if err != nil {
			return nil, err
		}
		// The payout is bounded by the collateral set aside for it.
		if claimed > pos.Amount {
			claimed = pos.Amount
		}
	}

	if claimed > 0 {
		held, err := e.tokens.Balance(ctx, locked.TokenAccount, locked.Asset)
		if err != nil {
			return nil, err
		}
		if held < claimed {
			return nil, fmt.Errorf("%w: token account holds %d, payout %d",
				custody.ErrInvalidPoolBalance, held, claimed)
		}
	}

	if err := custody.Unlock(locked, pos.Amount); err != nil {
		return nil, err
	}
	if err := custody.Debit(locked, claimed); err != nil {
		return nil, err
	}

	pos.Valid = false
	pos.Exercised = now
	pos.Claimed = claimed
	pos.Profit = profit

	var transfers []ledger.Transfer
	if claimed > 0 {
		transfers = append(transfers, ledger.Transfer{
			From:   locked.TokenAccount,
			To:     pos.Owner,
			Asset:  locked.Asset,
			Amount: claimed,
		})
	}
	err = e.commit(ctx, transfers, store.Batch{
		Records: []model.Record{locked, pos},
		Entries: []model.LedgerEntry{newEntry(mode.action(), pos.Owner, pos.Pool, locked.Asset, pos.Index, claimed, spot, now)},
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("position settled",
		"action", mode.action(),
		"caller", caller,
		"owner", pos.Owner,
		"index", pos.Index,
		"spot", spot,
		"strike", pos.StrikePrice,
		"profit", profit,
		"claimed", claimed,
		"unlocked", pos.Amount,
		"locked_asset", locked.Asset,
	)
	return pos, nil
}

// settlementPrices returns the target spot in quote units and the price of
// the locked asset used to convert the payoff into tokens.
func (e *Engine) settlementPrices(ctx context.Context, mode settlement, pos *model.Position,
	target, locked *model.Custody, now int64, exp *ExpireParams,
) (uint64, oracle.Price, error) {
	if mode == settleExpire {
		spotPrice := oracle.Price{Price: exp.Price, Exponent: model.PriceExponent, PublishedAt: now}
		if pos.Covered() {
			return exp.Price, spotPrice, nil
		}
		if exp.QuotePrice > 0 {
			return exp.Price, oracle.Price{Price: exp.QuotePrice, Exponent: model.PriceExponent, PublishedAt: now}, nil
		}
		quote, err := e.fetchPrice(ctx, locked, now)
		return exp.Price, quote, err
	}

	price, err := e.fetchPrice(ctx, target, now)
	if err != nil {
		return 0, oracle.Price{}, err
	}
	spot, err := price.Scale(model.PriceExponent)
	if err != nil {
		return 0, oracle.Price{}, err
	}
	if pos.Covered() {
		return spot, price, nil
	}
	quote, err := e.fetchPrice(ctx, locked, now)
	return spot, quote, err
}

// payoff returns the intrinsic value of pos at spot in quote units. The
// call formula applies when collateral is held in the target asset, the put
// formula otherwise. Zero unless strictly in the money. quantityExp is the
// exponent of the target custody.
func payoff(pos *model.Position, spot uint64, quantityExp int32) (uint64, error) {
	var diff uint64
	if pos.Covered() {
		if spot <= pos.StrikePrice {
			return 0, nil
		}
		diff = spot - pos.StrikePrice
	} else {
		if pos.StrikePrice <= spot {
			return 0, nil
		}
		diff = pos.StrikePrice - spot
	}

	return decimalmath.CheckedDecimalMul(diff, model.PriceExponent, pos.Quantity, quantityExp, model.PriceExponent)
}
