package book

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/option-pool/internal/custody"
	"github.com/atmx/option-pool/internal/ledger"
	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/multisig"
	"github.com/atmx/option-pool/internal/store"
)

// maxDecimals bounds custody token decimals so 10^decimals fits a uint64.
const maxDecimals = 18

// InitializeParams sets up the contract authorities.
type InitializeParams struct {
	Admin     string   `json:"admin"`
	Keepers   []string `json:"keepers"`
	Signers   []string `json:"signers"`
	Threshold uint8    `json:"threshold"`
}

// Initialize creates the contract and multisig records. It runs once.
func (e *Engine) Initialize(ctx context.Context, p InitializeParams, now int64) error {
	if p.Admin == "" {
		return fmt.Errorf("%w: admin is required", ErrInvalidParams)
	}
	if err := checkAccounts("authority", append(append([]string{p.Admin}, p.Keepers...), p.Signers...)...); err != nil {
		return err
	}
	if _, err := store.GetContract(ctx, e.store); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	ms, err := multisig.New(p.Signers, p.Threshold)
	if err != nil {
		return err
	}
	c := &model.Contract{
		Admin:     p.Admin,
		Keepers:   append([]string(nil), p.Keepers...),
		CreatedAt: now,
	}

	err = e.commit(ctx, nil, store.Batch{
		Records: []model.Record{c, ms},
		Entries: []model.LedgerEntry{newEntry("initialize", p.Admin, "", "", 0, 0, 0, now)},
	})
	if err != nil {
		return err
	}

	e.log.Info("contract initialized",
		"admin", p.Admin,
		"signers", len(p.Signers),
		"threshold", p.Threshold,
		"keepers", len(p.Keepers),
	)
	return nil
}

// AddPoolParams names a new pool. Nonce distinguishes otherwise identical
// proposals.
type AddPoolParams struct {
	Name  string `json:"name"`
	Nonce uint64 `json:"nonce"`
}

// AddPool signs the proposal to create a pool and creates it once the
// threshold is met. It returns the signatures still missing.
func (e *Engine) AddPool(ctx context.Context, signer string, p AddPoolParams, now int64) (int, error) {
	if p.Name == "" {
		return 0, fmt.Errorf("%w: pool name is required", ErrInvalidParams)
	}
	ms, err := e.multisig(ctx)
	if err != nil {
		return 0, err
	}
	hash, err := proposal(ms, "add_pool", p)
	if err != nil {
		return 0, err
	}
	if _, err := store.GetPool(ctx, e.store, p.Name); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrPoolExists, p.Name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	remaining, err := multisig.Sign(ms, signer, hash)
	if err != nil {
		return remaining, err
	}
	if remaining > 0 {
		return remaining, e.commit(ctx, nil, store.Batch{Records: []model.Record{ms}})
	}

	pool := &model.Pool{Name: p.Name, CreatedAt: now}
	err = e.commit(ctx, nil, store.Batch{
		Records: []model.Record{ms, pool},
		Entries: []model.LedgerEntry{newEntry("add_pool", signer, p.Name, "", 0, 0, 0, now)},
	})
	if err != nil {
		return 0, err
	}

	e.log.Info("pool created", "pool", p.Name, "signer", signer)
	return 0, nil
}

// RegisterCustodyParams describes a custody to append to a pool.
type RegisterCustodyParams struct {
	Pool     string `json:"pool"`
	Asset    string `json:"asset"`
	Oracle   string `json:"oracle"`
	Decimals uint8  `json:"decimals"`
	Nonce    uint64 `json:"nonce"`
}

// RegisterCustody signs the proposal to add a custody and registers it
// once the threshold is met. It returns the signatures still missing; no
// custody exists until that count reaches zero.
func (e *Engine) RegisterCustody(ctx context.Context, signer string, p RegisterCustodyParams, now int64) (int, error) {
	if p.Pool == "" || p.Asset == "" || p.Oracle == "" {
		return 0, fmt.Errorf("%w: pool, asset and oracle are required", ErrInvalidParams)
	}
	if p.Decimals > maxDecimals {
		return 0, fmt.Errorf("%w: decimals %d above %d", ErrInvalidParams, p.Decimals, maxDecimals)
	}

	ms, err := e.multisig(ctx)
	if err != nil {
		return 0, err
	}
	hash, err := proposal(ms, "add_custody", p)
	if err != nil {
		return 0, err
	}
	pool, err := store.GetPool(ctx, e.store, p.Pool)
	if err != nil {
		return 0, err
	}
	if pool.HasCustody(p.Asset) {
		return 0, fmt.Errorf("%w: %s in %s", custody.ErrAlreadyRegistered, p.Asset, p.Pool)
	}

	remaining, err := multisig.Sign(ms, signer, hash)
	if err != nil {
		return remaining, err
	}
	if remaining > 0 {
		e.log.Info("custody proposal signed",
			"pool", p.Pool,
			"asset", p.Asset,
			"signer", signer,
			"remaining", remaining,
		)
		return remaining, e.commit(ctx, nil, store.Batch{Records: []model.Record{ms}})
	}

	c := &model.Custody{
		Pool:     p.Pool,
		Asset:    p.Asset,
		Oracle:   p.Oracle,
		Decimals: p.Decimals,
	}
	if err := custody.Register(pool, c); err != nil {
		return 0, err
	}

	err = e.commit(ctx, nil, store.Batch{
		Records: []model.Record{ms, pool, c},
		Entries: []model.LedgerEntry{newEntry("add_custody", signer, p.Pool, p.Asset, 0, 0, 0, now)},
	})
	if err != nil {
		return 0, err
	}

	e.log.Info("custody registered",
		"pool", p.Pool,
		"asset", p.Asset,
		"oracle", p.Oracle,
		"decimals", p.Decimals,
	)
	return 0, nil
}

// checkAccounts rejects caller-supplied ids in the custody token-account
// namespace.
func checkAccounts(role string, ids ...string) error {
	for _, id := range ids {
		if model.IsTokenAccount(id) {
			return fmt.Errorf("%w: %s %q is a custody account", ErrInvalidParams, role, id)
		}
	}
	return nil
}

// proposal hashes an instruction. Re-signing the instruction ms last
// executed fails with multisig.ErrAlreadyExecuted before any state checks.
func proposal(ms *model.Multisig, instruction string, params any) (string, error) {
	hash, err := multisig.Hash(instruction, params)
	if err != nil {
		return "", err
	}
	return hash, multisig.CheckExecuted(ms, hash)
}

// Deposit moves amount of asset from depositor into the pool's custody.
func (e *Engine) Deposit(ctx context.Context, depositor, pool, asset string, amount uint64, now int64) (*model.Custody, error) {
	if depositor == "" || amount == 0 {
		return nil, fmt.Errorf("%w: depositor and a positive amount are required", ErrInvalidParams)
	}
	if err := checkAccounts("depositor", depositor); err != nil {
		return nil, err
	}
	c, err := store.GetCustody(ctx, e.store, pool, asset)
	if err != nil {
		return nil, err
	}

	bal, err := e.tokens.Balance(ctx, depositor, asset)
	if err != nil {
		return nil, err
	}
	if bal < amount {
		return nil, fmt.Errorf("%w: %s has %d %s, deposit %d", ErrInvalidSignerBalance, depositor, bal, asset, amount)
	}

	if err := custody.Credit(c, amount); err != nil {
		return nil, err
	}

	err = e.commit(ctx,
		[]ledger.Transfer{{From: depositor, To: c.TokenAccount, Asset: asset, Amount: amount}},
		store.Batch{
			Records: []model.Record{c},
			Entries: []model.LedgerEntry{newEntry("deposit", depositor, pool, asset, 0, amount, 0, now)},
		})
	if err != nil {
		return nil, err
	}

	e.log.Info("deposit",
		"depositor", depositor,
		"pool", pool,
		"asset", asset,
		"amount", amount,
	)
	return c, nil
}

// WithdrawParams moves free balance out of a custody. To defaults to the
// admin.
type WithdrawParams struct {
	Pool   string `json:"pool"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
	To     string `json:"to"`
}

// Withdraw moves unlocked balance out of the pool. Admin only; locked
// collateral can never be withdrawn.
func (e *Engine) Withdraw(ctx context.Context, caller string, p WithdrawParams, now int64) (*model.Custody, error) {
	ct, err := e.requireAdmin(ctx, caller)
	if err != nil {
		return nil, err
	}
	if p.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	to := p.To
	if to == "" {
		to = ct.Admin
	}
	if err := checkAccounts("recipient", to); err != nil {
		return nil, err
	}

	c, err := store.GetCustody(ctx, e.store, p.Pool, p.Asset)
	if err != nil {
		return nil, err
	}

	held, err := e.tokens.Balance(ctx, c.TokenAccount, p.Asset)
	if err != nil {
		return nil, err
	}
	if held < p.Amount {
		return nil, fmt.Errorf("%w: token account holds %d, withdraw %d",
			custody.ErrInvalidPoolBalance, held, p.Amount)
	}
	if err := custody.Debit(c, p.Amount); err != nil {
		return nil, err
	}

	err = e.commit(ctx,
		[]ledger.Transfer{{From: c.TokenAccount, To: to, Asset: p.Asset, Amount: p.Amount}},
		store.Batch{
			Records: []model.Record{c},
			Entries: []model.LedgerEntry{newEntry("withdraw", to, p.Pool, p.Asset, 0, p.Amount, 0, now)},
		})
	if err != nil {
		return nil, err
	}

	e.log.Info("withdrawal",
		"pool", p.Pool,
		"asset", p.Asset,
		"amount", p.Amount,
		"to", to,
	)
	return c, nil
}
