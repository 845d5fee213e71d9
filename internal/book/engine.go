// Package book is the option book and settlement engine: it sells
// positions against a pool, settles them by exercise, auto-exercise or
// administrative expiry, and runs the multisig-gated pool administration.
//
// Every operation follows the same shape. Records are loaded as private
// copies, every precondition is checked, amounts are computed with checked
// decimal arithmetic, token transfers are applied, and finally all touched
// records plus one audit entry are committed in a single store batch. A
// failed check leaves nothing behind; a failed commit reverses the
// transfers. The current time is always supplied by the caller.
package book

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/atmx/option-pool/internal/custody"
	"github.com/atmx/option-pool/internal/ledger"
	"github.com/atmx/option-pool/internal/limits"
	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/oracle"
	"github.com/atmx/option-pool/internal/pricing"
	"github.com/atmx/option-pool/internal/store"
)

// Options carries the optional collaborators of an Engine. Nil fields get
// defaults.
type Options struct {
	// Reads serves the query methods, typically a cache in front of the
	// primary store. Operations always load from the primary store.
	Reads store.Store

	Adapter *oracle.Adapter
	Pricer  *pricing.Engine
	Limiter *limits.PositionLimiter
	Logger  *slog.Logger
}

// Engine executes option book operations. It holds no ledger state of its
// own; callers serialise operations.
type Engine struct {
	store   store.Store
	reads   store.Store
	tokens  ledger.Ledger
	feed    oracle.Feed
	adapter *oracle.Adapter
	pricer  *pricing.Engine
	limiter *limits.PositionLimiter
	log     *slog.Logger
}

// New creates an engine over st, moving tokens through tokens and reading
// prices from feed.
func New(st store.Store, tokens ledger.Ledger, feed oracle.Feed, opts Options) *Engine {
	e := &Engine{
		store:   st,
		reads:   opts.Reads,
		tokens:  tokens,
		feed:    feed,
		adapter: opts.Adapter,
		pricer:  opts.Pricer,
		limiter: opts.Limiter,
		log:     opts.Logger,
	}
	if e.reads == nil {
		e.reads = st
	}
	if e.adapter == nil {
		e.adapter = oracle.NewAdapter(oracle.DefaultMaxAge, 0)
	}
	if e.pricer == nil {
		e.pricer = pricing.NewEngine(pricing.DefaultVolatilityBps)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// commit applies transfers and then persists b. If the store rejects the
// batch the transfers are reversed so no partial effect is observable.
func (e *Engine) commit(ctx context.Context, transfers []ledger.Transfer, b store.Batch) error {
	if len(transfers) > 0 {
		if err := e.tokens.Apply(ctx, transfers); err != nil {
			return fmt.Errorf("token transfer: %w", err)
		}
	}

	if err := e.store.Commit(ctx, b); err != nil {
		if len(transfers) > 0 {
			if rerr := e.tokens.Apply(ctx, ledger.Reverse(transfers)); rerr != nil {
				e.log.Error("transfer compensation failed",
					"err", rerr,
					"commit_err", err,
					"transfers", len(transfers),
				)
			}
		}
		return fmt.Errorf("commit: %w", err)
	}
	e.invalidate(ctx, b.Records)
	return nil
}

// invalidate drops committed records from the query store. Operations never
// read through it, so a failure only delays what queries observe.
func (e *Engine) invalidate(ctx context.Context, records []model.Record) {
	inv, ok := e.reads.(store.Invalidator)
	if !ok || len(records) == 0 {
		return
	}
	if err := inv.Invalidate(ctx, records); err != nil {
		e.log.Warn("query cache invalidation failed", "err", err, "records", len(records))
	}
}

func newEntry(action, owner, pool, asset string, index, amount, price uint64, now int64) model.LedgerEntry {
	return model.LedgerEntry{
		ID:        uuid.New().String(),
		Action:    action,
		Owner:     owner,
		Pool:      pool,
		Asset:     asset,
		Index:     index,
		Amount:    amount,
		Price:     price,
		Timestamp: now,
	}
}

func (e *Engine) contract(ctx context.Context) (*model.Contract, error) {
	return loadContract(ctx, e.store)
}

func (e *Engine) multisig(ctx context.Context) (*model.Multisig, error) {
	return loadMultisig(ctx, e.store)
}

func loadContract(ctx context.Context, s store.Store) (*model.Contract, error) {
	c, err := store.GetContract(ctx, s)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return c, err
}

func loadMultisig(ctx context.Context, s store.Store) (*model.Multisig, error) {
	ms, err := store.GetMultisig(ctx, s)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return ms, err
}

func (e *Engine) requireAdmin(ctx context.Context, caller string) (*model.Contract, error) {
	c, err := e.contract(ctx)
	if err != nil {
		return nil, err
	}
	if caller == "" || caller != c.Admin {
		return nil, fmt.Errorf("%w: %s", ErrAdminAuthority, caller)
	}
	return c, nil
}

// fetchPrice reads and validates the oracle price of c.
func (e *Engine) fetchPrice(ctx context.Context, c *model.Custody, now int64) (oracle.Price, error) {
	return e.adapter.Fetch(ctx, e.feed, c.Oracle, now)
}

// --- Queries ---
//
// Queries read from the query store and may lag the primary by up to the
// cache TTL.

// Contract returns the process-wide authorities.
func (e *Engine) Contract(ctx context.Context) (*model.Contract, error) {
	return loadContract(ctx, e.reads)
}

// Multisig returns the current multisig proposal.
func (e *Engine) Multisig(ctx context.Context) (*model.Multisig, error) {
	return loadMultisig(ctx, e.reads)
}

// Position returns owner's index-th position.
func (e *Engine) Position(ctx context.Context, owner string, index uint64) (*model.Position, error) {
	return store.GetPosition(ctx, e.reads, owner, index)
}

// Positions returns owner's positions in index order.
func (e *Engine) Positions(ctx context.Context, owner string) ([]*model.Position, error) {
	positions, err := store.ListPositions(ctx, e.reads, owner)
	if err != nil {
		return nil, err
	}
	sortByIndex(positions)
	return positions, nil
}

// User returns owner's counter record.
func (e *Engine) User(ctx context.Context, owner string) (*model.User, error) {
	return store.GetUser(ctx, e.reads, owner)
}

// Custody returns the custody of asset in pool.
func (e *Engine) Custody(ctx context.Context, pool, asset string) (*model.Custody, error) {
	return store.GetCustody(ctx, e.reads, pool, asset)
}

// Pool returns the balance summary of a pool.
func (e *Engine) Pool(ctx context.Context, name string) (custody.Summary, error) {
	p, err := store.GetPool(ctx, e.reads, name)
	if err != nil {
		return custody.Summary{}, err
	}
	return e.summarize(ctx, p)
}

// Pools returns the summary of every pool.
func (e *Engine) Pools(ctx context.Context) ([]custody.Summary, error) {
	pools, err := store.ListPools(ctx, e.reads)
	if err != nil {
		return nil, err
	}
	out := make([]custody.Summary, 0, len(pools))
	for _, p := range pools {
		s, err := e.summarize(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (e *Engine) summarize(ctx context.Context, p *model.Pool) (custody.Summary, error) {
	custodies := make(map[string]*model.Custody, len(p.Custodies))
	for _, asset := range p.Custodies {
		c, err := store.GetCustody(ctx, e.reads, p.Name, asset)
		if err != nil {
			return custody.Summary{}, err
		}
		custodies[asset] = c
	}
	return custody.Summarize(p, custodies), nil
}

// Entries returns the audit ledger, filtered by owner unless empty.
func (e *Engine) Entries(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	return e.reads.Entries(ctx, owner)
}

// sortByIndex restores numeric order; keys sort lexically ("alice/10" <
// "alice/2").
func sortByIndex(positions []*model.Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].Owner != positions[j].Owner {
			return positions[i].Owner < positions[j].Owner
		}
		return positions[i].Index < positions[j].Index
	})
}
