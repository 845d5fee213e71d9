// Package store defines the keyed persistence interface for the option
// pool. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/option-pool/internal/model"
)

// ErrNotFound is returned when no record exists under a key.
var ErrNotFound = errors.New("store: record not found")

// Batch is everything one operation writes. It is committed atomically:
// either every record and entry becomes visible or none does.
type Batch struct {
	Records []model.Record
	Entries []model.LedgerEntry
}

// Store is the persistence interface. Records are returned as copies the
// caller may mutate freely; nothing is visible to other readers until
// Commit.
type Store interface {
	// Load returns the record of kind under key, or ErrNotFound.
	Load(ctx context.Context, kind model.Kind, key string) (model.Record, error)

	// List returns every record of kind whose key starts with prefix,
	// ordered by key.
	List(ctx context.Context, kind model.Kind, prefix string) ([]model.Record, error)

	// Commit upserts records and appends entries in one atomic step.
	Commit(ctx context.Context, b Batch) error

	// Entries returns the immutable ledger in commit order, filtered by
	// owner unless owner is empty.
	Entries(ctx context.Context, owner string) ([]model.LedgerEntry, error)
}

// Invalidator is implemented by caching stores. Invalidate drops the
// cached copies of records so the next read goes to the primary.
type Invalidator interface {
	Invalidate(ctx context.Context, records []model.Record) error
}

func load[T model.Record](ctx context.Context, s Store, kind model.Kind, key string) (T, error) {
	var zero T
	r, err := s.Load(ctx, kind, key)
	if err != nil {
		return zero, err
	}
	v, ok := r.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s %s holds %T", model.ErrKindMismatch, kind, key, r)
	}
	return v, nil
}

// GetContract loads the singleton contract record.
func GetContract(ctx context.Context, s Store) (*model.Contract, error) {
	return load[*model.Contract](ctx, s, model.KindContract, model.ContractKey)
}

// GetMultisig loads the singleton multisig record.
func GetMultisig(ctx context.Context, s Store) (*model.Multisig, error) {
	return load[*model.Multisig](ctx, s, model.KindMultisig, model.MultisigKey)
}

// GetPool loads a pool by name.
func GetPool(ctx context.Context, s Store, name string) (*model.Pool, error) {
	return load[*model.Pool](ctx, s, model.KindPool, name)
}

// GetCustody loads the custody of asset in pool.
func GetCustody(ctx context.Context, s Store, pool, asset string) (*model.Custody, error) {
	return load[*model.Custody](ctx, s, model.KindCustody, model.CustodyKey(pool, asset))
}

// GetUser loads the user record of owner.
func GetUser(ctx context.Context, s Store, owner string) (*model.User, error) {
	return load[*model.User](ctx, s, model.KindUser, owner)
}

// GetPosition loads owner's index-th position.
func GetPosition(ctx context.Context, s Store, owner string, index uint64) (*model.Position, error) {
	return load[*model.Position](ctx, s, model.KindPosition, model.PositionKey(owner, index))
}

// ListPositions returns owner's positions, or every position when owner is
// empty.
func ListPositions(ctx context.Context, s Store, owner string) ([]*model.Position, error) {
	prefix := ""
	if owner != "" {
		prefix = owner + "/"
	}
	records, err := s.List(ctx, model.KindPosition, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Position, 0, len(records))
	for _, r := range records {
		p, ok := r.(*model.Position)
		if !ok {
			return nil, fmt.Errorf("%w: position list holds %T", model.ErrKindMismatch, r)
		}
		// The key prefix also matches owners named "<owner>/...".
		if owner != "" && p.Owner != owner {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ListPools returns every pool ordered by name.
func ListPools(ctx context.Context, s Store) ([]*model.Pool, error) {
	records, err := s.List(ctx, model.KindPool, "")
	if err != nil {
		return nil, err
	}
	out := make([]*model.Pool, 0, len(records))
	for _, r := range records {
		p, ok := r.(*model.Pool)
		if !ok {
			return nil, fmt.Errorf("%w: pool list holds %T", model.ErrKindMismatch, r)
		}
		out = append(out, p)
	}
	return out, nil
}
