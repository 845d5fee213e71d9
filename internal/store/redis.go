package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/option-pool/internal/model"
)

// ErrCacheInvalidation is returned by Commit when the primary write
// succeeded but cached copies could not be dropped.
var ErrCacheInvalidation = errors.New("store: cache invalidation failed")

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// A read racing a commit can refill a key with the pre-commit row, so
// cached reads may lag the primary by up to the TTL. Only query paths
// should read through it; operations that check state before writing must
// load from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

// Commit writes b to the primary and then invalidates its records. An
// ErrCacheInvalidation means b is durable but the cache may be stale.
func (s *CachedStore) Commit(ctx context.Context, b Batch) error {
	if err := s.primary.Commit(ctx, b); err != nil {
		return err
	}
	return s.Invalidate(ctx, b.Records)
}

// Invalidate deletes the cached copies of records; the next read will
// re-populate them.
func (s *CachedStore) Invalidate(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, recordKey(r.Kind(), r.Key()))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Load(ctx context.Context, kind model.Kind, key string) (model.Record, error) {
	data, err := s.rdb.Get(ctx, recordKey(kind, key)).Bytes()
	if err == nil {
		var env model.Envelope
		if json.Unmarshal(data, &env) == nil {
			if r, err := model.Decode(env, kind); err == nil {
				return r, nil
			}
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.Load(ctx, kind, key)
	if err != nil {
		return nil, err
	}

	s.cacheRecord(ctx, r)
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) List(ctx context.Context, kind model.Kind, prefix string) ([]model.Record, error) {
	return s.primary.List(ctx, kind, prefix)
}

func (s *CachedStore) Entries(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	return s.primary.Entries(ctx, owner)
}

// --- Cache helpers ---

func (s *CachedStore) cacheRecord(ctx context.Context, r model.Record) {
	env, err := model.Encode(r)
	if err != nil {
		return
	}
	if data, err := json.Marshal(env); err == nil {
		s.rdb.Set(ctx, recordKey(r.Kind(), r.Key()), data, s.ttl)
	}
}

func recordKey(kind model.Kind, key string) string { return fmt.Sprintf("record:%s:%s", kind, key) }
