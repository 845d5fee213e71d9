package book

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/option-pool/internal/model"
	"github.com/atmx/option-pool/internal/store"
)

// loadHookStore runs hook once, after the first load of key has read the
// primary and before it returns.
type loadHookStore struct {
	store.Store
	key  string
	hook func()
}

func (h *loadHookStore) Load(ctx context.Context, kind model.Kind, key string) (model.Record, error) {
	r, err := h.Store.Load(ctx, kind, key)
	if key == h.key && h.hook != nil {
		fn := h.hook
		h.hook = nil
		fn()
	}
	return r, err
}

// A query that refills the cache with a pre-exercise row must not let the
// position settle a second time.
func TestExercise_StaleQueryCache(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hooked := &loadHookStore{Store: f.store, key: model.PositionKey("alice", 1)}
	f.engine = New(f.store, f.tokens, f.feed, Options{
		Reads: store.NewCachedStore(hooked, rdb, time.Minute),
	})

	f.sellCall("alice", 1, 10*sol, 150*usd)
	f.mint("bob", "SOL", 100*sol)
	f.sellCall("bob", 1, 10*sol, 150*usd)
	f.setPrice("sol-usd", price8(170), t0+day)

	hooked.hook = func() {
		if _, err := f.engine.Exercise(f.ctx, "alice", "alice", 1, t0+day); err != nil {
			t.Fatalf("exercise: %v", err)
		}
	}
	if _, err := f.engine.Position(f.ctx, "alice", 1); err != nil {
		t.Fatal(err)
	}
	paid := f.balance("alice", "SOL")

	_, err := f.engine.Exercise(f.ctx, "alice", "alice", 1, t0+day)
	if !errors.Is(err, ErrOptionAlreadyExercised) {
		t.Fatalf("expected ErrOptionAlreadyExercised, got %v", err)
	}
	if got := f.balance("alice", "SOL"); got != paid {
		t.Errorf("second exercise paid out: %d -> %d", paid, got)
	}
	c, err := store.GetCustody(f.ctx, f.store, "main", "SOL")
	if err != nil {
		t.Fatal(err)
	}
	if c.LockedBalance != 10*sol {
		t.Errorf("bob's collateral must stay locked, got %d", c.LockedBalance)
	}
}
