package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Publisher accepts quotes pushed by an operator or relayer.
type Publisher interface {
	Publish(ctx context.Context, oracleID string, q Quote) error
}

// MemoryFeed holds quotes pushed by an operator or a test.
type MemoryFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewMemoryFeed creates an empty in-memory feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{quotes: make(map[string]Quote)}
}

// Set replaces the latest quote for oracleID.
func (f *MemoryFeed) Set(oracleID string, q Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[oracleID] = q
}

// Publish is Set behind the Publisher interface.
func (f *MemoryFeed) Publish(_ context.Context, oracleID string, q Quote) error {
	f.Set(oracleID, q)
	return nil
}

func (f *MemoryFeed) Quote(_ context.Context, oracleID string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[oracleID]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownOracle, oracleID)
	}
	return q, nil
}

// RedisFeed reads quotes that an external relayer publishes as JSON under
// oracle:<id>.
type RedisFeed struct {
	rdb *redis.Client
}

// NewRedisFeed creates a feed backed by rdb.
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

func (f *RedisFeed) Quote(ctx context.Context, oracleID string) (Quote, error) {
	data, err := f.rdb.Get(ctx, quoteKey(oracleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownOracle, oracleID)
	}
	if err != nil {
		return Quote{}, err
	}

	var q Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return Quote{}, fmt.Errorf("decode quote %s: %w", oracleID, err)
	}
	return q, nil
}

// Publish stores q for oracleID. Used by the push endpoint when the feed is
// Redis-backed so every replica sees the same quote.
func (f *RedisFeed) Publish(ctx context.Context, oracleID string, q Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return f.rdb.Set(ctx, quoteKey(oracleID), data, 0).Err()
}

func quoteKey(id string) string { return fmt.Sprintf("oracle:%s", id) }
