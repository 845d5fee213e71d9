package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/atmx/option-pool/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.Kind]map[string]model.Record
	ledger  []model.LedgerEntry

	// failNext makes the next Commit fail; tests use it to exercise
	// compensation paths.
	failNext error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[model.Kind]map[string]model.Record),
	}
}

// FailNextCommit makes the next Commit return err without writing.
func (s *MemoryStore) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) Load(_ context.Context, kind model.Kind, key string) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[kind][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, key)
	}
	return model.Clone(r), nil
}

func (s *MemoryStore) List(_ context.Context, kind model.Kind, prefix string) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records[kind]))
	for k := range s.records[kind] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]model.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.Clone(s.records[kind][k]))
	}
	return out, nil
}

func (s *MemoryStore) Commit(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}

	for _, r := range b.Records {
		byKey, ok := s.records[r.Kind()]
		if !ok {
			byKey = make(map[string]model.Record)
			s.records[r.Kind()] = byKey
		}
		// Store a copy to avoid external mutation.
		byKey[r.Key()] = model.Clone(r)
	}
	s.ledger = append(s.ledger, b.Entries...)
	return nil
}

func (s *MemoryStore) Entries(_ context.Context, owner string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if owner == "" || e.Owner == owner {
			result = append(result, e)
		}
	}
	return result, nil
}
