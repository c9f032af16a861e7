package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/thihaeung/balance-ledger/internal/kv"
)

// Store is an in-memory implementation of kv.Store. It keeps one version
// counter per key and serializes writes with a mutex, which makes Put's
// compare-and-swap atomic the same way a real store's conditional write is.
// Used in tests and for local development.
type Store struct {
	mu      sync.RWMutex
	records map[string]record
}

type record struct {
	value   []byte
	version int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]record)}
}

func (s *Store) Get(ctx context.Context, key string) (kv.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return kv.Record{}, kv.ErrKeyNotFound
	}
	return kv.Record{Key: key, Value: cloneBytes(rec.value), Version: rec.version}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if expectedVersion == 0 {
		if ok {
			return kv.ErrVersionConflict
		}
	} else if !ok || rec.version != expectedVersion {
		return kv.ErrVersionConflict
	}

	s.records[key] = record{value: cloneBytes(value), version: expectedVersion + 1}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]kv.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]kv.Record, 0, len(keys))
	for _, k := range keys {
		rec := s.records[k]
		out = append(out, kv.Record{Key: k, Value: cloneBytes(rec.value), Version: rec.version})
	}
	return out, nil
}

// cloneBytes copies a value so callers cannot mutate internal state.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Compile-time check: Store implements kv.Store.
var _ kv.Store = (*Store)(nil)
