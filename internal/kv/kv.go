package kv

import (
	"context"
	"errors"
)

// Record is a stored value together with the version token the store assigned
// to its last successful write. Version 0 is reserved: no stored record ever
// carries it, and passing it to Put as the expected version means "the key
// must not exist yet" (conditional create).
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

var (
	// ErrKeyNotFound is returned by Get for keys with no stored record.
	ErrKeyNotFound = errors.New("kv: key not found")

	// ErrVersionConflict is returned by Put when the stored version no longer
	// matches the expected version the caller read, i.e. another writer
	// committed in between.
	ErrVersionConflict = errors.New("kv: version conflict")
)

// Store is a versioned key-value store with a single-key conditional write
// primitive. It is the only coordination mechanism in the system: every
// balance mutation goes through Put's compare-and-swap, and readers never
// block writers.
type Store interface {
	// Get returns the record stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Put writes value under key only if the stored version equals
	// expectedVersion (0 meaning the key must be absent). On success the
	// stored version becomes expectedVersion+1. A rejected write returns
	// ErrVersionConflict.
	Put(ctx context.Context, key string, value []byte, expectedVersion int64) error

	// List returns all records whose key starts with prefix, in ascending
	// lexical key order.
	List(ctx context.Context, prefix string) ([]Record, error)
}
