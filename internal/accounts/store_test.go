package accounts_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thihaeung/balance-ledger/internal/accounts"
	"github.com/thihaeung/balance-ledger/internal/kv"
	"github.com/thihaeung/balance-ledger/internal/kv/memory"
)

func newStore(t *testing.T, opts ...accounts.Option) *accounts.Store {
	t.Helper()
	return accounts.New(memory.New(), zaptest.NewLogger(t), opts...)
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Register(ctx, "alice", "hash-1"))

	acct, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.Username)
	assert.Equal(t, "hash-1", acct.CredentialHash)
	assert.Equal(t, int64(0), acct.Balance)
}

func TestRegisterTakenUsername(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Register(ctx, "alice", "hash-1"))

	err := store.Register(ctx, "alice", "hash-2")
	assert.ErrorIs(t, err, accounts.ErrAccountExists)

	// The loser must not have touched the stored record.
	acct, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", acct.CredentialHash)
}

func TestLookupMissingAccount(t *testing.T) {
	store := newStore(t)

	_, err := store.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestApplyDelta(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Register(ctx, "alice", "h"))

	balance, err := store.ApplyDelta(ctx, "alice", 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance)

	balance, err = store.ApplyDelta(ctx, "alice", -1500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	acct, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acct.Balance)
}

func TestApplyDeltaMissingAccount(t *testing.T) {
	store := newStore(t)

	_, err := store.ApplyDelta(context.Background(), "nobody", 100)
	assert.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestApplyDeltaInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Register(ctx, "alice", "h"))
	_, err := store.ApplyDelta(ctx, "alice", 300)
	require.NoError(t, err)

	_, err = store.ApplyDelta(ctx, "alice", -500)
	assert.ErrorIs(t, err, accounts.ErrInsufficientFunds)

	// A rejected delta leaves the balance untouched.
	acct, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(300), acct.Balance)
}

func TestConcurrentDeltasLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	store := newStore(t,
		accounts.WithMaxAttempts(1000),
		accounts.WithRetryDelay(10*time.Microsecond))
	require.NoError(t, store.Register(ctx, "alice", "h"))

	const writers = 64
	const delta = int64(5)

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.ApplyDelta(ctx, "alice", delta)
		}(i)
	}
	wg.Wait()

	var succeeded int64
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, accounts.ErrContended)
		}
	}
	require.NotZero(t, succeeded)

	// Every successful delta is reflected exactly once, whatever the
	// interleaving was.
	acct, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, succeeded*delta, acct.Balance)
}

func TestConcurrentRegisterExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Register(ctx, "alice", "h")
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, accounts.ErrAccountExists)
		}
	}
	assert.Equal(t, 1, won)

	acct, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Balance)
}

// conflictingStore reports a version conflict on every write, simulating an
// account under permanent contention.
type conflictingStore struct {
	kv.Store
}

func (c conflictingStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	return kv.ErrVersionConflict
}

func TestApplyDeltaExhaustsRetryBudget(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	require.NoError(t, inner.Put(ctx, accounts.Key("alice"),
		[]byte(`{"username":"alice","credential_hash":"h","balance":100}`), 0))

	store := accounts.New(conflictingStore{inner}, zaptest.NewLogger(t),
		accounts.WithMaxAttempts(3),
		accounts.WithRetryDelay(time.Microsecond))

	_, err := store.ApplyDelta(ctx, "alice", 10)
	assert.ErrorIs(t, err, accounts.ErrContended)
}
