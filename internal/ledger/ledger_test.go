package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thihaeung/balance-ledger/internal/kv/memory"
	"github.com/thihaeung/balance-ledger/internal/ledger"
	"github.com/thihaeung/balance-ledger/internal/models"
)

// tickingClock hands out strictly increasing instants.
func tickingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(time.Second)
		return now
	}
}

func newLedger(t *testing.T, opts ...ledger.Option) *ledger.Ledger {
	t.Helper()
	return ledger.New(memory.New(), zaptest.NewLogger(t), opts...)
}

func TestAppendAndListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, ledger.WithClock(tickingClock(start)))

	first, err := l.Append(ctx, "aung", 2000, models.KindTopUp)
	require.NoError(t, err)
	second, err := l.Append(ctx, "aung", -1500, models.KindPurchase)
	require.NoError(t, err)

	entries, err := l.List(ctx, "aung")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, second.ID, entries[0].ID)
	assert.Equal(t, models.KindPurchase, entries[0].Kind)
	assert.Equal(t, int64(-1500), entries[0].Amount)

	assert.Equal(t, first.ID, entries[1].ID)
	assert.Equal(t, models.KindTopUp, entries[1].Kind)
	assert.Equal(t, int64(2000), entries[1].Amount)
}

func TestAppendRejectsMismatchedSign(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.Append(ctx, "aung", -100, models.KindTopUp)
	assert.ErrorIs(t, err, ledger.ErrKindMismatch)

	_, err = l.Append(ctx, "aung", 100, models.KindPurchase)
	assert.ErrorIs(t, err, ledger.ErrKindMismatch)

	_, err = l.Append(ctx, "aung", 0, models.KindTopUp)
	assert.ErrorIs(t, err, ledger.ErrKindMismatch)

	_, err = l.Append(ctx, "aung", 100, models.Kind("refund"))
	assert.Error(t, err)

	entries, err := l.List(ctx, "aung")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendEntryReplayDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	entry := models.TransactionEntry{
		ID:        "op-1234",
		Kind:      models.KindTopUp,
		Amount:    500,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, l.AppendEntry(ctx, "aung", entry))
	// A retried operation replays the identical entry.
	require.NoError(t, l.AppendEntry(ctx, "aung", entry))

	entries, err := l.List(ctx, "aung")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "op-1234", entries[0].ID)
}

func TestSameInstantAppendsBothSurvive(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, ledger.WithClock(func() time.Time { return frozen }))

	_, err := l.Append(ctx, "aung", 100, models.KindTopUp)
	require.NoError(t, err)
	_, err = l.Append(ctx, "aung", 200, models.KindTopUp)
	require.NoError(t, err)

	entries, err := l.List(ctx, "aung")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestListIsIdempotent(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, ledger.WithClock(tickingClock(start)))

	_, err := l.Append(ctx, "aung", 100, models.KindTopUp)
	require.NoError(t, err)
	_, err = l.Append(ctx, "aung", -50, models.KindPurchase)
	require.NoError(t, err)

	first, err := l.List(ctx, "aung")
	require.NoError(t, err)
	second, err := l.List(ctx, "aung")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListScopedToAccount(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	_, err := l.Append(ctx, "aung", 100, models.KindTopUp)
	require.NoError(t, err)
	_, err = l.Append(ctx, "bo", 900, models.KindTopUp)
	require.NoError(t, err)

	entries, err := l.List(ctx, "aung")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].Amount)

	entries, err = l.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
