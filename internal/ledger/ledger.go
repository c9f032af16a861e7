package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thihaeung/balance-ledger/internal/kv"
	"github.com/thihaeung/balance-ledger/internal/models"
)

// ErrKindMismatch is returned when an entry's signed amount does not agree
// with its kind: top-ups must be positive, purchases negative.
var ErrKindMismatch = errors.New("ledger: amount sign does not match kind")

const keyPrefix = "transactions/"

// Ledger is the append-only, per-account history of balance-affecting
// events. Entries are never updated or deleted; the only writes are
// conditional creates of fresh keys, so there is no shared mutable state
// to coordinate.
type Ledger struct {
	kv     kv.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source. Tests use it to pin entry order.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a ledger on top of a versioned KV store.
func New(store kv.Store, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		kv:     store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stamps and records a new entry for username, returning the entry
// as written.
func (l *Ledger) Append(ctx context.Context, username string, amount int64, kind models.Kind) (models.TransactionEntry, error) {
	entry := models.TransactionEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Amount:    amount,
		Timestamp: l.now().UTC(),
	}
	if err := l.AppendEntry(ctx, username, entry); err != nil {
		return models.TransactionEntry{}, err
	}
	return entry, nil
}

// AppendEntry records a fully formed entry. The key is derived from the
// entry's timestamp and ID, so replaying the same entry lands on the same
// key; the write is a conditional create, and a conflict there means the
// entry was already recorded, which is reported as success rather than
// double-counted.
func (l *Ledger) AppendEntry(ctx context.Context, username string, entry models.TransactionEntry) error {
	switch entry.Kind {
	case models.KindTopUp:
		if entry.Amount <= 0 {
			return ErrKindMismatch
		}
	case models.KindPurchase:
		if entry.Amount >= 0 {
			return ErrKindMismatch
		}
	default:
		return fmt.Errorf("ledger: unknown kind %q", entry.Kind)
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry for %q: %w", username, err)
	}

	key := entryKey(username, entry.Timestamp, entry.ID)
	err = l.kv.Put(ctx, key, value, 0)
	if errors.Is(err, kv.ErrVersionConflict) {
		l.logger.Debug("transaction entry already recorded",
			zap.String("username", username),
			zap.String("entry_id", entry.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("append entry for %q: %w", username, err)
	}
	return nil
}

// List returns username's entries most-recent-first. The store scans the
// account's prefix in ascending key order, which the key scheme guarantees
// is chronological, so reversing the scan yields the display order.
func (l *Ledger) List(ctx context.Context, username string) ([]models.TransactionEntry, error) {
	recs, err := l.kv.List(ctx, accountPrefix(username))
	if err != nil {
		return nil, fmt.Errorf("list entries for %q: %w", username, err)
	}

	entries := make([]models.TransactionEntry, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		var entry models.TransactionEntry
		if err := json.Unmarshal(recs[i].Value, &entry); err != nil {
			return nil, fmt.Errorf("decode entry %q: %w", recs[i].Key, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func accountPrefix(username string) string {
	return keyPrefix + username + "/"
}

// entryKey composes (namespace, username, sortable timestamp, entry ID).
// The timestamp format is fixed-width UTC down to nanoseconds; the scheme
// requires that lexical key order equals chronological order, and this
// format is what guarantees it. The entry ID suffix keeps same-instant keys
// distinct, so one append can never overwrite another.
func entryKey(username string, ts time.Time, entryID string) string {
	return accountPrefix(username) + sortableTimestamp(ts) + "-" + entryID
}

func sortableTimestamp(ts time.Time) string {
	return ts.UTC().Format("20060102T150405.000000000")
}
