package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/thihaeung/balance-ledger/internal/kv"
	"github.com/thihaeung/balance-ledger/internal/models"
)

var (
	// ErrAccountNotFound is returned when no account exists for a username.
	ErrAccountNotFound = errors.New("accounts: account not found")

	// ErrAccountExists is returned by Register when the username is taken.
	// This is an expected outcome, not a fault.
	ErrAccountExists = errors.New("accounts: username already registered")

	// ErrInsufficientFunds is returned when a delta would take the balance
	// below zero. The balance is left unchanged.
	ErrInsufficientFunds = errors.New("accounts: insufficient funds")

	// ErrContended is returned when the compare-and-swap loop exhausts its
	// retry budget under sustained write contention.
	ErrContended = errors.New("accounts: balance update contended, retry later")
)

const keyPrefix = "accounts/"

// Key returns the store key for a username.
func Key(username string) string {
	return keyPrefix + username
}

const (
	defaultMaxAttempts = 16
	defaultRetryDelay  = 2 * time.Millisecond
	maxRetryDelay      = 50 * time.Millisecond
)

// Store is the single source of truth for account existence and balance.
// All mutation goes through the store's versioned conditional write, so
// concurrent deltas against one account are serialized without locks:
// writers retry on conflict, readers never block.
type Store struct {
	kv          kv.Store
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts bounds the compare-and-swap retry loop.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the base delay between conflicting attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// New creates an account store on top of a versioned KV store.
func New(store kv.Store, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		kv:          store,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns the account for username, or ErrAccountNotFound. Store I/O
// faults propagate unmodified.
func (s *Store) Lookup(ctx context.Context, username string) (*models.Account, error) {
	rec, err := s.kv.Get(ctx, Key(username))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read account %q: %w", username, err)
	}

	var acct models.Account
	if err := json.Unmarshal(rec.Value, &acct); err != nil {
		return nil, fmt.Errorf("decode account %q: %w", username, err)
	}
	return &acct, nil
}

// Register creates an account with a zero balance. The write is a
// conditional create, so of two concurrent registrations for the same
// username exactly one succeeds and the other gets ErrAccountExists.
func (s *Store) Register(ctx context.Context, username, credentialHash string) error {
	acct := models.Account{
		Username:       username,
		CredentialHash: credentialHash,
		Balance:        0,
	}
	value, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account %q: %w", username, err)
	}

	err = s.kv.Put(ctx, Key(username), value, 0)
	if errors.Is(err, kv.ErrVersionConflict) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("create account %q: %w", username, err)
	}

	s.logger.Info("account registered", zap.String("username", username))
	return nil
}

// ApplyDelta atomically adds delta to the account's balance and returns the
// new balance. The loop reads the record with its version token, rejects any
// result below zero, and commits with a conditional write on that token; a
// version conflict means another writer landed first and the whole step is
// retried against fresh state. No update is ever lost and the balance never
// rests negative. Attempts are bounded: exhaustion surfaces as ErrContended
// rather than looping forever under sustained contention.
func (s *Store) ApplyDelta(ctx context.Context, username string, delta int64) (int64, error) {
	key := Key(username)

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		rec, err := s.kv.Get(ctx, key)
		if errors.Is(err, kv.ErrKeyNotFound) {
			return 0, ErrAccountNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("read account %q: %w", username, err)
		}

		var acct models.Account
		if err := json.Unmarshal(rec.Value, &acct); err != nil {
			return 0, fmt.Errorf("decode account %q: %w", username, err)
		}

		next := acct.Balance + delta
		if next < 0 {
			return 0, ErrInsufficientFunds
		}
		acct.Balance = next

		value, err := json.Marshal(acct)
		if err != nil {
			return 0, fmt.Errorf("encode account %q: %w", username, err)
		}

		err = s.kv.Put(ctx, key, value, rec.Version)
		if err == nil {
			if attempt > 1 {
				s.logger.Debug("balance update won after retries",
					zap.String("username", username),
					zap.Int("attempts", attempt))
			}
			return next, nil
		}
		if !errors.Is(err, kv.ErrVersionConflict) {
			return 0, fmt.Errorf("write account %q: %w", username, err)
		}

		// Another writer committed between our read and write; back off a
		// little and retry against the fresh version.
		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(jitteredDelay(s.retryDelay, attempt)):
			}
		}
	}

	s.logger.Warn("balance update exhausted retry budget",
		zap.String("username", username),
		zap.Int64("delta", delta),
		zap.Int("attempts", s.maxAttempts))
	return 0, ErrContended
}

// jitteredDelay grows linearly with the attempt number and randomizes within
// the step so colliding writers spread out instead of retrying in lockstep.
func jitteredDelay(base time.Duration, attempt int) time.Duration {
	d := time.Duration(attempt) * base
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
