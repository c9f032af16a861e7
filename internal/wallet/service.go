package wallet

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/thihaeung/balance-ledger/internal/accounts"
	"github.com/thihaeung/balance-ledger/internal/auth"
	"github.com/thihaeung/balance-ledger/internal/events"
	"github.com/thihaeung/balance-ledger/internal/ledger"
	"github.com/thihaeung/balance-ledger/internal/models"
	eventmodels "github.com/thihaeung/balance-ledger/internal/models/events"
)

// ErrInvalidAmount is returned for top-ups and purchases of zero or
// negative magnitude.
var ErrInvalidAmount = errors.New("wallet: amount must be positive")

// TopicBalanceAdjusted is the topic BalanceAdjusted events are published to.
const TopicBalanceAdjusted = "balance_adjusted"

// Service is the facade the request layer calls. It owns the two-step write
// order: the account balance is mutated first, and only on success is the
// matching ledger entry appended and an event published. The two writes are
// not transactionally linked; an append failure after a committed balance
// change is surfaced and logged as a history gap, never silently dropped.
type Service struct {
	accounts *accounts.Store
	ledger   *ledger.Ledger
	pub      events.Publisher
	logger   *zap.Logger
}

// New wires the service. Pass events.Nop{} when no broker is configured.
func New(accountStore *accounts.Store, txLedger *ledger.Ledger, pub events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		accounts: accountStore,
		ledger:   txLedger,
		pub:      pub,
		logger:   logger,
	}
}

// Register hashes the credential and creates the account with a zero
// balance. Returns accounts.ErrAccountExists when the username is taken.
func (s *Service) Register(ctx context.Context, username, credential string) error {
	hash, err := auth.HashCredential(credential)
	if err != nil {
		return fmt.Errorf("hash credential for %q: %w", username, err)
	}
	return s.accounts.Register(ctx, username, hash)
}

// Lookup returns the account for username.
func (s *Service) Lookup(ctx context.Context, username string) (*models.Account, error) {
	return s.accounts.Lookup(ctx, username)
}

// Transactions returns username's history, most recent first.
func (s *Service) Transactions(ctx context.Context, username string) ([]models.TransactionEntry, error) {
	return s.ledger.List(ctx, username)
}

// TopUp credits amount to the account and records a topup entry.
func (s *Service) TopUp(ctx context.Context, username string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.adjust(ctx, username, amount, models.KindTopUp)
}

// Purchase debits price from the account and records a purchase entry.
// Returns accounts.ErrInsufficientFunds when the balance cannot cover it.
func (s *Service) Purchase(ctx context.Context, username string, price int64) error {
	if price <= 0 {
		return ErrInvalidAmount
	}
	return s.adjust(ctx, username, -price, models.KindPurchase)
}

func (s *Service) adjust(ctx context.Context, username string, delta int64, kind models.Kind) error {
	balance, err := s.accounts.ApplyDelta(ctx, username, delta)
	if err != nil {
		return err
	}

	entry, err := s.ledger.Append(ctx, username, delta, kind)
	if err != nil {
		// The balance change is already committed; losing the entry leaves
		// a gap in the account's history.
		s.logger.Error("ledger append failed after balance update",
			zap.String("username", username),
			zap.Int64("amount", delta),
			zap.Error(err))
		return fmt.Errorf("record transaction for %q: %w", username, err)
	}

	s.publish(username, entry, balance)
	return nil
}

// publish is best effort: a broker outage must not fail a committed
// operation.
func (s *Service) publish(username string, entry models.TransactionEntry, balance int64) {
	event := eventmodels.BalanceAdjusted{
		Username:   username,
		EntryID:    entry.ID,
		Kind:       string(entry.Kind),
		Amount:     entry.Amount,
		Balance:    balance,
		OccurredAt: entry.Timestamp,
	}
	if err := s.pub.Publish(TopicBalanceAdjusted, event); err != nil {
		s.logger.Warn("failed to publish balance event",
			zap.String("username", username),
			zap.String("entry_id", entry.ID),
			zap.Error(err))
	}
}
