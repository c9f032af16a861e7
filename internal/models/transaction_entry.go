package models

import "time"

// Kind classifies a balance-affecting event.
type Kind string

const (
	KindTopUp    Kind = "topup"
	KindPurchase Kind = "purchase"
)

// TransactionEntry is one immutable record in an account's history. Amount
// is signed and equals the delta actually applied to the balance: positive
// for top-ups, negative for purchases.
type TransactionEntry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}
