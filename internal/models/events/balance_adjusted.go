package events

import "time"

// BalanceAdjusted is published after a top-up or purchase has been applied
// to an account and recorded in its history.
type BalanceAdjusted struct {
	Username   string    `json:"username"`
	EntryID    string    `json:"entry_id"`
	Kind       string    `json:"kind"`
	Amount     int64     `json:"amount"`
	Balance    int64     `json:"balance"`
	OccurredAt time.Time `json:"occurred_at"`
}
