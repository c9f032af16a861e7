package models

// Account is the stored record for a registered user. The username doubles
// as the store key component and is immutable after registration. Balance is
// in minor currency units and never rests below zero; the account store
// enforces that, not the caller.
type Account struct {
	Username       string `json:"username"`
	CredentialHash string `json:"credential_hash"`
	Balance        int64  `json:"balance"`
}
