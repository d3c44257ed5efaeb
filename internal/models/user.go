package models

import "github.com/shopspring/decimal"

// User represents a participant in the ledger.
type User struct {
	// ID is the ledger-assigned identifier for the user.
	ID int

	// Name is the display name of the user.
	Name string

	// ExternalID is an opaque identity reference owned by the identity
	// directory (empty when the user has none). The engine never interprets it.
	ExternalID string

	// Balance is the cached net balance. It is derived data: Valid is false
	// when no balance has been computed yet.
	Balance decimal.NullDecimal
}

// HasBalance reports whether the user carries a cached balance.
func (u User) HasBalance() bool {
	return u.Balance.Valid
}

// UserBalance is one user's net position used by balance and settlement
// calculations.
type UserBalance struct {
	UserID  int
	Name    string
	Balance decimal.Decimal // Positive = owed money, Negative = owes money
}
