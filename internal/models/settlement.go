package models

import "github.com/shopspring/decimal"

// Settlement is a payment plan that reduces all balances to zero.
// It is a transient computation result and is never persisted as such;
// applying it creates one bill per transaction.
type Settlement struct {
	// Transactions are the payments to make, in the order they were matched.
	Transactions []SettlementTransaction

	// TotalTransactions is len(Transactions).
	TotalTransactions int

	// BalancesBefore is the balance snapshot the plan was computed from.
	BalancesBefore []UserBalance
}

// SettlementTransaction is a single payment from a debtor to a creditor.
type SettlementTransaction struct {
	// FromUserID is the debtor who pays.
	FromUserID int

	// ToUserID is the creditor who receives the payment.
	ToUserID int

	// Amount is always positive.
	Amount decimal.Decimal

	FromUserName string
	ToUserName   string
}
