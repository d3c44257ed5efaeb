// Package models defines the core domain models for pare.
//
// # Ledger Models
//
// A ledger is made of four tables:
//   - User: a participant, with an optional cached net balance
//   - Bill: a shared expense paid by one user
//   - Split: the amount one user owes against one bill
//   - PaymentMode / Category: lookup tables with no effect on balances
//
// # Derived Models
//
// UserBalance, Settlement and SettlementTransaction are computed values and
// are never persisted.
//
// # Design Principles
//
// 1. **IDs are integers**: assigned by the ledger as max(existing)+1
// 2. **Balances are derived**: User.Balance is a cache, Bills and Splits are the truth
// 3. **Exact money**: every amount is a decimal.Decimal, never a float
// 4. **No pointers between entities**: relationships are expressed with IDs
//
// # Sign Convention
//
// A positive balance means the user is owed money (creditor); a negative
// balance means the user owes money (debtor).
package models
