// Package settlement turns a set of balances into the payments that clear
// them.
package settlement

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/calculator"
	"github.com/mmynk/pare/internal/models"
)

// BillComment marks bills generated from a settlement.
const BillComment = "Auto-generated settlement bill"

// ErrUnbalanced is returned by Validate when a settlement does not bring
// every balance back to zero.
var ErrUnbalanced = errors.New("settlement leaves balances open")

// Create computes a payment plan that zeroes all balances.
//
// Algorithm (greedy matching):
//   - Creditors sorted by balance descending, debtors by balance ascending
//   - Pair the current debtor with the current creditor and pay the smaller
//     of what one owes and the other is owed
//   - Advance whichever side reached zero, possibly both
//
// Every payment clears at least one side, so a plan never needs more than
// #creditors + #debtors - 1 payments. The input is not modified.
func Create(balances []models.UserBalance) models.Settlement {
	creditors := calculator.Creditors(balances)
	debtors := calculator.Debtors(balances)

	var transactions []models.SettlementTransaction
	i, j := 0, 0
	for i < len(creditors) && j < len(debtors) {
		creditor := &creditors[i]
		debtor := &debtors[j]

		// Skip anyone already within a cent of zero
		if creditor.Balance.Abs().LessThan(calculator.Epsilon) {
			i++
			continue
		}
		if debtor.Balance.Abs().LessThan(calculator.Epsilon) {
			j++
			continue
		}

		amount := decimal.Min(creditor.Balance, debtor.Balance.Abs())
		transactions = append(transactions, models.SettlementTransaction{
			FromUserID:   debtor.UserID,
			ToUserID:     creditor.UserID,
			Amount:       amount,
			FromUserName: debtor.Name,
			ToUserName:   creditor.Name,
		})

		creditor.Balance = creditor.Balance.Sub(amount)
		debtor.Balance = debtor.Balance.Add(amount)

		if creditor.Balance.Abs().LessThan(calculator.Epsilon) {
			i++
		}
		if debtor.Balance.Abs().LessThan(calculator.Epsilon) {
			j++
		}
	}

	return models.Settlement{
		Transactions:      transactions,
		TotalTransactions: len(transactions),
		BalancesBefore:    slices.Clone(balances),
	}
}

// Validate replays a settlement against the balances it was created from.
// Debtors' balances rise by what they pay, creditors' fall by what they
// receive. Every final balance must be within a cent of zero.
func Validate(s models.Settlement, original []models.UserBalance) error {
	final := make(map[int]decimal.Decimal, len(original))
	var order []int
	track := func(userID int) {
		if _, ok := final[userID]; !ok {
			final[userID] = decimal.Zero
			order = append(order, userID)
		}
	}

	for _, b := range original {
		track(b.UserID)
		final[b.UserID] = final[b.UserID].Add(b.Balance)
	}
	for _, t := range s.Transactions {
		if !t.Amount.IsPositive() {
			return fmt.Errorf("payment from user %d to user %d has amount %s: %w",
				t.FromUserID, t.ToUserID, t.Amount, ErrUnbalanced)
		}
		track(t.FromUserID)
		track(t.ToUserID)
		final[t.FromUserID] = final[t.FromUserID].Add(t.Amount)
		final[t.ToUserID] = final[t.ToUserID].Sub(t.Amount)
	}

	for _, userID := range order {
		if final[userID].Abs().GreaterThan(calculator.Epsilon) {
			return fmt.Errorf("user %d has remaining balance %s: %w", userID, final[userID], ErrUnbalanced)
		}
	}
	return nil
}

// ToBills turns each payment into a bill paid by the debtor with a single
// split owed by the creditor. Bills are stamped with at, or the current time
// when at is zero, in UTC at millisecond precision.
func ToBills(s models.Settlement, at time.Time) []models.BillInput {
	if at.IsZero() {
		at = time.Now()
	}
	at = models.BillTime(at)

	bills := make([]models.BillInput, 0, len(s.Transactions))
	for _, t := range s.Transactions {
		bills = append(bills, models.BillInput{
			Description: fmt.Sprintf("Settlement: %s → %s", t.FromUserName, t.ToUserName),
			TotalAmount: t.Amount,
			PayerID:     t.FromUserID,
			OccurredAt:  at,
			Comment:     BillComment,
			Splits:      []models.SplitInput{{UserID: t.ToUserID, Amount: t.Amount}},
		})
	}
	return bills
}

// TotalAmount is the amount of money that changes hands.
func TotalAmount(s models.Settlement) decimal.Decimal {
	total := decimal.Zero
	for _, t := range s.Transactions {
		total = total.Add(t.Amount)
	}
	return total
}

// Summary describes a settlement in one line.
func Summary(s models.Settlement) string {
	n := len(s.Transactions)
	if n == 0 {
		return "No settlements needed - all balances are zero"
	}

	noun := "transaction"
	if n > 1 {
		noun = "transactions"
	}
	return fmt.Sprintf("%d %s needed, total amount: %s", n, noun, TotalAmount(s).StringFixed(2))
}
