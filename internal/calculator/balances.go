package calculator

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/models"
)

var (
	// Epsilon is the tolerance below which a balance counts as settled.
	Epsilon = decimal.New(1, -2)

	// DeltaEpsilon is the smallest balance change worth applying.
	DeltaEpsilon = decimal.New(1, -3)
)

// CalculateFull computes every user's net balance from scratch.
//
// Algorithm:
// - Every user starts at zero
// - For each bill: payer gets +total, each split user gets -amount
// - Splits whose bill no longer exists are ignored
//
// The result follows the order of users and depends only on the bill and
// split sets, never on the order they were recorded in.
func CalculateFull(bills []models.Bill, splits []models.Split, users []models.User) []models.UserBalance {
	balances := make(map[int]decimal.Decimal, len(users))
	for _, u := range users {
		balances[u.ID] = decimal.Zero
	}

	splitsByBill := make(map[int][]models.Split)
	for _, s := range splits {
		splitsByBill[s.BillID] = append(splitsByBill[s.BillID], s)
	}

	for _, b := range bills {
		for userID, impact := range BillImpact(b, splitsByBill[b.ID]) {
			balances[userID] = balances[userID].Add(impact)
		}
	}

	result := make([]models.UserBalance, 0, len(users))
	for _, u := range users {
		result = append(result, models.UserBalance{
			UserID:  u.ID,
			Name:    u.Name,
			Balance: balances[u.ID],
		})
	}
	return result
}

// BillImpact returns the signed balance change one bill causes per user.
// A payer who also holds a split gets the net of both.
func BillImpact(b models.Bill, splits []models.Split) map[int]decimal.Decimal {
	impact := make(map[int]decimal.Decimal, len(splits)+1)
	impact[b.PayerID] = impact[b.PayerID].Add(b.TotalAmount)
	for _, s := range splits {
		impact[s.UserID] = impact[s.UserID].Sub(s.Amount)
	}
	return impact
}

// Creditors returns users who are owed money, largest balance first.
func Creditors(balances []models.UserBalance) []models.UserBalance {
	var creditors []models.UserBalance
	for _, b := range balances {
		if b.Balance.IsPositive() {
			creditors = append(creditors, b)
		}
	}
	slices.SortStableFunc(creditors, func(a, b models.UserBalance) int {
		return b.Balance.Cmp(a.Balance)
	})
	return creditors
}

// Debtors returns users who owe money, most negative balance first.
func Debtors(balances []models.UserBalance) []models.UserBalance {
	var debtors []models.UserBalance
	for _, b := range balances {
		if b.Balance.IsNegative() {
			debtors = append(debtors, b)
		}
	}
	slices.SortStableFunc(debtors, func(a, b models.UserBalance) int {
		return a.Balance.Cmp(b.Balance)
	})
	return debtors
}

// IsSettled reports whether every balance is within Epsilon of zero.
func IsSettled(balances []models.UserBalance) bool {
	for _, b := range balances {
		if b.Balance.Abs().GreaterThanOrEqual(Epsilon) {
			return false
		}
	}
	return true
}

// Unsettled returns the balances at least Epsilon from zero, the ones that
// keep IsSettled false.
func Unsettled(balances []models.UserBalance) []models.UserBalance {
	var unsettled []models.UserBalance
	for _, b := range balances {
		if b.Balance.Abs().GreaterThanOrEqual(Epsilon) {
			unsettled = append(unsettled, b)
		}
	}
	return unsettled
}

// FormatBalance renders a balance with two decimals and an explicit sign,
// e.g. "+12.50" or "-3.00". Anything within Epsilon of zero is "0.00".
func FormatBalance(balance decimal.Decimal) string {
	if balance.Abs().LessThan(Epsilon) {
		return "0.00"
	}
	amount := balance.Abs().StringFixed(2)
	if balance.IsPositive() {
		return "+" + amount
	}
	return "-" + amount
}

// SumBalances adds up a balance set. It is zero within Epsilon whenever every
// bill's splits add up to its total.
func SumBalances(balances []models.UserBalance) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range balances {
		sum = sum.Add(b.Balance)
	}
	return sum
}
