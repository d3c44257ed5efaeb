package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/models"
)

var cent = decimal.New(1, -2)

// Item represents a single line on a receipt.
type Item struct {
	Description string
	Amount      decimal.Decimal
	AssignedTo  []int // user IDs sharing the item
}

// EqualSplits divides a bill total evenly among users. Amounts are rounded
// down to cents and the leftover cents go to the first users, so the splits
// always add up to the total.
func EqualSplits(total decimal.Decimal, userIDs []int) ([]models.SplitInput, error) {
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("must have at least one participant")
	}

	shares := make(map[int]decimal.Decimal, len(userIDs))
	each := total.Div(decimal.NewFromInt(int64(len(userIDs))))
	for _, id := range userIDs {
		shares[id] = shares[id].Add(each)
	}
	return roundToTotal(total, userIDs, shares), nil
}

// ItemizedSplits computes how much each participant owes for an itemized
// receipt, including a proportional share of tax and tip.
// Based on: person_total = person_subtotal × (bill_total / bill_subtotal)
//
// Items assigned to nobody are left out. Without items the total is split
// equally among participants.
func ItemizedSplits(items []Item, total, subtotal decimal.Decimal, participants []int) ([]models.SplitInput, error) {
	if subtotal.IsZero() {
		return nil, fmt.Errorf("subtotal cannot be zero")
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("must have at least one participant")
	}
	if len(items) == 0 {
		return EqualSplits(total, participants)
	}

	shares := make(map[int]decimal.Decimal, len(participants))
	for _, id := range participants {
		shares[id] = decimal.Zero
	}

	// Each person's subtotal from the items assigned to them
	assigned := decimal.Zero
	for _, item := range items {
		if len(item.AssignedTo) == 0 {
			continue
		}
		perPerson := item.Amount.Div(decimal.NewFromInt(int64(len(item.AssignedTo))))
		for _, id := range item.AssignedTo {
			if share, ok := shares[id]; ok {
				shares[id] = share.Add(perPerson)
				assigned = assigned.Add(perPerson)
			}
		}
	}

	// Apply proportional tax
	ratio := total.Div(subtotal)
	for id, share := range shares {
		shares[id] = share.Mul(ratio)
	}

	return roundToTotal(assigned.Mul(ratio), participants, shares), nil
}

// SplitMismatch returns how much of the bill total the splits leave
// unassigned. It is negative when the splits exceed the total.
func SplitMismatch(total decimal.Decimal, splits []models.Split) decimal.Decimal {
	gap := total
	for _, s := range splits {
		gap = gap.Sub(s.Amount)
	}
	return gap
}

// roundToTotal rounds shares down to cents and hands out the remaining cents
// one at a time in participant order.
func roundToTotal(total decimal.Decimal, order []int, shares map[int]decimal.Decimal) []models.SplitInput {
	var ids []int
	seen := make(map[int]bool, len(order))
	for _, id := range order {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	rounded := make([]decimal.Decimal, len(ids))
	sum := decimal.Zero
	for i, id := range ids {
		rounded[i] = shares[id].RoundFloor(2)
		sum = sum.Add(rounded[i])
	}

	remaining := total.Round(2).Sub(sum)
	for i := 0; remaining.GreaterThanOrEqual(cent) && len(ids) > 0; i = (i + 1) % len(ids) {
		rounded[i] = rounded[i].Add(cent)
		remaining = remaining.Sub(cent)
	}

	splits := make([]models.SplitInput, len(ids))
	for i, id := range ids {
		splits[i] = models.SplitInput{UserID: id, Amount: rounded[i]}
	}
	return splits
}
