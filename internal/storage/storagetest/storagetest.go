// Package storagetest holds fixtures shared by the storage backend tests.
package storagetest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/models"
)

// TrickyDescription contains a comma, a quote and a line break.
const TrickyDescription = "Dinner, \"the good place\"\nwith dessert"

// Ledger returns a ledger exercising every persisted field: cached and
// missing balances, optional lookup references, deleted-ID gaps and text
// that needs quoting.
func Ledger() *ledger.Ledger {
	created := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	l := ledger.NewDefault(created)
	l.Meta.Modified = created.Add(36 * time.Hour)

	l.PutUser(models.User{ID: 1, Name: "Alice", ExternalID: "ext-alice", Balance: decimal.NewNullDecimal(decimal.RequireFromString("75.25"))})
	l.PutUser(models.User{ID: 2, Name: "Bob, Jr.", Balance: decimal.NewNullDecimal(decimal.RequireFromString("-50"))})
	l.PutUser(models.User{ID: 4, Name: "Charlie"})

	cash, food := 1, 1
	l.PutBill(models.Bill{
		ID:            3,
		Description:   TrickyDescription,
		TotalAmount:   decimal.RequireFromString("100.50"),
		PayerID:       1,
		OccurredAt:    time.UnixMilli(1704164645123).UTC(),
		Recurrence:    "monthly",
		PaymentModeID: &cash,
		CategoryID:    &food,
		Comment:       "split \"evenly\"",
		AttachmentRef: "https://files.example.com/receipt,1.png",
	}, []models.Split{
		{ID: 7, BillID: 3, UserID: 2, Amount: decimal.RequireFromString("50.25")},
		{ID: 8, BillID: 3, UserID: 4, Amount: decimal.RequireFromString("25")},
	})
	l.PutBill(models.Bill{
		ID:          5,
		Description: "Taxi",
		TotalAmount: decimal.RequireFromString("12"),
		PayerID:     2,
		OccurredAt:  time.UnixMilli(1704250000000).UTC(),
	}, []models.Split{
		{ID: 9, BillID: 5, UserID: 1, Amount: decimal.RequireFromString("12")},
	})
	return l
}

// AssertEqual fails the test unless both ledgers hold the same content.
// Decimals and times are compared by value.
func AssertEqual(t *testing.T, want, got *ledger.Ledger) {
	t.Helper()

	assert.Equal(t, want.Meta.Version, got.Meta.Version, "meta version")
	assert.True(t, want.Meta.Created.Equal(got.Meta.Created), "meta created: want %s, got %s", want.Meta.Created, got.Meta.Created)
	assert.True(t, want.Meta.Modified.Equal(got.Meta.Modified), "meta modified: want %s, got %s", want.Meta.Modified, got.Meta.Modified)

	assert.Equal(t, want.PaymentModes(), got.PaymentModes())
	assert.Equal(t, want.Categories(), got.Categories())

	wantUsers, gotUsers := want.Users(), got.Users()
	require.Len(t, gotUsers, len(wantUsers))
	for i, w := range wantUsers {
		g := gotUsers[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.ExternalID, g.ExternalID)
		assert.Equal(t, w.HasBalance(), g.HasBalance(), "user %d balance presence", w.ID)
		if w.HasBalance() && g.HasBalance() {
			assert.True(t, w.Balance.Decimal.Equal(g.Balance.Decimal), "user %d balance: want %s, got %s", w.ID, w.Balance.Decimal, g.Balance.Decimal)
		}
	}

	wantBills, gotBills := want.Bills(), got.Bills()
	require.Len(t, gotBills, len(wantBills))
	for i, w := range wantBills {
		g := gotBills[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.Description, g.Description)
		assert.True(t, w.TotalAmount.Equal(g.TotalAmount), "bill %d total", w.ID)
		assert.Equal(t, w.PayerID, g.PayerID)
		assert.True(t, w.OccurredAt.Equal(g.OccurredAt), "bill %d time", w.ID)
		assert.Equal(t, w.Recurrence, g.Recurrence)
		assert.Equal(t, w.PaymentModeID, g.PaymentModeID)
		assert.Equal(t, w.CategoryID, g.CategoryID)
		assert.Equal(t, w.Comment, g.Comment)
		assert.Equal(t, w.AttachmentRef, g.AttachmentRef)
	}

	wantSplits, gotSplits := want.AllSplits(), got.AllSplits()
	require.Len(t, gotSplits, len(wantSplits))
	for i, w := range wantSplits {
		g := gotSplits[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.BillID, g.BillID)
		assert.Equal(t, w.UserID, g.UserID)
		assert.True(t, w.Amount.Equal(g.Amount), "split %d amount", w.ID)
	}
}
