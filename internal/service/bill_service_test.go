package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/pare/internal/calculator"
	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/metrics"
	"github.com/mmynk/pare/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLedger returns a ledger with the given users, all with a zero cached
// balance when cached is true.
func newLedger(cached bool, names ...string) *ledger.Ledger {
	l := ledger.New()
	for i, name := range names {
		u := models.User{ID: i + 1, Name: name}
		if cached {
			u.Balance = decimal.NewNullDecimal(decimal.Zero)
		}
		l.PutUser(u)
	}
	return l
}

func newService(l *ledger.Ledger) (*BillService, *metrics.Metrics) {
	m := metrics.New(nil)
	logger := discardLogger()
	return NewBillService(l, calculator.New(logger, m), logger, m), m
}

func billInput(total string, payer int, splits ...models.SplitInput) models.BillInput {
	return models.BillInput{
		Description: "Groceries",
		TotalAmount: d(total),
		PayerID:     payer,
		Splits:      splits,
	}
}

func owes(userID int, amount string) models.SplitInput {
	return models.SplitInput{UserID: userID, Amount: d(amount)}
}

func assertBalances(t *testing.T, l *ledger.Ledger, want map[int]string) {
	t.Helper()
	for userID, amount := range want {
		u, ok := l.User(userID)
		require.True(t, ok, "user %d", userID)
		require.True(t, u.HasBalance(), "user %d has no cached balance", userID)
		assert.True(t, u.Balance.Decimal.Equal(d(amount)), "user %d balance = %s, want %s", userID, u.Balance.Decimal, amount)
	}
}

// assertMatchesFull checks the cached balances against a full recomputation.
func assertMatchesFull(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	for _, b := range calculator.CalculateFull(l.Bills(), l.AllSplits(), l.Users()) {
		u, _ := l.User(b.UserID)
		require.True(t, u.HasBalance(), "user %d has no cached balance", b.UserID)
		assert.True(t, u.Balance.Decimal.Sub(b.Balance).Abs().LessThan(calculator.Epsilon),
			"user %d cached %s, full %s", b.UserID, u.Balance.Decimal, b.Balance)
	}
}

func TestCreateBillScenarioA(t *testing.T) {
	l := newLedger(true, "Alice", "Bob")
	svc, m := newService(l)

	bill, splits, err := svc.CreateBill(context.Background(), billInput("100", 1, owes(2, "50")))
	require.NoError(t, err)

	assert.Equal(t, 1, bill.ID)
	require.Len(t, splits, 1)
	assert.Equal(t, bill.ID, splits[0].BillID)
	assertBalances(t, l, map[int]string{1: "100", 2: "-50"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opCreate, metrics.ResultOK)))
	// Only half of the bill was split.
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SplitMismatches))
}

func TestCreateBillValidation(t *testing.T) {
	tests := []struct {
		name string
		in   models.BillInput
	}{
		{name: "missing description", in: models.BillInput{TotalAmount: d("10"), PayerID: 1, Splits: []models.SplitInput{owes(2, "10")}}},
		{name: "zero total", in: billInput("0", 1, owes(2, "0"))},
		{name: "negative total", in: billInput("-5", 1, owes(2, "5"))},
		{name: "missing payer", in: billInput("10", 0, owes(2, "10"))},
		{name: "no splits", in: billInput("10", 1)},
		{name: "split without user", in: billInput("10", 1, owes(0, "10"))},
		{name: "negative split", in: billInput("10", 1, owes(2, "-10"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(true, "Alice", "Bob")
			svc, m := newService(l)
			revision := l.Revision()

			_, _, err := svc.CreateBill(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidBill)
			assert.Equal(t, revision, l.Revision())
			assert.Empty(t, l.Bills())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opCreate, metrics.ResultInvalid)))
		})
	}
}

func TestCreateBillRecalculatesWithoutCachedBalances(t *testing.T) {
	l := newLedger(false, "Alice", "Bob", "Charlie")
	svc, m := newService(l)

	_, _, err := svc.CreateBill(context.Background(), billInput("90", 1, owes(1, "30"), owes(2, "30"), owes(3, "30")))
	require.NoError(t, err)

	assertBalances(t, l, map[int]string{1: "60", 2: "-30", 3: "-30"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("delta_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opCreate, metrics.ResultRecovered)))
}

func TestCreateBillRollsBack(t *testing.T) {
	l := newLedger(false, "Alice", "Bob")
	svc, m := newService(l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.CreateBill(ctx, billInput("10", 1, owes(2, "10")))
	assert.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, l.Bills())
	assert.Empty(t, l.AllSplits())
	for _, u := range l.Users() {
		assert.False(t, u.HasBalance(), "user %d", u.ID)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opCreate, metrics.ResultRolledBack)))
}

func TestUpdateBill(t *testing.T) {
	l := newLedger(true, "Alice", "Bob", "Charlie")
	svc, m := newService(l)
	ctx := context.Background()

	created, _, err := svc.CreateBill(ctx, billInput("90", 1, owes(1, "30"), owes(2, "30"), owes(3, "30")))
	require.NoError(t, err)

	updated, splits, err := svc.UpdateBill(ctx, created.ID, billInput("40", 2, owes(1, "20"), owes(3, "20")))
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 2, updated.PayerID)
	require.Len(t, splits, 2)
	assert.Len(t, l.AllSplits(), 2)
	assertBalances(t, l, map[int]string{1: "-20", 2: "40", 3: "-20"})
	assertMatchesFull(t, l)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opUpdate, metrics.ResultOK)))
}

func TestUpdateMissingBill(t *testing.T) {
	l := newLedger(true, "Alice", "Bob")
	svc, m := newService(l)
	revision := l.Revision()

	_, _, err := svc.UpdateBill(context.Background(), 42, billInput("10", 1, owes(2, "10")))
	assert.ErrorIs(t, err, ErrBillNotFound)
	assert.Equal(t, revision, l.Revision())
	assertBalances(t, l, map[int]string{1: "0", 2: "0"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opUpdate, metrics.ResultNotFound)))
}

func TestUpdateBillRecoversFromReversalFailure(t *testing.T) {
	l := newLedger(false, "Alice", "Bob")
	bill, _ := l.InsertBill(models.Bill{Description: "Old", TotalAmount: d("10"), PayerID: 1}, []models.Split{{UserID: 2, Amount: d("10")}})
	svc, m := newService(l)

	_, _, err := svc.UpdateBill(context.Background(), bill.ID, billInput("30", 2, owes(1, "30")))
	require.NoError(t, err)

	assertBalances(t, l, map[int]string{1: "-30", 2: "30"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("reverse_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opUpdate, metrics.ResultRecovered)))
}

func TestUpdateBillRollsBack(t *testing.T) {
	l := newLedger(false, "Alice", "Bob")
	bill, oldSplits := l.InsertBill(models.Bill{Description: "Old", TotalAmount: d("10"), PayerID: 1}, []models.Split{{UserID: 2, Amount: d("10")}})
	svc, _ := newService(l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.UpdateBill(ctx, bill.ID, billInput("30", 2, owes(1, "30")))
	assert.ErrorIs(t, err, context.Canceled)

	got, splits, ok := l.BillWithSplits(bill.ID)
	require.True(t, ok)
	assert.Equal(t, "Old", got.Description)
	assert.Equal(t, 1, got.PayerID)
	assert.Equal(t, oldSplits, splits)
	for _, u := range l.Users() {
		assert.False(t, u.HasBalance(), "user %d", u.ID)
	}
}

func TestDeleteBill(t *testing.T) {
	l := newLedger(true, "Alice", "Bob")
	svc, m := newService(l)
	ctx := context.Background()

	bill, _, err := svc.CreateBill(ctx, billInput("50", 1, owes(2, "50")))
	require.NoError(t, err)
	assertBalances(t, l, map[int]string{1: "50", 2: "-50"})

	require.NoError(t, svc.DeleteBill(ctx, bill.ID))
	assertBalances(t, l, map[int]string{1: "0", 2: "0"})
	assert.Empty(t, l.Bills())
	assert.Empty(t, l.AllSplits())

	// A second delete is a no-op.
	require.NoError(t, svc.DeleteBill(ctx, bill.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opDelete, metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opDelete, metrics.ResultNotFound)))
}

func TestDeleteBillThenRecalculateForBill(t *testing.T) {
	l := newLedger(true, "Alice", "Bob")
	svc, _ := newService(l)
	ctx := context.Background()

	bill, _, err := svc.CreateBill(ctx, billInput("50", 1, owes(2, "50")))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteBill(ctx, bill.ID))

	require.NoError(t, svc.RecalculateForBill(ctx, bill.ID))
	assertBalances(t, l, map[int]string{1: "0", 2: "0"})
}

func TestDeleteBillRollsBack(t *testing.T) {
	l := newLedger(false, "Alice", "Bob")
	bill, _ := l.InsertBill(models.Bill{Description: "Old", TotalAmount: d("10"), PayerID: 1}, []models.Split{{UserID: 2, Amount: d("10")}})
	svc, m := newService(l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.DeleteBill(ctx, bill.ID)
	assert.ErrorIs(t, err, context.Canceled)

	_, splits, ok := l.BillWithSplits(bill.ID)
	require.True(t, ok)
	assert.Len(t, splits, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillMutations.WithLabelValues(opDelete, metrics.ResultRolledBack)))
}

func TestConcurrentMutations(t *testing.T) {
	l := newLedger(true, "Alice", "Bob", "Charlie")
	svc, _ := newService(l)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(payer int) {
			defer wg.Done()
			_, _, err := svc.CreateBill(ctx, billInput("9", payer, owes(1, "3"), owes(2, "3"), owes(3, "3")))
			assert.NoError(t, err)
			svc.Users()
			svc.Bills()
		}(i%3 + 1)
	}
	wg.Wait()

	assert.Len(t, svc.Bills(), 20)
	assertMatchesFull(t, l)
}

func TestBalances(t *testing.T) {
	l := newLedger(false, "Alice", "Bob")
	l.InsertBill(models.Bill{Description: "Lunch", TotalAmount: d("20"), PayerID: 2}, []models.Split{{UserID: 1, Amount: d("20")}})
	svc, _ := newService(l)

	balances, err := svc.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.True(t, balances[0].Balance.Equal(d("-20")))
	assert.True(t, balances[1].Balance.Equal(d("20")))
	assertBalances(t, l, map[int]string{1: "-20", 2: "20"})
}

func TestUserEdits(t *testing.T) {
	l := newLedger(true, "Alice", "Bob")
	svc, _ := newService(l)
	ctx := context.Background()

	_, _, err := svc.CreateBill(ctx, billInput("10", 1, owes(2, "10")))
	require.NoError(t, err)

	svc.UpdateUser(1, "Alicia", "ext-1")
	u, _ := l.User(1)
	assert.Equal(t, "Alicia", u.Name)
	assert.Equal(t, "ext-1", u.ExternalID)
	assert.True(t, u.Balance.Decimal.Equal(d("10")), "balance is kept")

	// Unknown users are ignored.
	svc.UpdateUser(99, "Nobody", "")
	svc.DeleteUser(99)
	assert.Len(t, svc.Users(), 2)

	// Deleting a user keeps their bills.
	svc.DeleteUser(2)
	assert.Len(t, svc.Users(), 1)
	assert.Len(t, l.AllSplits(), 1)

	added := svc.AddUser("Charlie", "")
	assert.Equal(t, 3, added.ID)
	assertBalances(t, l, map[int]string{3: "0"})
}

func TestLookupEdits(t *testing.T) {
	l := ledger.NewDefault(testTime)
	svc, _ := newService(l)

	modes := l.PaymentModes()
	require.NotEmpty(t, modes)
	svc.UpdatePaymentMode(modes[0].ID, "Wire")
	assert.Equal(t, "Wire", l.PaymentModes()[0].Name)
	svc.DeletePaymentMode(modes[0].ID)
	assert.Len(t, l.PaymentModes(), len(modes)-1)

	categories := l.Categories()
	require.NotEmpty(t, categories)
	svc.UpdateCategory(categories[0].ID, "Misc")
	assert.Equal(t, "Misc", l.Categories()[0].Name)
	svc.DeleteCategory(categories[0].ID)
	assert.Len(t, l.Categories(), len(categories)-1)

	// Missing IDs are ignored.
	revision := l.Revision()
	svc.UpdateCategory(999, "x")
	svc.DeleteCategory(999)
	svc.UpdatePaymentMode(999, "x")
	svc.DeletePaymentMode(999)
	assert.Equal(t, revision, l.Revision())
}
