package calculator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/metrics"
	"github.com/mmynk/pare/internal/models"
)

// ErrBalanceNotCached is returned by ApplyDelta when a user it would touch has
// no cached balance to apply the change to.
var ErrBalanceNotCached = errors.New("balance not cached")

// Ledger is the part of the ledger store the calculator reads and updates.
// *ledger.Ledger implements it.
type Ledger interface {
	Users() []models.User
	Bills() []models.Bill
	AllSplits() []models.Split
	BillWithSplits(id int) (models.Bill, []models.Split, bool)
	User(id int) (models.User, bool)
	SetBalance(userID int, balance decimal.Decimal) bool
	ClearBalances()
	Counts() ledger.Counts
	Revision() uint64
}

// BillState is a bill as stored together with its splits.
type BillState struct {
	Bill   models.Bill
	Splits []models.Split
}

// Calculator derives user balances and keeps the cached copies on the ledger
// up to date.
type Calculator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	memoKey  string
	memoized []models.UserBalance
}

// New creates a Calculator. A nil logger uses slog.Default(); nil metrics
// record nothing.
func New(logger *slog.Logger, m *metrics.Metrics) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{logger: logger, metrics: m}
}

// Calculate returns the current balances. When every user carries a cached
// balance those are returned as-is. Otherwise the balances are recomputed
// from bills and splits and saved back onto the users.
//
// On failure the best-effort balances are returned with the error; they are
// empty when the full recomputation could not run either.
func (c *Calculator) Calculate(ctx context.Context, l Ledger) ([]models.UserBalance, error) {
	users := l.Users()
	if cached, ok := cachedBalances(users); ok {
		c.metrics.Recalculated(metrics.ModeCached)
		return cached, nil
	}

	key := cacheKey(l)
	if balances, ok := c.memo(key); ok {
		c.logger.Debug("reusing memoized balances", "key", key)
		c.SaveBalances(l, balances)
		c.metrics.Recalculated(metrics.ModeCached)
		return balances, nil
	}

	return c.recalculate(ctx, l)
}

// Recalculate drops every cached balance and the memo, then recomputes all
// of them.
func (c *Calculator) Recalculate(ctx context.Context, l Ledger) ([]models.UserBalance, error) {
	l.ClearBalances()
	c.Reset()
	return c.recalculate(ctx, l)
}

func (c *Calculator) recalculate(ctx context.Context, l Ledger) ([]models.UserBalance, error) {
	// Let other goroutines run before the scan.
	runtime.Gosched()
	if err := ctx.Err(); err != nil {
		return []models.UserBalance{}, fmt.Errorf("failed to recalculate balances: %w", err)
	}

	balances := CalculateFull(l.Bills(), l.AllSplits(), l.Users())
	c.SaveBalances(l, balances)
	c.remember(cacheKey(l), balances)
	c.metrics.Recalculated(metrics.ModeFull)

	c.logger.Debug("recalculated balances", "users", len(balances))
	return balances, nil
}

// SaveBalances stores computed balances as the users' cached balances.
// Balances of users missing from the ledger are skipped.
func (c *Calculator) SaveBalances(l Ledger, balances []models.UserBalance) {
	for _, b := range balances {
		if !l.SetBalance(b.UserID, b.Balance) {
			c.logger.Warn("skipping balance for unknown user", "user_id", b.UserID)
		}
	}
}

// RecalculateUsers recomputes the balances of the given users only. Every
// bill is scanned once but bills that touch none of the users are skipped.
func (c *Calculator) RecalculateUsers(l Ledger, affected []int) {
	targets := make(map[int]decimal.Decimal, len(affected))
	for _, id := range affected {
		targets[id] = decimal.Zero
	}

	splitsByBill := make(map[int][]models.Split)
	for _, s := range l.AllSplits() {
		splitsByBill[s.BillID] = append(splitsByBill[s.BillID], s)
	}

	for _, b := range l.Bills() {
		for userID, impact := range BillImpact(b, splitsByBill[b.ID]) {
			if balance, ok := targets[userID]; ok {
				targets[userID] = balance.Add(impact)
			}
		}
	}

	for userID, balance := range targets {
		l.SetBalance(userID, balance)
	}
	c.metrics.Recalculated(metrics.ModeUsers)
}

// RecalculateForBill recomputes the balances of the payer and participants of
// one bill. When the bill no longer exists it falls back to a full
// recalculation.
func (c *Calculator) RecalculateForBill(ctx context.Context, l Ledger, billID int) error {
	bill, splits, ok := l.BillWithSplits(billID)
	if !ok {
		c.logger.Warn("bill not found, doing full recalculation", "bill_id", billID)
		c.metrics.FellBack("bill_missing")
		_, err := c.Recalculate(ctx, l)
		return err
	}

	affected := []int{bill.PayerID}
	for _, s := range splits {
		if !slices.Contains(affected, s.UserID) {
			affected = append(affected, s.UserID)
		}
	}

	runtime.Gosched()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to recalculate bill %d: %w", billID, err)
	}

	c.RecalculateUsers(l, affected)
	c.metrics.Recalculated(metrics.ModeBill)
	c.logger.Debug("incrementally updated balances", "bill_id", billID, "users", len(affected))
	return nil
}

// ApplyDelta applies the net balance change between two states of a bill to
// the cached balances. A nil before state means the bill is new; a nil after
// state means it was deleted. Changes smaller than DeltaEpsilon are skipped.
//
// Nothing is written unless every affected user has a cached balance;
// otherwise ErrBalanceNotCached is returned.
func (c *Calculator) ApplyDelta(l Ledger, before, after *BillState) error {
	net := make(map[int]decimal.Decimal)
	if before != nil {
		for userID, impact := range BillImpact(before.Bill, before.Splits) {
			net[userID] = net[userID].Sub(impact)
		}
	}
	if after != nil {
		for userID, impact := range BillImpact(after.Bill, after.Splits) {
			net[userID] = net[userID].Add(impact)
		}
	}

	updates := make(map[int]decimal.Decimal, len(net))
	for userID, delta := range net {
		if delta.Abs().LessThan(DeltaEpsilon) {
			continue
		}
		u, ok := l.User(userID)
		if !ok {
			// Deleted users keep their bills but have no balance to adjust.
			continue
		}
		if !u.HasBalance() {
			return fmt.Errorf("user %d: %w", userID, ErrBalanceNotCached)
		}
		updates[userID] = u.Balance.Decimal.Add(delta)
	}

	for userID, balance := range updates {
		l.SetBalance(userID, balance)
	}
	c.metrics.Recalculated(metrics.ModeDelta)
	c.logger.Debug("applied incremental balance update", "users", len(updates))
	return nil
}

// Reset forgets the memoized result.
func (c *Calculator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoKey = ""
	c.memoized = nil
}

func (c *Calculator) memo(key string) ([]models.UserBalance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memoKey == "" || c.memoKey != key {
		return nil, false
	}
	return slices.Clone(c.memoized), true
}

func (c *Calculator) remember(key string, balances []models.UserBalance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memoKey = key
	c.memoized = slices.Clone(balances)
}

// cacheKey identifies the authoritative content of a ledger instance.
func cacheKey(l Ledger) string {
	counts := l.Counts()
	return fmt.Sprintf("%p/%d:%d:%d@%d", l, counts.Bills, counts.Splits, counts.Users, l.Revision())
}

func cachedBalances(users []models.User) ([]models.UserBalance, bool) {
	if len(users) == 0 {
		return nil, false
	}
	balances := make([]models.UserBalance, 0, len(users))
	for _, u := range users {
		if !u.HasBalance() {
			return nil, false
		}
		balances = append(balances, models.UserBalance{
			UserID:  u.ID,
			Name:    u.Name,
			Balance: u.Balance.Decimal,
		})
	}
	return balances, true
}
