// Package service runs ledger mutations and keeps cached balances in step
// with them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/calculator"
	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/metrics"
	"github.com/mmynk/pare/internal/models"
)

// ErrBillNotFound is returned when updating a bill that does not exist.
var ErrBillNotFound = ledger.ErrBillNotFound

// Mutation operations, used in logs and metrics.
const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// BillService is the single entry point for bill mutations. Every mutation
// goes through the same stages:
//
//	Requested -> BalanceReversed -> StoreMutated -> BalanceApplied -> Committed
//
// The reversal and apply stages are incremental. If either fails the service
// recalculates every balance, and if that fails too the bill tables and the
// cached balances are restored to their state before the mutation.
type BillService struct {
	mu       sync.RWMutex
	ledger   *ledger.Ledger
	calc     *calculator.Calculator
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewBillService creates a BillService over l. A nil logger uses
// slog.Default(); nil metrics record nothing.
func NewBillService(l *ledger.Ledger, calc *calculator.Calculator, logger *slog.Logger, m *metrics.Metrics) *BillService {
	if logger == nil {
		logger = slog.Default()
	}
	if calc == nil {
		calc = calculator.New(logger, m)
	}
	return &BillService{
		ledger:   l,
		calc:     calc,
		validate: newValidator(),
		metrics:  m,
		logger:   logger,
	}
}

// Ledger returns the underlying ledger. Callers must not mutate it while the
// service is in use.
func (s *BillService) Ledger() *ledger.Ledger {
	return s.ledger
}

// CreateBill validates in, stores it as a new bill and adds its impact to the
// cached balances.
func (s *BillService) CreateBill(ctx context.Context, in models.BillInput) (models.Bill, []models.Split, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.opLogger(opCreate)
	if err := validateBill(s.validate, in); err != nil {
		log.Warn("rejected bill", "error", err)
		s.metrics.Mutated(opCreate, metrics.ResultInvalid)
		return models.Bill{}, nil, err
	}

	snapshot := s.balanceSnapshot()
	bill, splits := s.ledger.InsertBill(in.Bill(), in.SplitModels())
	s.checkSplits(log, bill, splits)
	log = log.With("bill_id", bill.ID)

	after := &calculator.BillState{Bill: bill, Splits: splits}
	result, err := s.applyBalances(ctx, log, nil, after)
	if err != nil {
		if _, _, rmErr := s.ledger.RemoveBill(bill.ID); rmErr != nil {
			log.Error("failed to roll back created bill", "error", rmErr)
		}
		s.restoreBalances(snapshot)
		log.Error("create rolled back", "error", err)
		s.metrics.Mutated(opCreate, metrics.ResultRolledBack)
		return models.Bill{}, nil, fmt.Errorf("failed to create bill: %w", err)
	}

	log.Info("bill created", "total", bill.TotalAmount.String(), "splits", len(splits))
	s.metrics.Mutated(opCreate, result)
	return bill, splits, nil
}

// UpdateBill replaces bill id with in. The old impact is reversed before the
// bill and its splits are overwritten and the new impact applied. A missing
// bill returns ErrBillNotFound and leaves the ledger untouched.
func (s *BillService) UpdateBill(ctx context.Context, id int, in models.BillInput) (models.Bill, []models.Split, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.opLogger(opUpdate).With("bill_id", id)
	if err := validateBill(s.validate, in); err != nil {
		log.Warn("rejected bill", "error", err)
		s.metrics.Mutated(opUpdate, metrics.ResultInvalid)
		return models.Bill{}, nil, err
	}

	oldBill, oldSplits, ok := s.ledger.BillWithSplits(id)
	if !ok {
		log.Warn("bill not found")
		s.metrics.Mutated(opUpdate, metrics.ResultNotFound)
		return models.Bill{}, nil, fmt.Errorf("failed to update bill %d: %w", id, ErrBillNotFound)
	}
	before := &calculator.BillState{Bill: oldBill, Splits: oldSplits}

	snapshot := s.balanceSnapshot()
	reverseErr := s.calc.ApplyDelta(s.ledger, before, nil)

	bill, splits, err := s.ledger.ReplaceBill(id, in.Bill(), in.SplitModels())
	if err != nil {
		// Cannot happen while the lock is held.
		s.restoreBalances(snapshot)
		return models.Bill{}, nil, fmt.Errorf("failed to update bill %d: %w", id, err)
	}
	s.checkSplits(log, bill, splits)
	after := &calculator.BillState{Bill: bill, Splits: splits}

	var result string
	if reverseErr != nil {
		log.Warn("balance reversal failed", "error", reverseErr)
		result, err = s.recalculateAll(ctx, log, "reverse_failed")
	} else {
		result, err = s.applyBalances(ctx, log, nil, after)
	}
	if err != nil {
		s.ledger.PutBill(oldBill, oldSplits)
		s.restoreBalances(snapshot)
		log.Error("update rolled back", "error", err)
		s.metrics.Mutated(opUpdate, metrics.ResultRolledBack)
		return models.Bill{}, nil, fmt.Errorf("failed to update bill %d: %w", id, err)
	}

	log.Info("bill updated", "total", bill.TotalAmount.String(), "splits", len(splits))
	s.metrics.Mutated(opUpdate, result)
	return bill, splits, nil
}

// DeleteBill reverses the impact of bill id and removes it with its splits.
// Deleting a bill that does not exist is a no-op.
func (s *BillService) DeleteBill(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.opLogger(opDelete).With("bill_id", id)
	oldBill, oldSplits, ok := s.ledger.BillWithSplits(id)
	if !ok {
		log.Warn("bill not found, nothing to delete")
		s.metrics.Mutated(opDelete, metrics.ResultNotFound)
		return nil
	}
	before := &calculator.BillState{Bill: oldBill, Splits: oldSplits}

	snapshot := s.balanceSnapshot()
	reverseErr := s.calc.ApplyDelta(s.ledger, before, nil)

	if _, _, err := s.ledger.RemoveBill(id); err != nil {
		s.restoreBalances(snapshot)
		return fmt.Errorf("failed to delete bill %d: %w", id, err)
	}

	result := metrics.ResultOK
	if reverseErr != nil {
		log.Warn("balance reversal failed", "error", reverseErr)
		var err error
		if result, err = s.recalculateAll(ctx, log, "reverse_failed"); err != nil {
			s.ledger.PutBill(oldBill, oldSplits)
			s.restoreBalances(snapshot)
			log.Error("delete rolled back", "error", err)
			s.metrics.Mutated(opDelete, metrics.ResultRolledBack)
			return fmt.Errorf("failed to delete bill %d: %w", id, err)
		}
	}

	log.Info("bill deleted")
	s.metrics.Mutated(opDelete, result)
	return nil
}

// applyBalances applies the change between two bill states to the cached balances,
// recalculating everything when the incremental update cannot be applied.
func (s *BillService) applyBalances(ctx context.Context, log *slog.Logger, before, after *calculator.BillState) (string, error) {
	err := s.calc.ApplyDelta(s.ledger, before, after)
	if err == nil {
		return metrics.ResultOK, nil
	}
	log.Warn("incremental balance update failed", "error", err)
	return s.recalculateAll(ctx, log, "delta_failed")
}

func (s *BillService) recalculateAll(ctx context.Context, log *slog.Logger, reason string) (string, error) {
	s.metrics.FellBack(reason)
	if _, err := s.calc.Recalculate(ctx, s.ledger); err != nil {
		return "", err
	}
	log.Info("recovered with full recalculation", "reason", reason)
	return metrics.ResultRecovered, nil
}

// checkSplits logs bills whose splits do not add up to the total. Partial
// splits are allowed so the bill is kept either way.
func (s *BillService) checkSplits(log *slog.Logger, bill models.Bill, splits []models.Split) {
	diff := calculator.SplitMismatch(bill.TotalAmount, splits)
	if diff.Abs().LessThan(calculator.Epsilon) {
		return
	}
	log.Warn("splits do not sum to bill total",
		"total", bill.TotalAmount.String(),
		"difference", diff.String(),
	)
	s.metrics.SplitMismatch()
}

func (s *BillService) balanceSnapshot() map[int]decimal.NullDecimal {
	users := s.ledger.Users()
	snapshot := make(map[int]decimal.NullDecimal, len(users))
	for _, u := range users {
		snapshot[u.ID] = u.Balance
	}
	return snapshot
}

func (s *BillService) restoreBalances(snapshot map[int]decimal.NullDecimal) {
	for userID, balance := range snapshot {
		if balance.Valid {
			s.ledger.SetBalance(userID, balance.Decimal)
		} else {
			s.ledger.ClearBalance(userID)
		}
	}
}

func (s *BillService) opLogger(op string) *slog.Logger {
	return s.logger.With("op", op, "op_id", uuid.NewString())
}

// --- Reads ---

// Balances returns the balance of every user, recomputing them when the
// cached copies are incomplete.
func (s *BillService) Balances(ctx context.Context) ([]models.UserBalance, error) {
	// Calculate may write cached balances back onto the users.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Calculate(ctx, s.ledger)
}

// Recalculate drops the cached balances and recomputes all of them.
func (s *BillService) Recalculate(ctx context.Context) ([]models.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Recalculate(ctx, s.ledger)
}

// RecalculateForBill recomputes the balances of the users on one bill.
func (s *BillService) RecalculateForBill(ctx context.Context, billID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.RecalculateForBill(ctx, s.ledger, billID)
}

// Users returns all users sorted by ID.
func (s *BillService) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Users()
}

// Bills returns all bills sorted by ID.
func (s *BillService) Bills() []models.Bill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.Bills()
}

// Bill returns one bill with its splits.
func (s *BillService) Bill(id int) (models.Bill, []models.Split, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger.BillWithSplits(id)
}

// --- Users & lookups ---

// AddUser adds a user with a zero cached balance.
func (s *BillService) AddUser(name, externalID string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ledger.AddUser(models.User{
		Name:       name,
		ExternalID: externalID,
		Balance:    decimal.NewNullDecimal(decimal.Zero),
	})
	s.logger.Info("user added", "user_id", u.ID, "name", name)
	return u
}

// UpdateUser renames a user and sets its external identity. The cached
// balance is kept. Unknown users are ignored.
func (s *BillService) UpdateUser(id int, name, externalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.ledger.User(id)
	if !ok {
		s.logger.Warn("user not found, nothing to update", "user_id", id)
		return
	}
	current.Name = name
	current.ExternalID = externalID
	if err := s.ledger.UpdateUser(id, current); err != nil {
		s.logger.Warn("failed to update user", "user_id", id, "error", err)
	}
}

// DeleteUser removes a user. Bills and splits that reference the user are
// kept and still count towards the other users' balances.
func (s *BillService) DeleteUser(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bills := s.ledger.UserBills(id); len(bills) > 0 {
		s.logger.Warn("deleting user who is still on bills", "user_id", id, "bills", bills)
	}
	if err := s.ledger.DeleteUser(id); err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			s.logger.Warn("user not found, nothing to delete", "user_id", id)
			return
		}
		s.logger.Error("failed to delete user", "user_id", id, "error", err)
	}
}

// UpdateCategory renames a category. Unknown categories are ignored.
func (s *BillService) UpdateCategory(id int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logMiss(s.ledger.UpdateCategory(id, name), "category_id", id)
}

// DeleteCategory removes a category. Bills keep their reference.
func (s *BillService) DeleteCategory(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logMiss(s.ledger.DeleteCategory(id), "category_id", id)
}

// UpdatePaymentMode renames a payment mode. Unknown payment modes are ignored.
func (s *BillService) UpdatePaymentMode(id int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logMiss(s.ledger.UpdatePaymentMode(id, name), "payment_mode_id", id)
}

// DeletePaymentMode removes a payment mode. Bills keep their reference.
func (s *BillService) DeletePaymentMode(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logMiss(s.ledger.DeletePaymentMode(id), "payment_mode_id", id)
}

func (s *BillService) logMiss(err error, key string, id int) {
	if err != nil {
		s.logger.Warn("lookup edit skipped", key, id, "error", err)
	}
}
