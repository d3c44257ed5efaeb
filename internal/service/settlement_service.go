package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/pare/internal/metrics"
	"github.com/mmynk/pare/internal/models"
	"github.com/mmynk/pare/internal/settlement"
)

// ErrInvalidSettlement is returned when a generated plan does not clear every
// balance.
var ErrInvalidSettlement = errors.New("invalid settlement")

// SettlementService plans settlements from the current balances and records
// them as bills.
type SettlementService struct {
	bills   *BillService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSettlementService creates a SettlementService on top of bills.
func NewSettlementService(bills *BillService, logger *slog.Logger, m *metrics.Metrics) *SettlementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementService{bills: bills, metrics: m, logger: logger}
}

// Plan computes the payments that clear the current balances. A plan that
// fails validation is never returned.
func (s *SettlementService) Plan(ctx context.Context) (models.Settlement, error) {
	balances, err := s.bills.Balances(ctx)
	if err != nil {
		return models.Settlement{}, fmt.Errorf("failed to get balances: %w", err)
	}

	plan := settlement.Create(balances)
	if err := settlement.Validate(plan, balances); err != nil {
		s.logger.Error("rejected settlement plan", "transactions", plan.TotalTransactions, "error", err)
		s.metrics.SettlementRejected()
		return models.Settlement{}, fmt.Errorf("%w: %w", ErrInvalidSettlement, err)
	}

	s.logger.Debug("planned settlement", "summary", settlement.Summary(plan))
	return plan, nil
}

// Settle plans a settlement and records each payment as a bill stamped with
// at. It returns the plan and the bills created, in payment order. If a bill
// cannot be created the bills already recorded are kept and the error is
// returned.
func (s *SettlementService) Settle(ctx context.Context, at time.Time) (models.Settlement, []models.Bill, error) {
	plan, err := s.Plan(ctx)
	if err != nil {
		return models.Settlement{}, nil, err
	}

	inputs := settlement.ToBills(plan, at)
	created := make([]models.Bill, 0, len(inputs))
	for _, in := range inputs {
		bill, _, err := s.bills.CreateBill(ctx, in)
		if err != nil {
			return plan, created, fmt.Errorf("failed to record settlement payment: %w", err)
		}
		created = append(created, bill)
	}

	s.logger.Info("settlement recorded", "summary", settlement.Summary(plan))
	return plan, created, nil
}
