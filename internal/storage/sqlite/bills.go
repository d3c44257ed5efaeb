package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/models"
)

// saveBills inserts every bill followed by its splits.
func saveBills(ctx context.Context, tx *sql.Tx, l *ledger.Ledger) error {
	billQuery := `
		INSERT INTO bills (id, description, total_amount, payer_id, occurred_at,
			recurrence, payment_mode_id, category_id, comment, attachment_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	splitQuery := "INSERT INTO bill_splits (id, bill_id, user_id, amount) VALUES (?, ?, ?, ?)"

	for _, b := range l.Bills() {
		_, err := tx.ExecContext(ctx, billQuery,
			b.ID,
			b.Description,
			b.TotalAmount.String(),
			b.PayerID,
			b.OccurredAt.UnixNano(),
			b.Recurrence,
			nullID(b.PaymentModeID),
			nullID(b.CategoryID),
			b.Comment,
			b.AttachmentRef,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bill %d: %w", b.ID, err)
		}

		for _, split := range l.Splits(b.ID) {
			_, err := tx.ExecContext(ctx, splitQuery, split.ID, b.ID, split.UserID, split.Amount.String())
			if err != nil {
				return fmt.Errorf("failed to insert split %d: %w", split.ID, err)
			}
		}
	}

	return nil
}

// loadBills reads all bills with their splits into l.
func (s *SQLiteStore) loadBills(ctx context.Context, l *ledger.Ledger) error {
	splits, err := s.loadSplits(ctx)
	if err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, total_amount, payer_id, occurred_at,
			recurrence, payment_mode_id, category_id, comment, attachment_ref
		FROM bills
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("failed to get bills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			b           models.Bill
			total       string
			occurredAt  int64
			paymentMode sql.NullInt64
			category    sql.NullInt64
		)
		err := rows.Scan(&b.ID, &b.Description, &total, &b.PayerID, &occurredAt,
			&b.Recurrence, &paymentMode, &category, &b.Comment, &b.AttachmentRef)
		if err != nil {
			return fmt.Errorf("failed to scan bill: %w", err)
		}

		if b.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return fmt.Errorf("failed to parse total of bill %d: %w", b.ID, err)
		}
		b.OccurredAt = time.Unix(0, occurredAt).UTC()
		b.PaymentModeID = idPtr(paymentMode)
		b.CategoryID = idPtr(category)

		l.PutBill(b, splits[b.ID])
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate bills: %w", err)
	}

	return nil
}

func (s *SQLiteStore) loadSplits(ctx context.Context) (map[int][]models.Split, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, bill_id, user_id, amount FROM bill_splits ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to get splits: %w", err)
	}
	defer rows.Close()

	splits := make(map[int][]models.Split)
	for rows.Next() {
		var split models.Split
		var amount string
		if err := rows.Scan(&split.ID, &split.BillID, &split.UserID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		if split.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount of split %d: %w", split.ID, err)
		}
		splits[split.BillID] = append(splits[split.BillID], split)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate splits: %w", err)
	}

	return splits, nil
}

func nullID(id *int) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func idPtr(id sql.NullInt64) *int {
	if !id.Valid {
		return nil
	}
	v := int(id.Int64)
	return &v
}
