package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/models"
)

// saveUsers inserts every user. A missing cached balance is stored as NULL.
func saveUsers(ctx context.Context, tx *sql.Tx, users []models.User) error {
	query := `
		INSERT INTO users (id, name, external_id, balance)
		VALUES (?, ?, ?, ?)
	`

	for _, u := range users {
		var balance sql.NullString
		if u.HasBalance() {
			balance = sql.NullString{String: u.Balance.Decimal.String(), Valid: true}
		}

		_, err := tx.ExecContext(ctx, query, u.ID, u.Name, u.ExternalID, balance)
		if err != nil {
			return fmt.Errorf("failed to insert user %d: %w", u.ID, err)
		}
	}

	return nil
}

// loadUsers reads all users into l.
func (s *SQLiteStore) loadUsers(ctx context.Context, l *ledger.Ledger) error {
	query := `
		SELECT id, name, external_id, balance
		FROM users
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		var balance sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &u.ExternalID, &balance); err != nil {
			return fmt.Errorf("failed to scan user: %w", err)
		}
		if balance.Valid {
			d, err := decimal.NewFromString(balance.String)
			if err != nil {
				return fmt.Errorf("failed to parse balance of user %d: %w", u.ID, err)
			}
			u.Balance = decimal.NewNullDecimal(d)
		}
		l.PutUser(u)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate users: %w", err)
	}

	return nil
}

func saveLookups(ctx context.Context, tx *sql.Tx, l *ledger.Ledger) error {
	for _, pm := range l.PaymentModes() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO payment_modes (id, name) VALUES (?, ?)", pm.ID, pm.Name); err != nil {
			return fmt.Errorf("failed to insert payment mode %d: %w", pm.ID, err)
		}
	}
	for _, c := range l.Categories() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO categories (id, name) VALUES (?, ?)", c.ID, c.Name); err != nil {
			return fmt.Errorf("failed to insert category %d: %w", c.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadLookups(ctx context.Context, l *ledger.Ledger) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM payment_modes ORDER BY id")
	if err != nil {
		return fmt.Errorf("failed to get payment modes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pm models.PaymentMode
		if err := rows.Scan(&pm.ID, &pm.Name); err != nil {
			return fmt.Errorf("failed to scan payment mode: %w", err)
		}
		l.PutPaymentMode(pm)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate payment modes: %w", err)
	}

	catRows, err := s.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY id")
	if err != nil {
		return fmt.Errorf("failed to get categories: %w", err)
	}
	defer catRows.Close()

	for catRows.Next() {
		var c models.Category
		if err := catRows.Scan(&c.ID, &c.Name); err != nil {
			return fmt.Errorf("failed to scan category: %w", err)
		}
		l.PutCategory(c)
	}
	if err := catRows.Err(); err != nil {
		return fmt.Errorf("failed to iterate categories: %w", err)
	}

	return nil
}
