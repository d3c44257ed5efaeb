// Package report exports a ledger as a spreadsheet for people who want to
// look at the numbers outside pare.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/models"
)

// Sheet names, in workbook order.
const (
	SheetBalances = "Balances"
	SheetBills    = "Bills"
	SheetSplits   = "Splits"
)

const defaultSheet = "Sheet1"

var (
	balanceHeadings = []string{"User ID", "Name", "Balance"}
	billHeadings    = []string{"Bill ID", "Date", "Description", "Paid By", "Total", "Category", "Payment Mode", "Recurrence", "Comment"}
	splitHeadings   = []string{"Split ID", "Bill ID", "User", "Amount"}
)

// WriteXLSX writes a workbook with one sheet of balances, one of bills and
// one of splits. Amounts are written as numbers rounded to cents; user,
// category and payment mode IDs are replaced by their names.
func WriteXLSX(w io.Writer, l *ledger.Ledger, balances []models.UserBalance) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(defaultSheet, SheetBalances); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for _, name := range []string{SheetBills, SheetSplits} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}

	names := lookupNames(l)

	rows := make([][]any, 0, len(balances))
	for _, b := range balances {
		rows = append(rows, []any{b.UserID, b.Name, cents(b.Balance)})
	}
	if err := writeSheet(f, SheetBalances, balanceHeadings, rows); err != nil {
		return err
	}

	bills := l.Bills()
	rows = make([][]any, 0, len(bills))
	for _, b := range bills {
		rows = append(rows, []any{
			b.ID,
			b.OccurredAt.Format(time.DateTime),
			b.Description,
			names.user(b.PayerID),
			cents(b.TotalAmount),
			names.category(b.CategoryID),
			names.paymentMode(b.PaymentModeID),
			b.Recurrence,
			b.Comment,
		})
	}
	if err := writeSheet(f, SheetBills, billHeadings, rows); err != nil {
		return err
	}

	splits := l.AllSplits()
	rows = make([][]any, 0, len(splits))
	for _, s := range splits {
		rows = append(rows, []any{s.ID, s.BillID, names.user(s.UserID), cents(s.Amount)})
	}
	if err := writeSheet(f, SheetSplits, splitHeadings, rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headings []string, rows [][]any) error {
	for col, h := range headings {
		if err := setCell(f, sheet, col+1, 1, h); err != nil {
			return err
		}
	}
	for i, row := range rows {
		for col, v := range row {
			if err := setCell(f, sheet, col+1, i+2, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func setCell(f *excelize.File, sheet string, col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("failed to address cell: %w", err)
	}
	if err := f.SetCellValue(sheet, cell, v); err != nil {
		return fmt.Errorf("failed to set %s!%s: %w", sheet, cell, err)
	}
	return nil
}

func cents(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

type nameIndex struct {
	users        map[int]string
	categories   map[int]string
	paymentModes map[int]string
}

func lookupNames(l *ledger.Ledger) nameIndex {
	idx := nameIndex{
		users:        make(map[int]string),
		categories:   make(map[int]string),
		paymentModes: make(map[int]string),
	}
	for _, u := range l.Users() {
		idx.users[u.ID] = u.Name
	}
	for _, c := range l.Categories() {
		idx.categories[c.ID] = c.Name
	}
	for _, pm := range l.PaymentModes() {
		idx.paymentModes[pm.ID] = pm.Name
	}
	return idx
}

func (idx nameIndex) user(id int) string {
	if name, ok := idx.users[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func (idx nameIndex) category(id *int) string {
	if id == nil {
		return ""
	}
	return idx.categories[*id]
}

func (idx nameIndex) paymentMode(id *int) string {
	if id == nil {
		return ""
	}
	return idx.paymentModes[*id]
}
