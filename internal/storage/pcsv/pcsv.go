// Package pcsv implements the tabular ledger encoding: a sequence of CSV
// tables, each introduced by a "TABLE,<name>" line and a header row, with a
// blank line between tables.
//
//	TABLE,users
//	id,name,opencloud_id,balance
//	1,Alice,,12.5
//
//	TABLE,bills
//	...
//
// Amounts are decimal strings, bill timestamps are Unix milliseconds and an
// empty cell stands for a missing balance or lookup reference. Line breaks in
// text cells are written as LF: CSV readers fold a quoted CRLF into LF, so a
// CRLF would not survive a save and load anyway.
package pcsv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/models"
	"github.com/mmynk/pare/internal/storage"
)

var _ storage.Codec = Codec{}

const tableMarker = "TABLE"

// Table names in canonical write order.
const (
	TableMeta         = "meta"
	TableUsers        = "users"
	TablePaymentModes = "payment_mode"
	TableCategories   = "category"
	TableBills        = "bills"
	TableSplits       = "bill_splits"
)

var headers = map[string][]string{
	TableMeta:         {"version", "created", "modified"},
	TableUsers:        {"id", "name", "opencloud_id", "balance"},
	TablePaymentModes: {"id", "name"},
	TableCategories:   {"id", "name"},
	TableBills: {
		"id", "description", "total_amount", "who_paid_id", "timestamp",
		"repeat", "payment_mode_id", "category_id", "comment", "file_link",
	},
	TableSplits: {"id", "bill_id", "user_id", "amount"},
}

// Codec is the tabular encoding.
type Codec struct{}

type table struct {
	name   string
	header []string
	rows   [][]string
}

// Encode writes every table in canonical order. Empty tables are kept so the
// header documents the columns.
func (Codec) Encode(l *ledger.Ledger) ([]byte, error) {
	var buf bytes.Buffer
	for _, t := range tables(l) {
		fmt.Fprintf(&buf, "%s,%s\n", tableMarker, t.name)

		w := csv.NewWriter(&buf)
		if err := w.Write(t.header); err != nil {
			return nil, fmt.Errorf("failed to write %s header: %w", t.name, err)
		}
		if err := w.WriteAll(t.rows); err != nil {
			return nil, fmt.Errorf("failed to write %s rows: %w", t.name, err)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func tables(l *ledger.Ledger) []table {
	meta := table{name: TableMeta, header: headers[TableMeta]}
	if l.Meta != (ledger.Meta{}) {
		meta.rows = append(meta.rows, []string{l.Meta.Version, formatTime(l.Meta.Created), formatTime(l.Meta.Modified)})
	}

	users := table{name: TableUsers, header: headers[TableUsers]}
	for _, u := range l.Users() {
		balance := ""
		if u.HasBalance() {
			balance = u.Balance.Decimal.String()
		}
		users.rows = append(users.rows, []string{strconv.Itoa(u.ID), text(u.Name), text(u.ExternalID), balance})
	}

	modes := table{name: TablePaymentModes, header: headers[TablePaymentModes]}
	for _, pm := range l.PaymentModes() {
		modes.rows = append(modes.rows, []string{strconv.Itoa(pm.ID), text(pm.Name)})
	}

	categories := table{name: TableCategories, header: headers[TableCategories]}
	for _, c := range l.Categories() {
		categories.rows = append(categories.rows, []string{strconv.Itoa(c.ID), text(c.Name)})
	}

	bills := table{name: TableBills, header: headers[TableBills]}
	for _, b := range l.Bills() {
		bills.rows = append(bills.rows, []string{
			strconv.Itoa(b.ID),
			text(b.Description),
			b.TotalAmount.String(),
			strconv.Itoa(b.PayerID),
			strconv.FormatInt(b.OccurredAt.UnixMilli(), 10),
			text(b.Recurrence),
			formatOptionalID(b.PaymentModeID),
			formatOptionalID(b.CategoryID),
			text(b.Comment),
			text(b.AttachmentRef),
		})
	}

	splits := table{name: TableSplits, header: headers[TableSplits]}
	for _, s := range l.AllSplits() {
		splits.rows = append(splits.rows, []string{
			strconv.Itoa(s.ID),
			strconv.Itoa(s.BillID),
			strconv.Itoa(s.UserID),
			s.Amount.String(),
		})
	}

	return []table{meta, users, modes, categories, bills, splits}
}

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// text normalizes line breaks in a free-text cell to LF.
func text(s string) string {
	return lineBreaks.Replace(s)
}

// Decode parses tabular content. Table names are matched case-insensitively,
// unknown tables are ignored and columns are located by header name. Splits
// pointing at a bill that does not exist are dropped.
func (Codec) Decode(data []byte) (*ledger.Ledger, error) {
	parsed, err := parse(data)
	if err != nil {
		return nil, err
	}

	l := ledger.New()
	if t, ok := parsed[TableMeta]; ok && len(t.rows) > 0 {
		if l.Meta, err = decodeMeta(t.cells(0)); err != nil {
			return nil, err
		}
	}

	if t, ok := parsed[TableUsers]; ok {
		for i := range t.rows {
			u, err := decodeUser(t.cells(i))
			if err != nil {
				return nil, fmt.Errorf("users row %d: %w", i+1, err)
			}
			l.PutUser(u)
		}
	}

	if t, ok := parsed[TablePaymentModes]; ok {
		for i := range t.rows {
			r := t.cells(i)
			id, err := r.getInt("id")
			if err != nil {
				return nil, fmt.Errorf("payment_mode row %d: %w", i+1, err)
			}
			l.PutPaymentMode(models.PaymentMode{ID: id, Name: r.get("name")})
		}
	}

	if t, ok := parsed[TableCategories]; ok {
		for i := range t.rows {
			r := t.cells(i)
			id, err := r.getInt("id")
			if err != nil {
				return nil, fmt.Errorf("category row %d: %w", i+1, err)
			}
			l.PutCategory(models.Category{ID: id, Name: r.get("name")})
		}
	}

	splitsByBill := make(map[int][]models.Split)
	if t, ok := parsed[TableSplits]; ok {
		for i := range t.rows {
			s, err := decodeSplit(t.cells(i))
			if err != nil {
				return nil, fmt.Errorf("bill_splits row %d: %w", i+1, err)
			}
			splitsByBill[s.BillID] = append(splitsByBill[s.BillID], s)
		}
	}

	if t, ok := parsed[TableBills]; ok {
		for i := range t.rows {
			b, err := decodeBill(t.cells(i))
			if err != nil {
				return nil, fmt.Errorf("bills row %d: %w", i+1, err)
			}
			l.PutBill(b, splitsByBill[b.ID])
		}
	}

	return l, nil
}

// parse splits content into tables keyed by lower-cased name.
func parse(data []byte) (map[string]*table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	tables := make(map[string]*table)
	var current *table
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse pcsv: %w", err)
		}

		if len(record) == 2 && record[0] == tableMarker {
			name := strings.ToLower(strings.TrimSpace(record[1]))
			current = &table{name: name}
			tables[name] = current
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("failed to parse pcsv: row before first table")
		}
		if current.header == nil {
			for i, h := range record {
				record[i] = strings.ToLower(strings.TrimSpace(h))
			}
			current.header = record
			continue
		}
		current.rows = append(current.rows, record)
	}
	return tables, nil
}

// row reads cells by column name.
type row map[string]string

func (t *table) cells(i int) row {
	r := make(row, len(t.header))
	for col, name := range t.header {
		if col < len(t.rows[i]) {
			r[name] = t.rows[i][col]
		}
	}
	return r
}

func (r row) get(col string) string {
	return r[col]
}

func (r row) getInt(col string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(r[col]))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", col, r[col])
	}
	return v, nil
}

func (r row) getOptionalInt(col string) (*int, error) {
	if strings.TrimSpace(r[col]) == "" {
		return nil, nil
	}
	v, err := r.getInt(col)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r row) getDecimal(col string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(r[col]))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", col, r[col])
	}
	return v, nil
}

func decodeMeta(r row) (ledger.Meta, error) {
	created, err := parseTime(r.get("created"))
	if err != nil {
		return ledger.Meta{}, fmt.Errorf("meta: invalid created: %w", err)
	}
	modified, err := parseTime(r.get("modified"))
	if err != nil {
		return ledger.Meta{}, fmt.Errorf("meta: invalid modified: %w", err)
	}
	return ledger.Meta{Version: r.get("version"), Created: created, Modified: modified}, nil
}

func decodeUser(r row) (models.User, error) {
	id, err := r.getInt("id")
	if err != nil {
		return models.User{}, err
	}
	u := models.User{ID: id, Name: r.get("name"), ExternalID: r.get("opencloud_id")}
	if strings.TrimSpace(r.get("balance")) != "" {
		balance, err := r.getDecimal("balance")
		if err != nil {
			return models.User{}, err
		}
		u.Balance = decimal.NewNullDecimal(balance)
	}
	return u, nil
}

func decodeBill(r row) (models.Bill, error) {
	id, err := r.getInt("id")
	if err != nil {
		return models.Bill{}, err
	}
	total, err := r.getDecimal("total_amount")
	if err != nil {
		return models.Bill{}, err
	}
	payer, err := r.getInt("who_paid_id")
	if err != nil {
		return models.Bill{}, err
	}
	millis, err := strconv.ParseInt(strings.TrimSpace(r.get("timestamp")), 10, 64)
	if err != nil {
		return models.Bill{}, fmt.Errorf("invalid timestamp %q", r.get("timestamp"))
	}
	paymentMode, err := r.getOptionalInt("payment_mode_id")
	if err != nil {
		return models.Bill{}, err
	}
	category, err := r.getOptionalInt("category_id")
	if err != nil {
		return models.Bill{}, err
	}

	return models.Bill{
		ID:            id,
		Description:   r.get("description"),
		TotalAmount:   total,
		PayerID:       payer,
		OccurredAt:    time.UnixMilli(millis).UTC(),
		Recurrence:    r.get("repeat"),
		PaymentModeID: paymentMode,
		CategoryID:    category,
		Comment:       r.get("comment"),
		AttachmentRef: r.get("file_link"),
	}, nil
}

func decodeSplit(r row) (models.Split, error) {
	id, err := r.getInt("id")
	if err != nil {
		return models.Split{}, err
	}
	billID, err := r.getInt("bill_id")
	if err != nil {
		return models.Split{}, err
	}
	userID, err := r.getInt("user_id")
	if err != nil {
		return models.Split{}, err
	}
	amount, err := r.getDecimal("amount")
	if err != nil {
		return models.Split{}, err
	}
	return models.Split{ID: id, BillID: billID, UserID: userID, Amount: amount}, nil
}

func formatOptionalID(id *int) string {
	if id == nil {
		return ""
	}
	return strconv.Itoa(*id)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
