// Package pson implements the document ledger encoding: a JSON object with a
// metadata block and a data block whose tables are objects keyed by
// stringified numeric ID. A bill carries its splits inline.
//
//	{
//	  "meta": {"version": "1.0", "created": "...", "modified": "..."},
//	  "data": {
//	    "users": {"1": {"name": "Alice", "opencloud_id": null, "balance": 12.5}},
//	    "payment_modes": {...},
//	    "categories": {...},
//	    "bills": {"1": {"description": "...", "splits": {"1": {"user_id": 2, "amount": 50}}}}
//	  }
//	}
package pson

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/models"
	"github.com/mmynk/pare/internal/storage"
)

var _ storage.Codec = Codec{}

// Codec is the document encoding.
type Codec struct{}

type document struct {
	Meta meta `json:"meta"`
	Data data `json:"data"`
}

type meta struct {
	Version  string `json:"version"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
}

type data struct {
	Users        idMap[user]  `json:"users"`
	PaymentModes idMap[named] `json:"payment_modes"`
	Categories   idMap[named] `json:"categories"`
	Bills        idMap[bill]  `json:"bills"`
}

type user struct {
	Name        string  `json:"name"`
	OpenCloudID *string `json:"opencloud_id"`
	Balance     *number `json:"balance"`
}

type named struct {
	Name string `json:"name"`
}

type bill struct {
	Description   string       `json:"description"`
	TotalAmount   number       `json:"total_amount"`
	WhoPaidID     int          `json:"who_paid_id"`
	Timestamp     int64        `json:"timestamp"`
	Repeat        string       `json:"repeat"`
	PaymentModeID *int         `json:"payment_mode_id"`
	CategoryID    *int         `json:"category_id"`
	Comment       string       `json:"comment"`
	FileLink      string       `json:"file_link"`
	Splits        idMap[split] `json:"splits"`
}

type split struct {
	UserID int    `json:"user_id"`
	Amount number `json:"amount"`
}

// Encode renders the ledger as indented JSON with IDs in ascending order.
func (Codec) Encode(l *ledger.Ledger) ([]byte, error) {
	doc := document{
		Meta: meta{
			Version:  l.Meta.Version,
			Created:  formatTime(l.Meta.Created),
			Modified: formatTime(l.Meta.Modified),
		},
		Data: data{
			Users:        idMap[user]{},
			PaymentModes: idMap[named]{},
			Categories:   idMap[named]{},
			Bills:        idMap[bill]{},
		},
	}

	for _, u := range l.Users() {
		entry := user{Name: u.Name}
		if u.ExternalID != "" {
			id := u.ExternalID
			entry.OpenCloudID = &id
		}
		if u.HasBalance() {
			balance := number(u.Balance.Decimal)
			entry.Balance = &balance
		}
		doc.Data.Users[u.ID] = entry
	}
	for _, pm := range l.PaymentModes() {
		doc.Data.PaymentModes[pm.ID] = named{Name: pm.Name}
	}
	for _, c := range l.Categories() {
		doc.Data.Categories[c.ID] = named{Name: c.Name}
	}
	for _, b := range l.Bills() {
		splits := idMap[split]{}
		for _, s := range l.Splits(b.ID) {
			splits[s.ID] = split{UserID: s.UserID, Amount: number(s.Amount)}
		}
		doc.Data.Bills[b.ID] = bill{
			Description:   b.Description,
			TotalAmount:   number(b.TotalAmount),
			WhoPaidID:     b.PayerID,
			Timestamp:     b.OccurredAt.UnixMilli(),
			Repeat:        b.Recurrence,
			PaymentModeID: b.PaymentModeID,
			CategoryID:    b.CategoryID,
			Comment:       b.Comment,
			FileLink:      b.AttachmentRef,
			Splits:        splits,
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode pson: %w", err)
	}
	return out, nil
}

// Decode parses document content. Missing tables decode as empty.
func (Codec) Decode(raw []byte) (*ledger.Ledger, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pson: %w", err)
	}

	created, err := parseTime(doc.Meta.Created)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pson: invalid created: %w", err)
	}
	modified, err := parseTime(doc.Meta.Modified)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pson: invalid modified: %w", err)
	}

	l := ledger.New()
	l.Meta = ledger.Meta{Version: doc.Meta.Version, Created: created, Modified: modified}

	for _, id := range doc.Data.Users.ids() {
		entry := doc.Data.Users[id]
		u := models.User{ID: id, Name: entry.Name}
		if entry.OpenCloudID != nil {
			u.ExternalID = *entry.OpenCloudID
		}
		if entry.Balance != nil {
			u.Balance = decimal.NewNullDecimal(decimal.Decimal(*entry.Balance))
		}
		l.PutUser(u)
	}
	for _, id := range doc.Data.PaymentModes.ids() {
		l.PutPaymentMode(models.PaymentMode{ID: id, Name: doc.Data.PaymentModes[id].Name})
	}
	for _, id := range doc.Data.Categories.ids() {
		l.PutCategory(models.Category{ID: id, Name: doc.Data.Categories[id].Name})
	}
	for _, id := range doc.Data.Bills.ids() {
		entry := doc.Data.Bills[id]
		var splits []models.Split
		for _, splitID := range entry.Splits.ids() {
			s := entry.Splits[splitID]
			splits = append(splits, models.Split{
				ID:     splitID,
				BillID: id,
				UserID: s.UserID,
				Amount: decimal.Decimal(s.Amount),
			})
		}
		l.PutBill(models.Bill{
			ID:            id,
			Description:   entry.Description,
			TotalAmount:   decimal.Decimal(entry.TotalAmount),
			PayerID:       entry.WhoPaidID,
			OccurredAt:    time.UnixMilli(entry.Timestamp).UTC(),
			Recurrence:    entry.Repeat,
			PaymentModeID: entry.PaymentModeID,
			CategoryID:    entry.CategoryID,
			Comment:       entry.Comment,
			AttachmentRef: entry.FileLink,
		}, splits)
	}

	return l, nil
}

// idMap is a table keyed by numeric ID. It marshals as an object whose keys
// are in ascending numeric order.
type idMap[T any] map[int]T

func (m idMap[T]) ids() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m idMap[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range m.ids() {
		if i > 0 {
			buf.WriteByte(',')
		}
		value, err := json.Marshal(m[id])
		if err != nil {
			return nil, err
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(id)))
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *idMap[T]) UnmarshalJSON(raw []byte) error {
	var byKey map[string]T
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return err
	}
	out := make(idMap[T], len(byKey))
	for key, value := range byKey {
		id, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid id %q", key)
		}
		out[id] = value
	}
	*m = out
	return nil
}

// number is a decimal written as a bare JSON number.
type number decimal.Decimal

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

func (n *number) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		return nil
	}
	d, err := decimal.NewFromString(string(bytes.Trim(raw, `"`)))
	if err != nil {
		return fmt.Errorf("invalid amount %s", raw)
	}
	*n = number(d)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
