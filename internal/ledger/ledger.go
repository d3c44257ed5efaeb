// Package ledger holds the canonical in-memory representation of a shared
// expense ledger: users, bills, splits, payment modes and categories.
//
// Every table is a map keyed by ID so point lookups are O(1); aggregate
// queries scan the table and return results sorted by ID.
//
// A Ledger is not safe for concurrent mutation. Callers serialize writes
// (see service.BillService) and may read freely between mutations.
package ledger

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/models"
)

// DocumentVersion is the metadata version written for new ledgers.
const DocumentVersion = "1.0"

type table int

const (
	tableUsers table = iota
	tablePaymentModes
	tableCategories
	tableBills
	tableSplits
)

// Meta is the document metadata carried by both persistence encodings.
type Meta struct {
	Version  string
	Created  time.Time
	Modified time.Time
}

// Counts reports the number of rows per table.
type Counts struct {
	Users        int
	PaymentModes int
	Categories   int
	Bills        int
	Splits       int
}

// Ledger is the in-memory ledger store.
type Ledger struct {
	Meta Meta

	users        map[int]models.User
	paymentModes map[int]models.PaymentMode
	categories   map[int]models.Category
	bills        map[int]models.Bill
	splits       map[int]models.Split

	// billSplits indexes split IDs by owning bill.
	billSplits map[int][]int

	// highWater is the largest ID ever seen per table, so IDs freed by a
	// delete are not handed out again.
	highWater map[table]int

	revision uint64
}

// New returns an empty ledger with no metadata and no lookup rows.
func New() *Ledger {
	return &Ledger{
		users:        make(map[int]models.User),
		paymentModes: make(map[int]models.PaymentMode),
		categories:   make(map[int]models.Category),
		bills:        make(map[int]models.Bill),
		splits:       make(map[int]models.Split),
		billSplits:   make(map[int][]int),
		highWater:    make(map[table]int),
	}
}

// NewDefault returns a fresh ledger stamped with now and seeded with the
// default payment modes and categories.
func NewDefault(now time.Time) *Ledger {
	l := New()
	l.Meta = Meta{Version: DocumentVersion, Created: now, Modified: now}
	l.fillDefaults()
	return l
}

// Touch records a modification time in the metadata.
func (l *Ledger) Touch(now time.Time) {
	if l.Meta.Version == "" {
		l.Meta.Version = DocumentVersion
	}
	if l.Meta.Created.IsZero() {
		l.Meta.Created = now
	}
	l.Meta.Modified = now
}

// Revision is a counter incremented by every mutation of users, lookups,
// bills or splits. Writes to the cached balances do not advance it, so two
// reads returning the same revision observed the same authoritative content.
func (l *Ledger) Revision() uint64 {
	return l.revision
}

// Counts returns the number of rows in each table.
func (l *Ledger) Counts() Counts {
	return Counts{
		Users:        len(l.users),
		PaymentModes: len(l.paymentModes),
		Categories:   len(l.categories),
		Bills:        len(l.bills),
		Splits:       len(l.splits),
	}
}

func (l *Ledger) changed() {
	l.revision++
}

// nextID returns the next free ID for a table and reserves it.
func (l *Ledger) nextID(t table) int {
	l.highWater[t]++
	return l.highWater[t]
}

// observeID keeps the high-water mark in step with IDs supplied by callers.
func (l *Ledger) observeID(t table, id int) {
	if id > l.highWater[t] {
		l.highWater[t] = id
	}
}

// --- Users ---

// Users returns all users sorted by ID.
func (l *Ledger) Users() []models.User {
	users := make([]models.User, 0, len(l.users))
	for _, id := range slices.Sorted(maps.Keys(l.users)) {
		users = append(users, l.users[id])
	}
	return users
}

// User returns the user with the given ID.
func (l *Ledger) User(id int) (models.User, bool) {
	u, ok := l.users[id]
	return u, ok
}

// AddUser stores a new user and returns it with its assigned ID.
func (l *Ledger) AddUser(u models.User) models.User {
	u.ID = l.nextID(tableUsers)
	l.users[u.ID] = u
	l.changed()
	return u
}

// PutUser stores a user under its own ID, replacing any existing row.
func (l *Ledger) PutUser(u models.User) {
	l.observeID(tableUsers, u.ID)
	l.users[u.ID] = u
	l.changed()
}

// UpdateUser replaces the profile of an existing user. The cached balance is
// taken from u as given.
func (l *Ledger) UpdateUser(id int, u models.User) error {
	if _, ok := l.users[id]; !ok {
		return ErrUserNotFound
	}
	u.ID = id
	l.users[id] = u
	l.changed()
	return nil
}

// DeleteUser removes a user. Bills and splits referencing the user are kept.
func (l *Ledger) DeleteUser(id int) error {
	if _, ok := l.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(l.users, id)
	l.changed()
	return nil
}

// SetBalance stores a cached balance on a user. It reports false when the
// user does not exist.
func (l *Ledger) SetBalance(userID int, balance decimal.Decimal) bool {
	u, ok := l.users[userID]
	if !ok {
		return false
	}
	u.Balance = decimal.NewNullDecimal(balance)
	l.users[userID] = u
	return true
}

// ClearBalance drops the cached balance of one user. It reports false when
// the user does not exist.
func (l *Ledger) ClearBalance(userID int) bool {
	u, ok := l.users[userID]
	if !ok {
		return false
	}
	u.Balance = decimal.NullDecimal{}
	l.users[userID] = u
	return true
}

// ClearBalances drops every cached balance.
func (l *Ledger) ClearBalances() {
	for id, u := range l.users {
		u.Balance = decimal.NullDecimal{}
		l.users[id] = u
	}
}

// UserBills returns the IDs of bills the user pays for or owes on.
func (l *Ledger) UserBills(userID int) []int {
	var ids []int
	for billID, b := range l.bills {
		if b.PayerID == userID {
			ids = append(ids, billID)
			continue
		}
		for _, splitID := range l.billSplits[billID] {
			if l.splits[splitID].UserID == userID {
				ids = append(ids, billID)
				break
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// --- Payment modes & categories ---

// PaymentModes returns all payment modes sorted by ID.
func (l *Ledger) PaymentModes() []models.PaymentMode {
	modes := make([]models.PaymentMode, 0, len(l.paymentModes))
	for _, id := range slices.Sorted(maps.Keys(l.paymentModes)) {
		modes = append(modes, l.paymentModes[id])
	}
	return modes
}

// AddPaymentMode stores a new payment mode with the next free ID.
func (l *Ledger) AddPaymentMode(name string) models.PaymentMode {
	pm := models.PaymentMode{ID: l.nextID(tablePaymentModes), Name: name}
	l.paymentModes[pm.ID] = pm
	l.changed()
	return pm
}

// PutPaymentMode stores a payment mode under its own ID.
func (l *Ledger) PutPaymentMode(pm models.PaymentMode) {
	l.observeID(tablePaymentModes, pm.ID)
	l.paymentModes[pm.ID] = pm
	l.changed()
}

// UpdatePaymentMode renames an existing payment mode.
func (l *Ledger) UpdatePaymentMode(id int, name string) error {
	if _, ok := l.paymentModes[id]; !ok {
		return ErrPaymentModeNotFound
	}
	l.paymentModes[id] = models.PaymentMode{ID: id, Name: name}
	l.changed()
	return nil
}

// DeletePaymentMode removes a payment mode. Bills keep their reference.
func (l *Ledger) DeletePaymentMode(id int) error {
	if _, ok := l.paymentModes[id]; !ok {
		return ErrPaymentModeNotFound
	}
	delete(l.paymentModes, id)
	l.changed()
	return nil
}

// Categories returns all categories sorted by ID.
func (l *Ledger) Categories() []models.Category {
	categories := make([]models.Category, 0, len(l.categories))
	for _, id := range slices.Sorted(maps.Keys(l.categories)) {
		categories = append(categories, l.categories[id])
	}
	return categories
}

// AddCategory stores a new category with the next free ID.
func (l *Ledger) AddCategory(name string) models.Category {
	c := models.Category{ID: l.nextID(tableCategories), Name: name}
	l.categories[c.ID] = c
	l.changed()
	return c
}

// PutCategory stores a category under its own ID.
func (l *Ledger) PutCategory(c models.Category) {
	l.observeID(tableCategories, c.ID)
	l.categories[c.ID] = c
	l.changed()
}

// UpdateCategory renames an existing category.
func (l *Ledger) UpdateCategory(id int, name string) error {
	if _, ok := l.categories[id]; !ok {
		return ErrCategoryNotFound
	}
	l.categories[id] = models.Category{ID: id, Name: name}
	l.changed()
	return nil
}

// DeleteCategory removes a category. Bills keep their reference.
func (l *Ledger) DeleteCategory(id int) error {
	if _, ok := l.categories[id]; !ok {
		return ErrCategoryNotFound
	}
	delete(l.categories, id)
	l.changed()
	return nil
}

// --- Bills & splits ---

// Bills returns all bills sorted by ID.
func (l *Ledger) Bills() []models.Bill {
	bills := make([]models.Bill, 0, len(l.bills))
	for _, id := range slices.Sorted(maps.Keys(l.bills)) {
		bills = append(bills, cloneBill(l.bills[id]))
	}
	return bills
}

// Bill returns the bill with the given ID.
func (l *Ledger) Bill(id int) (models.Bill, bool) {
	b, ok := l.bills[id]
	if !ok {
		return models.Bill{}, false
	}
	return cloneBill(b), true
}

// Splits returns the splits of one bill sorted by ID. Unknown bills yield an
// empty slice.
func (l *Ledger) Splits(billID int) []models.Split {
	ids := l.billSplits[billID]
	splits := make([]models.Split, 0, len(ids))
	for _, id := range ids {
		splits = append(splits, l.splits[id])
	}
	return splits
}

// AllSplits returns every split sorted by ID.
func (l *Ledger) AllSplits() []models.Split {
	splits := make([]models.Split, 0, len(l.splits))
	for _, id := range slices.Sorted(maps.Keys(l.splits)) {
		splits = append(splits, l.splits[id])
	}
	return splits
}

// BillWithSplits returns a bill together with its splits.
func (l *Ledger) BillWithSplits(id int) (models.Bill, []models.Split, bool) {
	b, ok := l.Bill(id)
	if !ok {
		return models.Bill{}, nil, false
	}
	return b, l.Splits(id), true
}

// InsertBill stores a new bill and its splits, assigning fresh IDs to both.
//
// InsertBill, ReplaceBill and RemoveBill do not touch cached balances. Use
// service.BillService, which keeps balances in step with the bill tables.
func (l *Ledger) InsertBill(b models.Bill, splits []models.Split) (models.Bill, []models.Split) {
	b.ID = l.nextID(tableBills)
	l.bills[b.ID] = cloneBill(b)
	stored := l.writeSplits(b.ID, splits, true)
	l.changed()
	return cloneBill(b), stored
}

// ReplaceBill overwrites an existing bill. Its old splits are deleted and the
// new ones are stored with fresh IDs.
func (l *Ledger) ReplaceBill(id int, b models.Bill, splits []models.Split) (models.Bill, []models.Split, error) {
	if _, ok := l.bills[id]; !ok {
		return models.Bill{}, nil, ErrBillNotFound
	}
	b.ID = id
	l.dropSplits(id)
	l.bills[id] = cloneBill(b)
	stored := l.writeSplits(id, splits, true)
	l.changed()
	return cloneBill(b), stored, nil
}

// RemoveBill deletes a bill and its splits and returns what was removed.
func (l *Ledger) RemoveBill(id int) (models.Bill, []models.Split, error) {
	b, splits, ok := l.BillWithSplits(id)
	if !ok {
		return models.Bill{}, nil, ErrBillNotFound
	}
	l.dropSplits(id)
	delete(l.bills, id)
	l.changed()
	return b, splits, nil
}

// PutBill stores a bill and its splits under their own IDs, replacing any
// existing bill with the same ID. Splits with a zero ID, or with an ID that
// already belongs to another bill, get a fresh one.
// It is used by decoders and to roll back a failed mutation.
func (l *Ledger) PutBill(b models.Bill, splits []models.Split) {
	l.observeID(tableBills, b.ID)
	l.dropSplits(b.ID)
	l.bills[b.ID] = cloneBill(b)
	l.writeSplits(b.ID, splits, false)
	l.changed()
}

func (l *Ledger) writeSplits(billID int, splits []models.Split, fresh bool) []models.Split {
	stored := make([]models.Split, 0, len(splits))
	for _, s := range splits {
		if _, taken := l.splits[s.ID]; fresh || s.ID == 0 || taken {
			s.ID = l.nextID(tableSplits)
		} else {
			l.observeID(tableSplits, s.ID)
		}
		s.BillID = billID
		l.splits[s.ID] = s
		l.billSplits[billID] = append(l.billSplits[billID], s.ID)
		stored = append(stored, s)
	}
	slices.Sort(l.billSplits[billID])
	return stored
}

func (l *Ledger) dropSplits(billID int) {
	for _, id := range l.billSplits[billID] {
		delete(l.splits, id)
	}
	delete(l.billSplits, billID)
}

func cloneBill(b models.Bill) models.Bill {
	if b.PaymentModeID != nil {
		id := *b.PaymentModeID
		b.PaymentModeID = &id
	}
	if b.CategoryID != nil {
		id := *b.CategoryID
		b.CategoryID = &id
	}
	return b
}
