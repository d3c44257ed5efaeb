package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bill represents a shared expense paid by one user.
// The amounts owed by participants are stored separately as Splits.
type Bill struct {
	// ID is the ledger-assigned identifier for the bill.
	ID int

	// Description is the human-readable name for the bill.
	Description string

	// TotalAmount is the amount the payer paid. Always positive.
	TotalAmount decimal.Decimal

	// PayerID is the user who paid the bill and is credited TotalAmount.
	PayerID int

	// OccurredAt is when the expense happened.
	OccurredAt time.Time

	// Recurrence is a free-form repeat rule (e.g. "monthly"); empty for one-off bills.
	Recurrence string

	// PaymentModeID and CategoryID reference lookup tables; nil when unset.
	PaymentModeID *int
	CategoryID    *int

	Comment string

	// AttachmentRef is an opaque link to a receipt or other file.
	AttachmentRef string
}

// Split is the amount one user owes against one bill.
//
// The splits of a bill are not required to sum to the bill total: a bill may
// only partially be shared. Keeping totals and splits consistent is the
// caller's responsibility.
type Split struct {
	ID     int
	BillID int
	UserID int
	Amount decimal.Decimal
}

// BillInput is the payload accepted by the bill mutation pipeline.
// It carries no IDs: the ledger assigns them. Decimal amounts are compared
// by the validator as floats.
type BillInput struct {
	Description   string          `validate:"required"`
	TotalAmount   decimal.Decimal `validate:"gt=0"`
	PayerID       int             `validate:"required,gt=0"`
	OccurredAt    time.Time
	Recurrence    string
	PaymentModeID *int `validate:"omitempty,gt=0"`
	CategoryID    *int `validate:"omitempty,gt=0"`
	Comment       string
	AttachmentRef string
	Splits        []SplitInput `validate:"required,min=1,dive"`
}

// SplitInput is one participant's owed amount in a BillInput.
type SplitInput struct {
	UserID int             `validate:"required,gt=0"`
	Amount decimal.Decimal `validate:"gte=0"`
}

// BillTime is t in UTC truncated to whole milliseconds, the precision every
// ledger file keeps. The zero time stays zero.
func BillTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// Bill returns the bill fields of the input. The ID is left zero and
// OccurredAt is normalized with BillTime.
func (in BillInput) Bill() Bill {
	return Bill{
		Description:   in.Description,
		TotalAmount:   in.TotalAmount,
		PayerID:       in.PayerID,
		OccurredAt:    BillTime(in.OccurredAt),
		Recurrence:    in.Recurrence,
		PaymentModeID: in.PaymentModeID,
		CategoryID:    in.CategoryID,
		Comment:       in.Comment,
		AttachmentRef: in.AttachmentRef,
	}
}

// SplitModels converts the input splits to Split values with zero IDs.
func (in BillInput) SplitModels() []Split {
	splits := make([]Split, len(in.Splits))
	for i, s := range in.Splits {
		splits[i] = Split{UserID: s.UserID, Amount: s.Amount}
	}
	return splits
}
