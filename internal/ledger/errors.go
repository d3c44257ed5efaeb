package ledger

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrBillNotFound        = errors.New("bill not found")
	ErrCategoryNotFound    = errors.New("category not found")
	ErrPaymentModeNotFound = errors.New("payment mode not found")
)
