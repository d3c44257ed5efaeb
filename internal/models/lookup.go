package models

// PaymentMode is a lookup entry describing how a bill was paid.
// It has no role in balance computation.
type PaymentMode struct {
	ID   int
	Name string
}

// Category is a lookup entry used to classify bills.
// It has no role in balance computation.
type Category struct {
	ID   int
	Name string
}
