package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/models"
)

var defaultPaymentModes = []string{
	"💵 Cash",
	"💳 Credit Card",
	"💳 Debit Card",
	"🏦 Bank Transfer",
	"💻 PayPal",
}

var defaultCategories = []string{
	"🍔 Food",
	"🚗 Transport",
	"💡 Utilities",
	"🎬 Entertainment",
	"🛍️ Shopping",
	"⚕️ Healthcare",
	"🔧 Equipment",
}

// EnsureDefaults makes a freshly opened ledger usable. Empty payment mode and
// category tables are seeded with defaults, and the current user is added
// with a zero balance unless an existing user already matches, by external
// identity first and display name second. It returns the current user.
//
// Calling it again on the same ledger changes nothing.
func (l *Ledger) EnsureDefaults(currentUserName, currentUserIdentity string) models.User {
	l.fillDefaults()

	if currentUserIdentity != "" {
		for _, u := range l.Users() {
			if u.ExternalID == currentUserIdentity {
				return u
			}
		}
	}
	for _, u := range l.Users() {
		if u.Name == currentUserName {
			return u
		}
	}

	return l.AddUser(models.User{
		Name:       currentUserName,
		ExternalID: currentUserIdentity,
		Balance:    decimal.NewNullDecimal(decimal.Zero),
	})
}

func (l *Ledger) fillDefaults() {
	if len(l.paymentModes) == 0 {
		for _, name := range defaultPaymentModes {
			l.AddPaymentMode(name)
		}
	}
	if len(l.categories) == 0 {
		for _, name := range defaultCategories {
			l.AddCategory(name)
		}
	}
}
