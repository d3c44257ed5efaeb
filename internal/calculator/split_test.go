package calculator

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/pare/internal/models"
)

func amounts(splits []models.SplitInput) map[int]decimal.Decimal {
	m := make(map[int]decimal.Decimal, len(splits))
	for _, s := range splits {
		m[s.UserID] = s.Amount
	}
	return m
}

func sumInputs(splits []models.SplitInput) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range splits {
		sum = sum.Add(s.Amount)
	}
	return sum
}

func TestItemizedSplits(t *testing.T) {
	const alice, bob, charlie = 1, 2, 3

	tests := []struct {
		name         string
		items        []Item
		total        string
		subtotal     string
		participants []int
		wantErr      bool
		want         map[int]string
	}{
		{
			name: "simple two-person split with tax",
			items: []Item{
				{Description: "Pizza", Amount: d("20"), AssignedTo: []int{alice, bob}},
				{Description: "Salad", Amount: d("10"), AssignedTo: []int{alice}},
			},
			total:        "33",
			subtotal:     "30",
			participants: []int{alice, bob},
			// Alice: subtotal = 10 + 10 = 20, tax = 2, total = 22
			// Bob: subtotal = 10, tax = 1, total = 11
			want: map[int]string{alice: "22", bob: "11"},
		},
		{
			name:         "zero subtotal should error",
			items:        []Item{{Description: "Item", Amount: d("10"), AssignedTo: []int{alice}}},
			total:        "10",
			subtotal:     "0",
			participants: []int{alice},
			wantErr:      true,
		},
		{
			name:         "no participants should error",
			items:        []Item{{Description: "Item", Amount: d("10"), AssignedTo: []int{alice}}},
			total:        "10",
			subtotal:     "10",
			participants: []int{},
			wantErr:      true,
		},
		{
			name:         "no items - split equally among participants",
			total:        "33",
			subtotal:     "30",
			participants: []int{alice, bob},
			want:         map[int]string{alice: "16.5", bob: "16.5"},
		},
		{
			name:         "no items - three people split",
			total:        "90",
			subtotal:     "75",
			participants: []int{alice, bob, charlie},
			want:         map[int]string{alice: "30", bob: "30", charlie: "30"},
		},
		{
			name: "uneven tax distributes leftover cents",
			items: []Item{
				{Description: "Shared plate", Amount: d("10"), AssignedTo: []int{alice, bob, charlie}},
			},
			total:        "11",
			subtotal:     "10",
			participants: []int{alice, bob, charlie},
			// 11 / 3 = 3.666..., floored to 3.66 each with 0.02 left over
			want: map[int]string{alice: "3.67", bob: "3.67", charlie: "3.66"},
		},
		{
			name: "unassigned items are left out",
			items: []Item{
				{Description: "Wine", Amount: d("20"), AssignedTo: []int{bob}},
				{Description: "Corkage", Amount: d("5")},
			},
			total:        "25",
			subtotal:     "25",
			participants: []int{alice, bob},
			want:         map[int]string{alice: "0", bob: "20"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := ItemizedSplits(tt.items, d(tt.total), d(tt.subtotal), tt.participants)
			if (err != nil) != tt.wantErr {
				t.Errorf("ItemizedSplits() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			got := amounts(splits)
			for user, want := range tt.want {
				if !got[user].Equal(d(want)) {
					t.Errorf("user %d owes %s, want %s", user, got[user], want)
				}
			}
		})
	}
}

func TestEqualSplits(t *testing.T) {
	tests := []struct {
		name  string
		total string
		users []int
		want  []string
	}{
		{name: "even", total: "90", users: []int{1, 2, 3}, want: []string{"30", "30", "30"}},
		{name: "one leftover cent", total: "100", users: []int{1, 2, 3}, want: []string{"33.34", "33.33", "33.33"}},
		{name: "single user", total: "12.34", users: []int{7}, want: []string{"12.34"}},
		{name: "duplicate users merged", total: "10", users: []int{1, 2, 1}, want: []string{"6.67", "3.33"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := EqualSplits(d(tt.total), tt.users)
			if err != nil {
				t.Fatalf("EqualSplits() error = %v", err)
			}
			if len(splits) != len(tt.want) {
				t.Fatalf("got %d splits, want %d", len(splits), len(tt.want))
			}
			for i, want := range tt.want {
				if !splits[i].Amount.Equal(d(want)) {
					t.Errorf("split %d = %s, want %s", i, splits[i].Amount, want)
				}
			}
			if !sumInputs(splits).Equal(d(tt.total)) {
				t.Errorf("splits sum to %s, want %s", sumInputs(splits), tt.total)
			}
		})
	}

	if _, err := EqualSplits(d("10"), nil); err == nil {
		t.Error("EqualSplits() with no users should error")
	}
}

func TestSplitMismatch(t *testing.T) {
	splits := []models.Split{{UserID: 2, Amount: d("50")}}

	if gap := SplitMismatch(d("100"), splits); !gap.Equal(d("50")) {
		t.Errorf("SplitMismatch() = %s, want 50", gap)
	}
	if gap := SplitMismatch(d("50"), splits); !gap.IsZero() {
		t.Errorf("SplitMismatch() = %s, want 0", gap)
	}
}
