package pson

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mmynk/pare/internal/calculator"
	"github.com/mmynk/pare/internal/ledger"
	"github.com/mmynk/pare/internal/storage/storagetest"
)

func TestRoundTrip(t *testing.T) {
	want := storagetest.Ledger()

	encoded, err := Codec{}.Encode(want)
	require.NoError(t, err)
	require.True(t, json.Valid(encoded))

	got, err := Codec{}.Decode(encoded)
	require.NoError(t, err)
	storagetest.AssertEqual(t, want, got)

	again, err := Codec{}.Encode(got)
	require.NoError(t, err)
	assert.Equal(t, string(encoded), string(again))
}

func TestEncodeLayout(t *testing.T) {
	encoded, err := Codec{}.Encode(storagetest.Ledger())
	require.NoError(t, err)
	doc := gjson.ParseBytes(encoded)

	assert.Equal(t, "1.0", doc.Get("meta.version").String())
	assert.Equal(t, "2024-01-02T03:04:05.123456789Z", doc.Get("meta.created").String())

	alice := doc.Get("data.users.1")
	assert.Equal(t, "Alice", alice.Get("name").String())
	assert.Equal(t, "ext-alice", alice.Get("opencloud_id").String())
	assert.Equal(t, gjson.Number, alice.Get("balance").Type)
	assert.Equal(t, "75.25", alice.Get("balance").Raw)

	charlie := doc.Get("data.users.4")
	assert.Equal(t, gjson.Null, charlie.Get("opencloud_id").Type)
	assert.Equal(t, gjson.Null, charlie.Get("balance").Type)

	bill := doc.Get("data.bills.3")
	assert.Equal(t, storagetest.TrickyDescription, bill.Get("description").String())
	assert.Equal(t, "100.5", bill.Get("total_amount").Raw)
	assert.Equal(t, int64(1), bill.Get("who_paid_id").Int())
	assert.Equal(t, int64(1704164645123), bill.Get("timestamp").Int())
	assert.Equal(t, "50.25", bill.Get("splits.7.amount").Raw)
	assert.Equal(t, int64(2), bill.Get("splits.7.user_id").Int())

	taxi := doc.Get("data.bills.5")
	assert.Equal(t, gjson.Null, taxi.Get("payment_mode_id").Type)
	assert.Equal(t, gjson.Null, taxi.Get("category_id").Type)

	var keys []string
	doc.Get("data.categories").ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7"}, keys)
}

func TestKeysInNumericOrder(t *testing.T) {
	l := ledger.New()
	for i := 0; i < 12; i++ {
		l.AddCategory("c")
	}

	encoded, err := Codec{}.Encode(l)
	require.NoError(t, err)

	out := string(encoded)
	assert.Less(t, strings.Index(out, `"2"`), strings.Index(out, `"10"`))
}

func TestDecodeHandWrittenDocument(t *testing.T) {
	content := `{
	  "meta": {"version": "1.0", "created": "2024-05-01T10:00:00.000Z", "modified": "2024-05-02T10:00:00.000Z"},
	  "data": {
	    "users": {"1": {"name": "Alice", "opencloud_id": null, "balance": null}},
	    "bills": {
	      "1": {
	        "description": "Pizza",
	        "total_amount": 24.9,
	        "who_paid_id": 1,
	        "timestamp": 1714557600000,
	        "repeat": "",
	        "payment_mode_id": 1,
	        "category_id": null,
	        "comment": "",
	        "file_link": "",
	        "splits": {"1": {"user_id": 1, "amount": 12.45}, "2": {"user_id": 2, "amount": "12.45"}}
	      }
	    }
	  }
	}`

	l, err := Codec{}.Decode([]byte(content))
	require.NoError(t, err)

	users := l.Users()
	require.Len(t, users, 1)
	assert.False(t, users[0].HasBalance())
	assert.Empty(t, users[0].ExternalID)

	bill, splits, ok := l.BillWithSplits(1)
	require.True(t, ok)
	assert.Equal(t, "24.9", bill.TotalAmount.String())
	require.Len(t, splits, 2)
	assert.Equal(t, "12.45", splits[1].Amount.String())
	assert.Empty(t, l.PaymentModes())
}

func TestDecodeSplitKeysPerBill(t *testing.T) {
	// Split keys restart at 1 in every bill.
	content := `{
	  "meta": {"version": "1.0", "created": "", "modified": ""},
	  "data": {
	    "users": {
	      "1": {"name": "Alice", "opencloud_id": null, "balance": null},
	      "2": {"name": "Bob", "opencloud_id": null, "balance": null},
	      "3": {"name": "Charlie", "opencloud_id": null, "balance": null}
	    },
	    "bills": {
	      "1": {"description": "Dinner", "total_amount": 100, "who_paid_id": 1, "timestamp": 1714557600000,
	            "splits": {"1": {"user_id": 2, "amount": 100}}},
	      "2": {"description": "Taxi", "total_amount": 30, "who_paid_id": 1, "timestamp": 1714557600000,
	            "splits": {"1": {"user_id": 3, "amount": 30}, "2": {"user_id": 1, "amount": 0}}}
	    }
	  }
	}`

	l, err := Codec{}.Decode([]byte(content))
	require.NoError(t, err)
	require.Len(t, l.AllSplits(), 3)

	first := l.Splits(1)
	require.Len(t, first, 1)
	assert.Equal(t, 2, first[0].UserID)
	assert.Equal(t, "100", first[0].Amount.String())

	second := l.Splits(2)
	require.Len(t, second, 2)
	assert.ElementsMatch(t, []int{3, 1}, []int{second[0].UserID, second[1].UserID})

	balances := calculator.CalculateFull(l.Bills(), l.AllSplits(), l.Users())
	assert.Equal(t, "130", balances[0].Balance.String())
	assert.Equal(t, "-100", balances[1].Balance.String())
	assert.Equal(t, "-30", balances[2].Balance.String())

	_, _, err = l.RemoveBill(1)
	require.NoError(t, err)
	assert.Len(t, l.Splits(2), 2)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "TABLE,users"},
		{name: "bad id", content: `{"data":{"users":{"one":{"name":"Alice"}}}}`},
		{name: "bad amount", content: `{"data":{"bills":{"1":{"total_amount":"lots"}}}}`},
		{name: "bad time", content: `{"meta":{"created":"yesterday"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Codec{}.Decode([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}
