package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against ledgerPath and returns what it printed.
func run(t *testing.T, ledgerPath string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"pare", "--ledger", ledgerPath}, args...))
	require.NoError(t, err, "pare %v: %s", args, out.String())
	return out.String()
}

func setupEnv(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()
	t.Setenv("PARE_DIRECTORY_BASE_URL", "")
	t.Setenv("PARE_DEFAULT_USER_NAME", "Alice")
	t.Setenv("PARE_DEFAULT_USER_ID", "")
	t.Setenv("PARE_DB_PATH", filepath.Join(dir, "ledger.db"))
	t.Setenv("PARE_REPORT_PATH", filepath.Join(dir, "reports", "ledger.xlsx"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestSplitAndSettle(t *testing.T) {
	dir := setupEnv(t)
	ledgerPath := filepath.Join(dir, "ledger.pson")

	assert.Contains(t, run(t, ledgerPath, "add-user", "--name", "Bob"), "Added user 2: Bob")
	assert.Contains(t, run(t, ledgerPath, "add-bill", "-d", "Dinner", "-a", "30", "--with", "1,2"), "Added bill 1: Dinner (30.00)")

	out := run(t, ledgerPath, "balances")
	assert.Contains(t, out, "+15.00")
	assert.Contains(t, out, "-15.00")

	out = run(t, ledgerPath, "settle")
	assert.Contains(t, out, "1 transaction needed, total amount: 15.00")
	assert.Contains(t, out, "Bob")

	out = run(t, ledgerPath, "settle", "--apply", "--date", "2024-03-01", "--time", "18:30")
	assert.Contains(t, out, "Recorded 1 settlement bills.")

	out = run(t, ledgerPath, "balances", "--full")
	assert.Contains(t, out, "Everyone is settled up.")

	out = run(t, ledgerPath, "users")
	assert.Contains(t, out, "Alice (you)")
}

func TestDeleteBillRestoresBalances(t *testing.T) {
	dir := setupEnv(t)
	ledgerPath := filepath.Join(dir, "ledger.pcsv")

	run(t, ledgerPath, "add-user", "--name", "Bob")
	run(t, ledgerPath, "add-bill", "-d", "Taxi", "-a", "12.50", "--payer", "2", "--with", "1", "--with", "2")
	run(t, ledgerPath, "delete-bill", "--id", "1")

	assert.Contains(t, run(t, ledgerPath, "balances"), "Everyone is settled up.")
}

func TestConvertAndExport(t *testing.T) {
	dir := setupEnv(t)
	ledgerPath := filepath.Join(dir, "ledger.pson")
	converted := filepath.Join(dir, "ledger.pcsv")

	run(t, ledgerPath, "add-user", "--name", "Bob")
	run(t, ledgerPath, "add-bill", "-d", "Rent, \"March\"", "-a", "1000", "--with", "1,2")
	run(t, ledgerPath, "convert", "--out", converted)
	run(t, converted, "export-sqlite")
	run(t, converted, "export-xlsx")

	out := run(t, converted, "balances")
	assert.Contains(t, out, "+500.00")
	assert.Contains(t, out, "-500.00")
	assert.FileExists(t, filepath.Join(dir, "ledger.db"))
	assert.FileExists(t, filepath.Join(dir, "reports", "ledger.xlsx"))
}

func TestMetricsFile(t *testing.T) {
	dir := setupEnv(t)
	ledgerPath := filepath.Join(dir, "ledger.pson")
	metricsPath := filepath.Join(dir, "pare.prom")

	run(t, ledgerPath, "add-user", "--name", "Bob")
	run(t, ledgerPath, "--metrics-file", metricsPath, "add-bill", "-d", "Dinner", "-a", "30", "--with", "1,2")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pare_bill_mutations_total")
	assert.Contains(t, string(data), `op="create"`)

	// Commands that never open a ledger leave the file alone.
	require.NoError(t, os.Remove(metricsPath))
	run(t, ledgerPath, "--metrics-file", metricsPath, "search-users")
	assert.NoFileExists(t, metricsPath)
}

func TestAddItemizedBill(t *testing.T) {
	dir := setupEnv(t)
	ledgerPath := filepath.Join(dir, "ledger.pson")

	run(t, ledgerPath, "add-user", "--name", "Bob")
	run(t, ledgerPath, "add-user", "--name", "Charlie")

	// 10% on top of a 30.00 receipt: Bob had 18 alone and shared 12 with Charlie.
	out := run(t, ledgerPath, "add-bill", "-d", "Lunch", "-a", "33",
		"--item", "18:2", "--item", "12:2+3", "--subtotal", "30")
	assert.Contains(t, out, "Added bill 1: Lunch (33.00)")

	out = run(t, ledgerPath, "balances")
	assert.Contains(t, out, "+33.00")
	assert.Contains(t, out, "-26.40")
	assert.Contains(t, out, "-6.60")
}

func TestParseItem(t *testing.T) {
	tests := []struct {
		raw     string
		amount  string
		ids     []int
		wantErr bool
	}{
		{raw: "12.50:1", amount: "12.5", ids: []int{1}},
		{raw: "9:1+3", amount: "9", ids: []int{1, 3}},
		{raw: " 4.20 : 2 + 5 ", amount: "4.2", ids: []int{2, 5}},
		{raw: "12.50", wantErr: true},
		{raw: "abc:1", wantErr: true},
		{raw: "-3:1", wantErr: true},
		{raw: "3:", wantErr: true},
		{raw: "3:1+x", wantErr: true},
		{raw: "3:0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			item, err := parseItem(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.amount, item.Amount.String())
			assert.Equal(t, tt.ids, item.AssignedTo)
		})
	}
}

func TestAddBillRejectsBadInput(t *testing.T) {
	dir := setupEnv(t)
	ledgerPath := filepath.Join(dir, "ledger.pson")

	tests := []struct {
		name string
		args []string
	}{
		{"bad amount", []string{"add-bill", "-d", "x", "-a", "abc", "--with", "1"}},
		{"zero amount", []string{"add-bill", "-d", "x", "-a", "0", "--with", "1"}},
		{"bad date", []string{"add-bill", "-d", "x", "-a", "5", "--with", "1", "--date", "01/03/2024"}},
		{"no participants", []string{"add-bill", "-d", "x", "-a", "5"}},
		{"bad item", []string{"add-bill", "-d", "x", "-a", "5", "--item", "5:bob"}},
		{"zero subtotal", []string{"add-bill", "-d", "x", "-a", "5", "--item", "5:1", "--subtotal", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp()
			app.Writer = &bytes.Buffer{}
			app.ErrWriter = &bytes.Buffer{}
			err := app.Run(append([]string{"pare", "--ledger", ledgerPath}, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2024, 3, 1, 18, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		date    string
		clock   string
		want    time.Time
		wantErr bool
	}{
		{name: "defaults to now", want: time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)},
		{name: "date only", date: "2023-12-24", want: time.Date(2023, 12, 24, 18, 30, 0, 0, time.UTC)},
		{name: "time only", clock: "07:05", want: time.Date(2024, 3, 1, 7, 5, 0, 0, time.UTC)},
		{name: "both", date: "2023-12-24", clock: "20:00", want: time.Date(2023, 12, 24, 20, 0, 0, 0, time.UTC)},
		{name: "bad date", date: "24.12.2023", wantErr: true},
		{name: "bad time", clock: "8pm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWhen(tt.date, tt.clock, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}
