package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/mmynk/pare/internal/calculator"
	"github.com/mmynk/pare/internal/identity"
	"github.com/mmynk/pare/internal/models"
	"github.com/mmynk/pare/internal/settlement"
)

var (
	owedColor = color.New(color.FgGreen)
	owesColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

type userRow struct {
	models.User
	Current       bool
	DirectoryName string
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printBalances(w io.Writer, balances []models.UserBalance) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tBALANCE")
	for _, b := range balances {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", b.UserID, b.Name, formatBalance(b.Balance.StringFixed(2), b.Balance.Sign()))
	}
	tw.Flush()

	if calculator.IsSettled(balances) {
		dimColor.Fprintln(w, "Everyone is settled up.")
	}
}

func formatBalance(amount string, sign int) string {
	switch {
	case sign > 0:
		return owedColor.Sprint("+" + amount)
	case sign < 0:
		return owesColor.Sprint(amount)
	default:
		return amount
	}
}

func printSettlement(w io.Writer, plan models.Settlement) {
	fmt.Fprintln(w, settlement.Summary(plan))
	if len(plan.Transactions) == 0 {
		return
	}

	tw := newTable(w)
	for _, tx := range plan.Transactions {
		fmt.Fprintf(tw, "%s\t->\t%s\t%s\n", tx.FromUserName, tx.ToUserName, tx.Amount.StringFixed(2))
	}
	tw.Flush()
}

func printUsers(w io.Writer, rows []userRow) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tDIRECTORY\tBALANCE")
	for _, r := range rows {
		name := r.Name
		if r.Current {
			name += " (you)"
		}
		balance := dimColor.Sprint("-")
		if r.HasBalance() {
			v := r.Balance.Decimal
			balance = formatBalance(v.StringFixed(2), v.Sign())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, name, r.DirectoryName, balance)
	}
	tw.Flush()
}

func printSearchResults(w io.Writer, results []identity.SearchResult) {
	if len(results) == 0 {
		dimColor.Fprintln(w, "No users found.")
		return
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "EXTERNAL ID\tNAME\tUSERNAME\tMAIL")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.DisplayName, r.Username, r.Mail)
	}
	tw.Flush()
}
