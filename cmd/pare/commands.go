package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mmynk/pare/internal/calculator"
	"github.com/mmynk/pare/internal/models"
	"github.com/mmynk/pare/internal/report"
	"github.com/mmynk/pare/internal/storage/file"
	"github.com/mmynk/pare/internal/storage/sqlite"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

func balancesCommand() *cli.Command {
	return &cli.Command{
		Name:  "balances",
		Usage: "show what everyone is owed or owes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full", Usage: "recompute from every bill instead of cached balances"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			var balances []models.UserBalance
			if c.Bool("full") {
				balances, err = s.bills.Recalculate(c.Context)
			} else {
				balances, err = s.bills.Balances(c.Context)
			}
			if err != nil {
				return err
			}

			printBalances(c.App.Writer, balances)
			return s.save(c.Context)
		},
	}
}

func settleCommand() *cli.Command {
	return &cli.Command{
		Name:  "settle",
		Usage: "plan the payments that clear every balance",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "apply", Usage: "record the payments as bills"},
			&cli.StringFlag{Name: "date", Usage: "payment date (YYYY-MM-DD), defaults to today"},
			&cli.StringFlag{Name: "time", Usage: "payment time (HH:MM), defaults to now"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			if !c.Bool("apply") {
				plan, err := s.settle.Plan(c.Context)
				if err != nil {
					return err
				}
				printSettlement(c.App.Writer, plan)
				return nil
			}

			at, err := parseWhen(c.String("date"), c.String("time"), time.Now())
			if err != nil {
				return err
			}
			plan, created, err := s.settle.Settle(c.Context, at)
			if err != nil && len(created) == 0 {
				return err
			}
			printSettlement(c.App.Writer, plan)
			if len(created) > 0 {
				fmt.Fprintf(c.App.Writer, "Recorded %d settlement bills.\n", len(created))
				if saveErr := s.save(c.Context); saveErr != nil {
					return errors.Join(err, saveErr)
				}
			}
			return err
		},
	}
}

func addBillCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-bill",
		Usage: "record a bill split equally or by receipt items",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Required: true},
			&cli.StringFlag{Name: "amount", Aliases: []string{"a"}, Required: true, Usage: "total paid"},
			&cli.IntFlag{Name: "payer", Usage: "user ID of the payer, defaults to the current user"},
			&cli.IntSliceFlag{Name: "with", Usage: "user IDs sharing the bill, repeat or comma-separate"},
			&cli.StringSliceFlag{Name: "item", Usage: "receipt line as <amount>:<id>[+<id>...], repeatable"},
			&cli.StringFlag{Name: "subtotal", Usage: "sum of the receipt lines before tax and tip, defaults to the items' sum"},
			&cli.StringFlag{Name: "date", Usage: "bill date (YYYY-MM-DD), defaults to today"},
			&cli.StringFlag{Name: "time", Usage: "bill time (HH:MM), defaults to now"},
			&cli.IntFlag{Name: "category", Usage: "category ID"},
			&cli.IntFlag{Name: "payment-mode", Usage: "payment mode ID"},
			&cli.StringFlag{Name: "recurrence", Usage: "repeat rule, e.g. monthly"},
			&cli.StringFlag{Name: "comment"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			total, err := decimal.NewFromString(c.String("amount"))
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.String("amount"), err)
			}
			at, err := parseWhen(c.String("date"), c.String("time"), time.Now())
			if err != nil {
				return err
			}
			splits, err := billSplits(total, c.IntSlice("with"), c.StringSlice("item"), c.String("subtotal"))
			if err != nil {
				return err
			}

			payer := c.Int("payer")
			if payer == 0 {
				payer = s.user.ID
			}

			bill, _, err := s.bills.CreateBill(c.Context, models.BillInput{
				Description:   c.String("description"),
				TotalAmount:   total,
				PayerID:       payer,
				OccurredAt:    at,
				Recurrence:    c.String("recurrence"),
				PaymentModeID: optionalID(c.Int("payment-mode")),
				CategoryID:    optionalID(c.Int("category")),
				Comment:       c.String("comment"),
				Splits:        splits,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "Added bill %d: %s (%s)\n", bill.ID, bill.Description, bill.TotalAmount.StringFixed(2))
			return s.save(c.Context)
		},
	}
}

func deleteBillCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-bill",
		Usage: "remove a bill and reverse its effect on balances",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "id", Required: true},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			if err := s.bills.DeleteBill(c.Context, c.Int("id")); err != nil {
				return err
			}
			return s.save(c.Context)
		},
	}
}

func addUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "add-user",
		Usage: "add a participant",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true},
			&cli.StringFlag{Name: "external-id", Usage: "directory ID of the user"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			u := s.bills.AddUser(c.String("name"), c.String("external-id"))
			fmt.Fprintf(c.App.Writer, "Added user %d: %s\n", u.ID, u.Name)
			return s.save(c.Context)
		},
	}
}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "list ledger users with their directory names",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			rows := make([]userRow, 0)
			for _, u := range s.bills.Users() {
				row := userRow{User: u, Current: u.ID == s.user.ID}
				if u.ExternalID != "" && s.cfg.DirectoryBaseURL != "" {
					row.DirectoryName = s.resolver.DisplayName(c.Context, u.ExternalID)
				}
				rows = append(rows, row)
			}
			printUsers(c.App.Writer, rows)
			return nil
		},
	}
}

func searchUsersCommand() *cli.Command {
	return &cli.Command{
		Name:      "search-users",
		Usage:     "search the user directory",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 10},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.ShowSubcommandHelp(c)
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			if s.cfg.DirectoryBaseURL == "" {
				return errors.New("no directory configured, set PARE_DIRECTORY_BASE_URL")
			}

			results, err := s.resolver.Search(c.Context, c.Args().First(), c.Int("limit"))
			if err != nil {
				return err
			}
			printSearchResults(c.App.Writer, results)
			return nil
		},
	}
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "write the ledger to another file, picking the encoding by extension",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "target file (.pcsv or .pson)"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			out := file.New(c.String("out"), s.logger)
			if err := out.Save(c.Context, s.bills.Ledger()); err != nil {
				return fmt.Errorf("failed to write %s: %w", out.Path(), err)
			}
			s.logger.Info("ledger converted", "from", s.store.Path(), "to", out.Path())
			return nil
		},
	}
}

func exportSQLiteCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-sqlite",
		Usage: "snapshot the ledger into the SQLite database at PARE_DB_PATH",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			db, err := sqlite.New(s.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Save(c.Context, s.bills.Ledger()); err != nil {
				return err
			}
			counts := s.bills.Ledger().Counts()
			s.logger.Info("ledger exported", "database", s.cfg.DBPath, "users", counts.Users, "bills", counts.Bills)
			return nil
		},
	}
}

func exportXLSXCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-xlsx",
		Usage: "write balances, bills and splits to a spreadsheet",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "target file (overrides PARE_REPORT_PATH)"},
		},
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}

			path := c.String("out")
			if path == "" {
				path = s.cfg.ReportPath
			}
			balances, err := s.bills.Balances(c.Context)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("failed to create report directory: %w", err)
			}
			out, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create report: %w", err)
			}
			if err := report.WriteXLSX(out, s.bills.Ledger(), balances); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			s.logger.Info("report written", "path", path)
			return nil
		},
	}
}

// billSplits splits total equally among with, or by receipt items when any
// are given. Item assignees join the participants; users named only in with
// owe nothing for an itemized bill. Tax and tip are spread in proportion to
// each person's items.
func billSplits(total decimal.Decimal, with []int, rawItems []string, rawSubtotal string) ([]models.SplitInput, error) {
	if len(rawItems) == 0 {
		return calculator.EqualSplits(total, with)
	}

	participants := slices.Clone(with)
	items := make([]calculator.Item, 0, len(rawItems))
	subtotal := decimal.Zero
	for _, raw := range rawItems {
		item, err := parseItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		subtotal = subtotal.Add(item.Amount)
		for _, id := range item.AssignedTo {
			if !slices.Contains(participants, id) {
				participants = append(participants, id)
			}
		}
	}

	if rawSubtotal != "" {
		var err error
		subtotal, err = decimal.NewFromString(rawSubtotal)
		if err != nil {
			return nil, fmt.Errorf("invalid subtotal %q: %w", rawSubtotal, err)
		}
	}
	return calculator.ItemizedSplits(items, total, subtotal, participants)
}

// parseItem reads a receipt line such as "12.50:1+3".
func parseItem(raw string) (calculator.Item, error) {
	rawAmount, rawIDs, ok := strings.Cut(raw, ":")
	if !ok {
		return calculator.Item{}, fmt.Errorf("invalid item %q: want <amount>:<id>[+<id>...]", raw)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
	if err != nil || !amount.IsPositive() {
		return calculator.Item{}, fmt.Errorf("invalid item %q: amount must be a positive number", raw)
	}

	item := calculator.Item{Description: raw, Amount: amount}
	for _, field := range strings.Split(rawIDs, "+") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || id <= 0 {
			return calculator.Item{}, fmt.Errorf("invalid item %q: bad user ID %q", raw, field)
		}
		item.AssignedTo = append(item.AssignedTo, id)
	}
	return item, nil
}

// parseWhen combines an optional date and time of day in the local zone.
// Missing parts are taken from now.
func parseWhen(date, clock string, now time.Time) (time.Time, error) {
	y, m, d := now.Date()
	if date != "" {
		t, err := time.ParseInLocation(dateLayout, date, now.Location())
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
		}
		y, m, d = t.Date()
	}

	hh, mm := now.Hour(), now.Minute()
	if clock != "" {
		t, err := time.Parse(timeLayout, clock)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q: %w", clock, err)
		}
		hh, mm = t.Hour(), t.Minute()
	}
	return time.Date(y, m, d, hh, mm, 0, 0, now.Location()), nil
}

func optionalID(id int) *int {
	if id <= 0 {
		return nil
	}
	return &id
}
