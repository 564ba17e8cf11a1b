package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/masrouf/pkg/api"
	"github.com/ArionMiles/masrouf/pkg/extractor"
	"github.com/ArionMiles/masrouf/pkg/ledger"
)

func formatAmount(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func printResult(w io.Writer, res ledger.Result, s api.Settings) {
	e := res.Expense
	if res.Duplicate {
		fmt.Fprintf(w, "Already recorded as #%d\n", e.ID)
		return
	}

	fmt.Fprintf(w, "Recorded #%d: %s %s  %s  %s", e.ID, formatAmount(e.Amount), s.Currency, e.Category, e.Date.Format(time.DateOnly))
	if e.Notes != "" {
		fmt.Fprintf(w, "  (%s)", e.Notes)
	}
	fmt.Fprintln(w)
	if res.CategoryAdded {
		fmt.Fprintf(w, "New category: %s\n", e.Category)
	}
	fmt.Fprintf(w, "Month total: %s %s\n", formatAmount(res.MonthTotal), s.Currency)
	if res.PersistErr != nil {
		fmt.Fprintf(w, "Warning: not saved: %v\n", res.PersistErr)
	}
}

func printExpenses(w io.Writer, expenses []api.Expense, currency string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tAMOUNT\tCATEGORY\tNOTES")
	for _, e := range expenses {
		fmt.Fprintf(tw, "%d\t%s\t%s %s\t%s\t%s\n",
			e.ID, e.Date.Format(time.DateOnly), formatAmount(e.Amount), currency, e.Category, e.Notes)
	}
	_ = tw.Flush()
}

func (a *app) addCmd() *cobra.Command {
	var (
		amount   float64
		category string
		date     string
		notes    string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an expense from explicit fields",
		Example: `  masrouf add --amount 150 --category طعام --notes غداء
  masrouf add --amount 40 --category مواصلات --date 2025-03-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var when time.Time
			if date != "" {
				t, err := time.ParseInLocation(time.DateOnly, date, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
				}
				when = t
			}

			l, closeStore, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := l.AddManual(ctx, ledger.ManualEntry{
				Amount:   amount,
				Category: category,
				Date:     when,
				Notes:    notes,
			})
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res, l.Settings())
			return nil
		},
	}

	cmd.Flags().Float64Var(&amount, "amount", 0, "amount spent")
	cmd.Flags().StringVar(&category, "category", "", "category label")
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func (a *app) parseCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "parse TEXT...",
		Short: "Extract an expense from Arabic text",
		Long: `Parse shows what would be recorded for a message. With --save the
expense is recorded as if it had arrived over chat.`,
		Example: `  masrouf parse صرفت 150 بطاطس
  masrouf parse --save "دفعت 500 فواتير كهرباء"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			text := strings.Join(args, " ")

			if !save {
				x, ok := extractor.New().Extract(text)
				if !ok {
					return fmt.Errorf("no expense found in %q", text)
				}
				fmt.Fprintf(out, "Amount:   %s\n", formatAmount(x.Amount))
				fmt.Fprintf(out, "Category: %s\n", x.Category)
				if x.Notes != "" {
					fmt.Fprintf(out, "Notes:    %s\n", x.Notes)
				}
				fmt.Fprintf(out, "Pattern:  %s\n", x.Pattern)
				return nil
			}

			l, closeStore, err := a.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := l.IngestText(ctx, text, api.SourceChat, "")
			if errors.Is(err, ledger.ErrNoMatch) {
				return fmt.Errorf("no expense found in %q", text)
			}
			if err != nil {
				return err
			}
			printResult(out, res, l.Settings())
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "record the extracted expense")
	return cmd
}

func (a *app) recentCmd() *cobra.Command {
	var (
		limit    int
		query    string
		category string
		month    string
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent expenses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			switch ledger.MonthFilter(month) {
			case ledger.MonthAll, ledger.MonthCurrent, ledger.MonthLast:
			default:
				return fmt.Errorf("unknown --month %q (all, current, last)", month)
			}

			l, closeStore, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			var expenses []api.Expense
			if query == "" && category == "" && ledger.MonthFilter(month) == ledger.MonthAll {
				expenses = l.Recent(limit)
			} else {
				expenses = l.Expenses(ledger.Filter{Query: query, Category: category, Month: ledger.MonthFilter(month)})
				if len(expenses) > limit {
					expenses = expenses[:limit]
				}
			}

			out := cmd.OutOrStdout()
			if len(expenses) == 0 {
				fmt.Fprintln(out, "No expenses found.")
				return nil
			}
			printExpenses(out, expenses, l.Settings().Currency)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", ledger.DefaultRecent, "number of expenses to show")
	cmd.Flags().StringVarP(&query, "query", "q", "", "match category or notes")
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().StringVar(&month, "month", string(ledger.MonthAll), "all, current or last")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize this month against the budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, closeStore, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			s := l.Summary(l.Now())
			out := cmd.OutOrStdout()
			cur := s.Currency

			fmt.Fprintf(out, "Month:          %d-%02d\n", s.Year, int(s.Month))
			fmt.Fprintf(out, "Total:          %s %s (%d expenses)\n", formatAmount(s.MonthTotal), cur, s.MonthCount)
			fmt.Fprintf(out, "Daily average:  %s %s\n", formatAmount(s.DailyAverage), cur)
			fmt.Fprintf(out, "Highest:        %s %s\n", formatAmount(s.HighestExpense), cur)
			fmt.Fprintf(out, "Budget:         %s %s (%s%% used, %s)\n", formatAmount(s.Budget), cur, formatAmount(s.Percent), s.Level)
			fmt.Fprintf(out, "Remaining:      %s %s\n", formatAmount(s.Remaining), cur)

			if len(s.Breakdown) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tTOTAL\tCOUNT\tSHARE")
			for _, c := range s.Breakdown {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s%%\n", c.Category, formatAmount(c.Total), c.Count, formatAmount(c.Percent))
			}
			return tw.Flush()
		},
	}
}
