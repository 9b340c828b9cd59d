package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/panel-quote/internal/store"
)

var quotesCmd = &cobra.Command{
	Use:   "quotes",
	Short: "Inspect the quotation log",
	Long:  "Commands for listing and viewing stored quotations.",
}

// -- quotes list --

var quotesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored quotations, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("quotes"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		product, _ := cmd.Flags().GetString("product")
		preset, _ := cmd.Flags().GetString("preset")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		recs, err := st.ListQuotes(ctx, store.QuoteFilter{
			Family: product,
			Preset: preset,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "quotes list")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No quotations found.")
			return nil
		}

		formatQuotesList(os.Stdout, recs)
		return nil
	},
}

func formatQuotesList(w io.Writer, recs []store.QuoteRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRODUCT\tMM\tPRESET\tTOTAL\tCREATED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s %s\t%s\n",
			shortID(r.ID), r.Family, r.ThicknessMM, r.Preset,
			r.GrandTotal.StringFixed(2), r.Currency,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// -- quotes show --

var quotesShowCmd = &cobra.Command{
	Use:   "show <quote-id>",
	Short: "Show a stored quotation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("quotes"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetQuote(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "quotes show")
		}
		return writeJSON(os.Stdout, rec, true)
	},
}

func init() {
	quotesListCmd.Flags().String("product", "", "filter by panel family")
	quotesListCmd.Flags().String("preset", "", "filter by BOM preset")
	quotesListCmd.Flags().Int("limit", 20, "maximum rows")
	quotesListCmd.Flags().Int("offset", 0, "rows to skip")
	quotesCmd.AddCommand(quotesListCmd, quotesShowCmd)
	rootCmd.AddCommand(quotesCmd)
}
