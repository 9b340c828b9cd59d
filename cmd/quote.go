package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/panel-quote/internal/model"
	"github.com/sells-group/panel-quote/internal/quote"
	"github.com/sells-group/panel-quote/internal/store"
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote one panel request",
	Long: `Quote one panel request and print the quotation as JSON.

The request comes from --request (a JSON file, or - for stdin) or from the
individual flags. Flags given alongside --request override its fields.`,
	Example: `  panel-quote quote --product RoofPanel --thickness 100 --length 6 --width 3.36 --span 4.5 --preset roof-standard --finish color=white
  panel-quote quote --request req.json --save`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("quote"); err != nil {
			return err
		}

		req, err := buildRequest(cmd, os.Stdin)
		if err != nil {
			return err
		}

		kb, err := initKnowledge(ctx)
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(kb)
		if err != nil {
			return err
		}

		var st store.Store
		if save, _ := cmd.Flags().GetBool("save"); save {
			if st, err = initStore(ctx); err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		pretty, _ := cmd.Flags().GetBool("pretty")
		q, err := orch.Quote(req)
		if err != nil {
			if f, ok := model.AsFailure(err); ok {
				_ = writeJSON(os.Stdout, errorBody(f.Error(), string(f.Kind), f), pretty)
			}
			return eris.Wrap(err, "quote")
		}

		if st != nil {
			rec, err := st.SaveQuote(ctx, q)
			if err != nil {
				return err
			}
			zap.L().Info("quote saved", zap.String("id", rec.ID), zap.Time("created_at", rec.CreatedAt))
		}
		return writeJSON(os.Stdout, q, pretty)
	},
}

// buildRequest reads the request file, if any, then applies flag
// overrides.
func buildRequest(cmd *cobra.Command, stdin io.Reader) (model.QuoteRequest, error) {
	var req model.QuoteRequest
	flags := cmd.Flags()

	if path, _ := flags.GetString("request"); path != "" {
		r := stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return req, eris.Wrap(err, "quote: open request")
			}
			defer f.Close() //nolint:errcheck
			r = f
		}
		if err := json.NewDecoder(r).Decode(&req); err != nil {
			return req, eris.Wrap(err, "quote: decode request")
		}
	}

	if flags.Changed("product") {
		req.Family, _ = flags.GetString("product")
	}
	if flags.Changed("thickness") {
		req.ThicknessMM, _ = flags.GetInt("thickness")
	}
	if flags.Changed("preset") {
		req.Preset, _ = flags.GetString("preset")
	}
	if flags.Changed("supports") {
		req.Supports, _ = flags.GetInt("supports")
	}
	if flags.Changed("override") {
		req.SpanOverride, _ = flags.GetBool("override")
	}
	if flags.Changed("finish") {
		finish, _ := flags.GetStringToString("finish")
		if req.Finish == nil {
			req.Finish = make(map[string]string, len(finish))
		}
		for k, v := range finish {
			req.Finish[k] = v
		}
	}

	for name, dst := range map[string]*decimal.Decimal{
		"length": &req.CoveredLength,
		"width":  &req.CoveredWidth,
		"span":   &req.RequestedSpan,
	} {
		if !flags.Changed(name) {
			continue
		}
		raw, _ := flags.GetString(name)
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return req, eris.Wrapf(err, "quote: --%s %q", name, raw)
		}
		*dst = d
	}

	return req, quote.ValidateRequest(req)
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return eris.Wrap(enc.Encode(v), "encode output")
}

func addQuoteFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("request", "", "JSON request file, or - for stdin")
	f.String("product", "", "panel family (product_id)")
	f.Int("thickness", 0, "panel thickness in mm")
	f.String("length", "", "covered length in metres")
	f.String("width", "", "covered width in metres")
	f.String("span", "", "support spacing in metres")
	f.Int("supports", 0, "support lines (default derived from length and span)")
	f.String("preset", "", "BOM preset")
	f.StringToString("finish", nil, "finish options, e.g. color=white")
	f.Bool("override", false, "quote even when the span exceeds the panel's limit")
	f.Bool("save", false, "store the quotation in the quotation log")
	f.Bool("pretty", false, "indent JSON output")
}

func init() {
	addQuoteFlags(quoteCmd)
	rootCmd.AddCommand(quoteCmd)
}
