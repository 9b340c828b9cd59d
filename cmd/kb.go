package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/panel-quote/internal/knowledge"
	"github.com/sells-group/panel-quote/internal/resolve"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect the knowledge sources",
	Long:  "Commands for auditing the configured knowledge sources and tracing how individual keys resolve.",
}

// -- kb check --

var kbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load every source and report data problems",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("kb"); err != nil {
			return err
		}

		// Unresolved references are reported as findings rather than
		// failing the load.
		loader := knowledge.NewLoader(cfg.Opener(), false).WithTempDir(cfg.Knowledge.TempDir)
		snap, err := loader.Load(cmd.Context(), cfg.Knowledge.Sources)
		if err != nil {
			return eris.Wrap(err, "kb check")
		}

		report := knowledge.Audit(snap)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := writeJSON(os.Stdout, report, true); err != nil {
				return err
			}
		} else {
			formatReport(os.Stdout, report)
		}

		if !report.OK() {
			return eris.Errorf("kb check: %d errors", report.Count(knowledge.SeverityError))
		}
		return nil
	},
}

func formatReport(w io.Writer, r *knowledge.Report) {
	fmt.Fprintf(w, "Snapshot %s\n\n", r.Version)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tLEVEL\tKIND\tPRODUCTS\tACCESSORIES\tBOM RULES")
	for _, s := range r.Sources {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\n", s.Name, s.Level, s.Kind, s.Products, s.Accessories, s.BomRules)
	}
	tw.Flush() //nolint:errcheck

	if len(r.Findings) == 0 {
		fmt.Fprintln(w, "\nNo findings.")
		return
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tKEY\tMESSAGE")
	for _, f := range r.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Severity, f.Key, f.Message)
	}
	tw.Flush() //nolint:errcheck

	fmt.Fprintf(w, "\n%d errors, %d warnings, %d info\n",
		r.Count(knowledge.SeverityError), r.Count(knowledge.SeverityWarning), r.Count(knowledge.SeverityInfo))
}

// -- kb resolve --

var kbResolveCmd = &cobra.Command{
	Use:   "resolve <kind> <key> [thickness]",
	Short: "Show the winner, attempts and conflicts for one key",
	Long: `Show how one key resolves across the configured sources.

Kinds: product, variant, price, span (family and thickness), accessory,
accessory-price (SKU), bom-rule (preset).`,
	Example: `  panel-quote kb resolve price RoofPanel 100
  panel-quote kb resolve accessory 6842
  panel-quote kb resolve bom-rule roof-standard`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("kb"); err != nil {
			return err
		}

		kb, err := initKnowledge(cmd.Context())
		if err != nil {
			return err
		}

		res, err := resolveKey(kb.Snapshot().Resolver(), args[0], args[1:])
		if err != nil {
			return eris.Wrap(err, "kb resolve")
		}
		return writeJSON(os.Stdout, res, true)
	},
}

// resolveKey runs the lookup named by kind and returns its resolution.
func resolveKey(r *resolve.Resolver, kind string, args []string) (any, error) {
	thickness := func() (int, error) {
		if len(args) != 2 {
			return 0, eris.Errorf("%s needs a family and a thickness", kind)
		}
		mm, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, eris.Wrapf(err, "thickness %q", args[1])
		}
		return mm, nil
	}
	single := func() error {
		if len(args) != 1 {
			return eris.Errorf("%s takes exactly one key", kind)
		}
		return nil
	}

	switch kind {
	case "product":
		if err := single(); err != nil {
			return nil, err
		}
		return r.Product(args[0])
	case "variant", "price", "span":
		mm, err := thickness()
		if err != nil {
			return nil, err
		}
		switch kind {
		case "variant":
			return r.Variant(args[0], mm)
		case "price":
			return r.VariantPrice(args[0], mm)
		default:
			return r.VariantSpan(args[0], mm)
		}
	case "accessory":
		if err := single(); err != nil {
			return nil, err
		}
		return r.Accessory(args[0])
	case "accessory-price":
		if err := single(); err != nil {
			return nil, err
		}
		return r.AccessoryPrice(args[0])
	case "bom-rule":
		if err := single(); err != nil {
			return nil, err
		}
		return r.BomRule(args[0])
	default:
		return nil, eris.Errorf("unknown kind %q", kind)
	}
}

func init() {
	kbCheckCmd.Flags().Bool("json", false, "print the report as JSON")
	kbCmd.AddCommand(kbCheckCmd, kbResolveCmd)
	rootCmd.AddCommand(kbCmd)
}
