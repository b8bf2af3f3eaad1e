package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kirillkom/ledger-autopilot/internal/core/domain"
	"github.com/kirillkom/ledger-autopilot/internal/core/usecase"
	"github.com/kirillkom/ledger-autopilot/internal/infrastructure/taxconfig"
)

type taxCalcOptions struct {
	base      string
	journal   string
	file      string
	preset    string
	date      string
	precision int32
	asJSON    bool
}

func newTaxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tax",
		Short: "Tax configuration tools",
		Long: `Inspect tax presets, validate tax configuration files and run calculations.

Examples:
  ledgerctl tax presets
  ledgerctl tax validate --file ./taxes.yaml
  ledgerctl tax calc --base 100000 --journal VTE --preset BF`,
	}
	cmd.AddCommand(newTaxPresetsCommand())
	cmd.AddCommand(newTaxValidateCommand())
	cmd.AddCommand(newTaxCalcCommand())
	return cmd
}

func newTaxPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the embedded country presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRESET\tTAXES\tCODES")
			for _, name := range taxconfig.Presets() {
				provider, err := taxconfig.LoadPreset(name)
				if err != nil {
					return err
				}
				configs, err := provider.TaxConfigurations(cmd.Context())
				if err != nil {
					return err
				}
				codes := make([]string, 0, len(configs))
				for _, c := range configs {
					codes = append(codes, c.Code)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", name, len(configs), strings.Join(codes, ","))
			}
			return w.Flush()
		},
	}
}

func newTaxValidateCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a tax configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := taxconfig.LoadFile(file)
			if err != nil {
				return err
			}
			configs, err := provider.TaxConfigurations(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid tax configurations for %s\n", file, len(configs), provider.Country())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "tax configuration YAML file (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTaxCalcCommand() *cobra.Command {
	opts := taxCalcOptions{}
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Calculate the taxes of one operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTaxCalc(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.base, "base", "", "taxable base amount (required)")
	cmd.Flags().StringVar(&opts.journal, "journal", "", "journal code, e.g. VTE, ACH, PAIE (required)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "tax configuration YAML file")
	cmd.Flags().StringVar(&opts.preset, "preset", "BF", "embedded preset used when --file is not set")
	cmd.Flags().StringVar(&opts.date, "date", "", "operation date YYYY-MM-DD (default today)")
	cmd.Flags().Int32Var(&opts.precision, "precision", 2, "currency decimal places")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("journal")
	cmd.MarkFlagsMutuallyExclusive("file", "preset")
	return cmd
}

func runTaxCalc(cmd *cobra.Command, opts taxCalcOptions) error {
	base, err := decimal.NewFromString(strings.TrimSpace(opts.base))
	if err != nil {
		return fmt.Errorf("invalid --base %q: %w", opts.base, err)
	}
	date := time.Now().UTC()
	if opts.date != "" {
		date, err = time.Parse(time.DateOnly, opts.date)
		if err != nil {
			return errors.New("--date must be YYYY-MM-DD")
		}
	}

	provider, err := taxconfig.Load(opts.file, opts.preset)
	if err != nil {
		return err
	}
	result, err := usecase.NewTaxService(provider, opts.precision).
		CalculateOperation(cmd.Context(), base, strings.ToUpper(opts.journal), date)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printTaxes(cmd, result)
}

func printTaxes(cmd *cobra.Command, result domain.OperationTaxes) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "CODE\tBASE\tRATE\tTAX\t")
	for _, r := range result.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", r.Code, r.Base.StringFixed(2), r.RateApplied.String(), r.Tax.StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nexcl. tax  %s\n", result.AmountExclTax.StringFixed(2))
	fmt.Fprintf(out, "total tax  %s\n", result.TotalTax.StringFixed(2))
	fmt.Fprintf(out, "incl. tax  %s\n", result.AmountInclTax.StringFixed(2))
	for _, r := range result.Results {
		if r.EdgeCase {
			fmt.Fprintf(out, "warning: %s %s\n", r.Code, r.EdgeReason)
		}
	}
	return nil
}
