package commands

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/averaging"
	"github.com/cleared-dev/farmtax/internal/config"
)

func newAverageCommand(opts *globalOptions) *cobra.Command {
	var elect string

	cmd := &cobra.Command{
		Use:   "average",
		Short: "Evaluate farm income averaging (Schedule J)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			report, err := p.run(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := consolidated(report)
			if err != nil {
				return err
			}

			in, err := averagingInput(p.cfg, summary.Combined.FederalTaxableIncome, summary.NetProfit, elect)
			if err != nil {
				return err
			}
			res, err := averaging.New(p.tables).Evaluate(in)
			if err != nil {
				return err
			}
			renderAveraging(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&elect, "elect", "", "elected farm income (default: config, else income above the prior-year average)")

	return cmd
}

func averagingInput(cfg *config.Config, taxable, farmProfit decimal.Decimal, elect string) (averaging.Input, error) {
	base := cfg.Averaging.BaseYears
	if len(base) == 0 {
		return averaging.Input{}, errors.New("averaging.base_years is not set in " + config.FileName)
	}

	in := averaging.Input{
		Year:                 cfg.TaxYear,
		FilingStatus:         cfg.FilingStatus(),
		CurrentTaxableIncome: taxable,
	}
	for _, y := range slices.Sorted(maps.Keys(base)) {
		in.BaseYears = append(in.BaseYears, averaging.BaseYear{Year: y, TaxableIncome: base[y]})
	}

	switch {
	case elect != "":
		amount, err := decimal.NewFromString(elect)
		if err != nil {
			return averaging.Input{}, fmt.Errorf("parsing --elect %q: %w", elect, err)
		}
		in.ElectedFarmIncome = amount
	case cfg.Averaging.ElectedFarmIncome != nil:
		in.ElectedFarmIncome = *cfg.Averaging.ElectedFarmIncome
	default:
		prior := cfg.Averaging.PriorFarmIncome
		var history []decimal.Decimal
		for _, y := range slices.Sorted(maps.Keys(prior)) {
			history = append(history, prior[y])
		}
		in.ElectedFarmIncome = averaging.SuggestElection(farmProfit, history)
	}
	return in, nil
}

func renderAveraging(w io.Writer, res averaging.Result) {
	t := newTable(w, fmt.Sprintf("Farm income averaging %d: %s elected", res.Year, money(res.Elected)),
		table.Row{"Base year", "Taxable", "Added", "Tax before", "Tax after", "Increase"}, 2)
	for _, b := range res.Breakdown {
		t.AppendRow(table.Row{b.Year, money(b.BaseTaxable), money(b.Added), money(b.BaseTax), money(b.AveragedTax), money(b.Increase)})
	}
	t.Render()

	fmt.Fprintf(w, "Ordinary tax:  %s\n", money(res.OrdinaryTax))
	fmt.Fprintf(w, "Averaged tax:  %s (current-year residual %s)\n", money(res.AveragedTax), money(res.ResidualTax))
	if res.UseAveraging {
		fmt.Fprintf(w, "Elect averaging: saves %s\n", money(res.Savings))
	} else {
		fmt.Fprintln(w, "Averaging does not lower tax; file without Schedule J")
	}
	printWarnings(w, res.Warnings)
}
