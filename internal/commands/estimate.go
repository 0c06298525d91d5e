package commands

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/config"
	"github.com/cleared-dev/farmtax/internal/tax"
)

func newEstimateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Plan quarterly estimated tax payments",
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

			est, err := tax.EstimatePayments(estimateInput(p.cfg, summary.Combined.TotalLiability))
			if err != nil {
				return err
			}
			renderEstimate(cmd.OutOrStdout(), est)
			return nil
		},
	}
}

func estimateInput(cfg *config.Config, annual decimal.Decimal) tax.EstimateInput {
	in := tax.EstimateInput{
		Year:         cfg.TaxYear,
		FilingStatus: cfg.FilingStatus(),
		AnnualTax:    annual,
		Paid:         cfg.Estimates.Payments,
	}
	if e := cfg.Estimates; e.PriorYearTax != nil {
		prior := &tax.PriorYear{Tax: *e.PriorYearTax}
		if e.PriorYearAGI != nil {
			prior.AGI = *e.PriorYearAGI
		}
		in.Prior = prior
	}
	return in
}

func renderEstimate(w io.Writer, est tax.Estimate) {
	t := newTable(w, fmt.Sprintf("Estimated payments %d (%s)", est.Year, est.Basis),
		table.Row{"Quarter", "Due", "Amount", "Paid"}, 3)
	for _, in := range est.Installments {
		t.AppendRow(table.Row{fmt.Sprintf("Q%d", in.Quarter), in.Due.Format("2006-01-02"), money(in.Amount), money(in.Paid)})
	}
	t.AppendFooter(table.Row{"Total", "", money(est.Required), money(est.TotalPaid)})
	t.Render()

	fmt.Fprintf(w, "Remaining %s; next payment %s\n", money(est.Remaining), money(est.RecommendedNext))
}
