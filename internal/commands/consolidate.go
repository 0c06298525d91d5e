package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/consolidate"
	"github.com/cleared-dev/farmtax/internal/engine"
)

func newConsolidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Compare per-entity and combined taxpayer liability",
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
				printFailures(cmd.ErrOrStderr(), report)
				return err
			}
			renderConsolidated(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

// consolidated returns the combined figures or explains why there are none.
func consolidated(report *engine.Report) (*consolidate.Summary, error) {
	if report.Consolidated != nil {
		return report.Consolidated, nil
	}
	if n := len(report.Failed()); n > 0 {
		return nil, fmt.Errorf("no combined result: %d of %d entities failed", n, len(report.Entities))
	}
	return nil, errors.New("no combined result: no entities to consolidate")
}

func renderConsolidated(w io.Writer, s *consolidate.Summary) {
	et := newTable(w, fmt.Sprintf("Entities %d", s.Year), table.Row{"Entity", "Income", "Expenses", "Depreciation", "Net profit"}, 2)
	for _, e := range s.Entities {
		et.AppendRow(table.Row{e.Summary.EntityID, money(e.Summary.TotalIncome), money(e.Summary.TotalExpenses), money(e.Summary.Depreciation), money(e.Summary.NetProfit)})
	}
	et.AppendFooter(table.Row{"Total", money(s.TotalIncome), money(s.TotalExpenses), money(s.Depreciation), money(s.NetProfit)})
	et.Render()

	sum, comb := s.SumOfEntities, s.Combined
	ct := newTable(w, "Liability", table.Row{"", "Sum of entities", "Combined"}, 2)
	ct.AppendRows([]table.Row{
		{"Net profit", money(sum.NetProfit), money(comb.NetProfit)},
		{"SE tax", money(sum.SE.Total), money(comb.SE.Total)},
		{"Federal taxable income", money(sum.FederalTaxableIncome), money(comb.FederalTaxableIncome)},
		{"Federal tax", money(sum.FederalTax), money(comb.FederalTax)},
		{"State taxable income", money(sum.StateTaxableIncome), money(comb.StateTaxableIncome)},
		{"State tax", money(sum.StateTax), money(comb.StateTax)},
		{"Total liability", money(sum.TotalLiability), money(comb.TotalLiability)},
		{"Effective rate", percent(sum.EffectiveRate), percent(comb.EffectiveRate)},
	})
	ct.Render()

	if s.WageBaseExcess.IsPositive() {
		fmt.Fprintf(w, "Social Security wage base: per-entity figures overstate SE tax by %s\n", money(s.WageBaseExcess))
	}
}
