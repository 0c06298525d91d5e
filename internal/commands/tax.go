package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/engine"
	"github.com/cleared-dev/farmtax/internal/history"
)

func newTaxCommand(opts *globalOptions) *cobra.Command {
	var entityID string
	var lines bool
	var record bool
	var scenario string

	cmd := &cobra.Command{
		Use:   "tax",
		Short: "Compute each entity's Schedule F profit and tax liability",
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
			out := cmd.OutOrStdout()
			if err := renderTax(out, report, entityID, lines); err != nil {
				return err
			}
			if !record {
				return nil
			}
			records := taxRecords(time.Now().UTC(), scenario, report)
			if err := history.Append(p.root, records); err != nil {
				return fmt.Errorf("recording history: %w", err)
			}
			fmt.Fprintf(out, "Recorded %d results as %q\n", len(records), scenario)
			return nil
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "limit output to one entity")
	cmd.Flags().BoolVar(&lines, "lines", false, "show Schedule F lines")
	cmd.Flags().BoolVar(&record, "record", false, "append results to logs/tax-history.csv")
	cmd.Flags().StringVar(&scenario, "scenario", "default", "scenario name for recorded results")

	return cmd
}

func renderTax(w io.Writer, report *engine.Report, entityID string, lines bool) error {
	entities, err := selected(report, entityID)
	if err != nil {
		return err
	}

	t := newTable(w, fmt.Sprintf("Tax year %d", report.Year),
		table.Row{"Entity", "Income", "Expenses", "Depreciation", "Net profit", "SE tax", "Federal", "State", "Total", "Effective"}, 2)
	for _, r := range entities {
		s, res := r.Summary, r.Tax
		t.AppendRow(table.Row{
			r.Entity.ID, money(s.TotalIncome), money(s.TotalExpenses), money(s.Depreciation), money(s.NetProfit),
			money(res.SE.Total), money(res.FederalTax), fmt.Sprintf("%s %s", res.State, money(res.StateTax)),
			money(res.TotalLiability), percent(res.EffectiveRate),
		})
	}
	t.Render()

	for _, r := range entities {
		if pc := r.Summary.Prepaid; pc.Exceeded {
			fmt.Fprintf(w, "%s: prepaid expenses %s exceed the limit %s; %s carried to %d\n",
				r.Entity.ID, money(pc.Prepaid), money(pc.Limit), money(pc.Excess), report.Year+1)
		}
	}

	if lines {
		for _, r := range entities {
			lt := newTable(w, "Schedule F: "+r.Entity.Name, table.Row{"Line", "Category", "Amount"}, 3)
			for _, l := range r.Summary.Lines() {
				lt.AppendRow(table.Row{l.Line, l.Category, money(l.Amount)})
			}
			lt.AppendFooter(table.Row{"34", "Net farm profit", money(r.Summary.NetProfit)})
			lt.Render()
		}
	}

	printWarnings(w, report.Warnings)
	printFailures(w, report)
	return nil
}

// taxRecords converts a report into history rows, including the combined
// result when consolidation ran.
func taxRecords(ts time.Time, scenario string, report *engine.Report) []history.Record {
	var records []history.Record
	for _, r := range report.Entities {
		if !r.OK() {
			continue
		}
		records = append(records, history.FromResult(ts, scenario, r.Tax, r.DepreciationTotal(), r.Plan.Section179))
	}
	if c := report.Consolidated; c != nil {
		s179 := decimal.Zero
		for _, r := range report.Entities {
			s179 = s179.Add(r.Plan.Section179)
		}
		records = append(records, history.FromResult(ts, scenario, c.Combined, c.Depreciation, s179))
	}
	return records
}
