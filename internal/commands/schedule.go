package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/engine"
	"github.com/cleared-dev/farmtax/internal/model"
)

func newScheduleCommand(opts *globalOptions) *cobra.Command {
	var entityID string
	var full bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show the year's depreciation and Section 179 plan",
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
			return renderSchedules(cmd.OutOrStdout(), report, entityID, full)
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "limit output to one entity")
	cmd.Flags().BoolVar(&full, "full", false, "show each asset's full recovery schedule")

	return cmd
}

func renderSchedules(w io.Writer, report *engine.Report, entityID string, full bool) error {
	entities, err := selected(report, entityID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Section 179 budget %d: cap %s, allocated %s\n\n",
		report.Year, money(report.Budget.Cap), money(report.Budget.Consumed))

	for _, r := range entities {
		title := fmt.Sprintf("%s (%s) %d", r.Entity.Name, r.Entity.ID, report.Year)
		if len(r.Plan.Order) > 0 {
			title += fmt.Sprintf(", %s convention", r.Convention)
		}
		t := newTable(w, title, table.Row{"Asset", "Year", "Section 179", "Bonus", "MACRS", "Total", "Remaining"}, 2)
		var s179, bonus, macrs decimal.Decimal
		for _, e := range r.Depreciation {
			t.AppendRow(table.Row{e.AssetID, e.YearIndex, money(e.Section179), money(e.Bonus), money(e.MACRS), money(e.Total()), money(e.RemainingBasis)})
			s179 = s179.Add(e.Section179)
			bonus = bonus.Add(e.Bonus)
			macrs = macrs.Add(e.MACRS)
		}
		t.AppendFooter(table.Row{"Total", "", money(s179), money(bonus), money(macrs), money(r.DepreciationTotal()), ""})
		t.Render()
		if len(r.Dispositions) > 0 {
			renderDispositions(w, r.Dispositions)
		}

		plan := r.Plan
		fmt.Fprintf(w, "Section 179 elected %s of %s available (%s)\n", money(plan.Section179), money(plan.Capacity), plan.Objective)
		if plan.Infeasible {
			fmt.Fprintf(w, "no Section 179: %s\n", plan.Reason)
		}
		printWarnings(w, plan.Warnings)

		if full {
			for _, id := range slices.Sorted(maps.Keys(r.Schedules)) {
				renderFullSchedule(w, id, r.Schedules[id])
			}
		}
		fmt.Fprintln(w)
	}

	printFailures(w, report)
	return nil
}

func renderFullSchedule(w io.Writer, assetID string, entries []model.ScheduleEntry) {
	t := newTable(w, "Asset "+assetID, table.Row{"Tax year", "Beginning", "Section 179", "Bonus", "MACRS", "Remaining"}, 2)
	for _, e := range entries {
		t.AppendRow(table.Row{e.Year, money(e.BeginningBasis), money(e.Section179), money(e.Bonus), money(e.MACRS), money(e.RemainingBasis)})
	}
	t.Render()
}

func renderDispositions(w io.Writer, dispositions []model.Disposition) {
	t := newTable(w, "Dispositions", table.Row{"Asset", "Disposed", "Proceeds", "Depreciation", "Book value", "Gain (loss)", "Ordinary"}, 3)
	for _, d := range dispositions {
		t.AppendRow(table.Row{d.AssetID, d.DisposedOn.Format("2006-01-02"), money(d.Proceeds), money(d.Depreciation), money(d.BookValue), money(d.GainLoss), money(d.Ordinary)})
	}
	t.Render()
}
