package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/model"
	"github.com/cleared-dev/farmtax/internal/taxtable"
)

func newTablesCommand(opts *globalOptions) *cobra.Command {
	var brackets bool

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the registered tax tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderTables(out, p.tables)
			if !brackets {
				return nil
			}
			y, err := p.tables.Lookup(p.cfg.TaxYear)
			if err != nil {
				return err
			}
			return renderBrackets(out, y, p.cfg.FilingStatus(), p.cfg.State())
		},
	}

	cmd.Flags().BoolVar(&brackets, "brackets", false, "show the configured year's brackets for the taxpayer's filing status")

	return cmd
}

func renderTables(w io.Writer, reg *taxtable.Registry) {
	t := newTable(w, "Tax tables", table.Row{"Year", "179 cap", "Phase-out", "Bonus", "SS wage base", "States"}, 2)
	for _, y := range reg.Tables() {
		states := slices.Sorted(maps.Keys(y.States))
		t.AppendRow(table.Row{
			y.Year, money(y.Section179.Cap), money(y.Section179.PhaseOutThreshold),
			percent(y.BonusRate), money(y.SelfEmployment.WageBase), strings.Join(states, " "),
		})
	}
	t.Render()
}

func renderBrackets(w io.Writer, y *taxtable.Year, status model.FilingStatus, stateCode string) error {
	fed, err := y.FederalBrackets(status)
	if err != nil {
		return err
	}
	deduction, err := y.StandardDeduction(status)
	if err != nil {
		return err
	}
	renderBracketTable(w, fmt.Sprintf("Federal %d %s (standard deduction %s)", y.Year, status, money(deduction)), fed)

	st, err := y.State(stateCode)
	if err != nil {
		return err
	}
	if b := st.Brackets[status]; len(b) > 0 {
		renderBracketTable(w, fmt.Sprintf("%s %d %s", stateCode, y.Year, status), b)
	} else {
		fmt.Fprintf(w, "%s has no income tax brackets for %d\n", stateCode, y.Year)
	}
	return nil
}

func renderBracketTable(w io.Writer, title string, brackets taxtable.Brackets) {
	t := newTable(w, title, table.Row{"Over", "Rate"}, 1)
	for _, b := range brackets {
		t.AppendRow(table.Row{money(b.Over), percent(b.Rate)})
	}
	t.Render()
}
