package commands

import (
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/farmtax/internal/history"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var scenario string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded tax results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(opts.dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			records, err := history.Read(root)
			if err != nil {
				return err
			}
			records = history.Filter(records, opts.year, scenario)

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No recorded results")
				return nil
			}
			t := newTable(out, "", table.Row{"Recorded", "Scenario", "Year", "Entity", "Net profit", "Depreciation", "Section 179", "Total", "Effective"}, 5)
			for _, r := range records {
				t.AppendRow(table.Row{
					r.Timestamp.Format("2006-01-02 15:04"), r.Scenario, r.Year, r.EntityID,
					money(r.NetProfit), money(r.Depreciation), money(r.Section179), money(r.TotalLiability), percent(r.EffectiveRate),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&scenario, "scenario", "", "only show this scenario")

	return cmd
}
