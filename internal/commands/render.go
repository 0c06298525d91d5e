package commands

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/farmtax/internal/engine"
	"github.com/cleared-dev/farmtax/internal/model"
)

var hundred = decimal.NewFromInt(100)

// newTable returns a table writer mirrored to w. Columns from rightFrom on
// hold amounts and are right-aligned.
func newTable(w io.Writer, title string, header table.Row, rightFrom int) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)

	var cols []table.ColumnConfig
	for i := rightFrom; i <= len(header); i++ {
		cols = append(cols, table.ColumnConfig{Number: i, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	t.SetColumnConfigs(cols)
	return t
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func percent(rate decimal.Decimal) string { return rate.Mul(hundred).StringFixed(2) + "%" }

func printFailures(w io.Writer, report *engine.Report) {
	for _, r := range report.Failed() {
		fmt.Fprintf(w, "skipped %s (%s): %v\n", r.Entity.ID, r.Stage, r.Err)
	}
	for _, err := range report.Orphans {
		fmt.Fprintf(w, "ignored: %v\n", err)
	}
}

func printWarnings(w io.Writer, warnings []model.PolicyLimitExceeded) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "warning: %v\n", warn)
	}
}

// selected returns the computed entities, limited to id when it is set.
func selected(report *engine.Report, id string) ([]*engine.EntityReport, error) {
	if id != "" {
		r, ok := report.Entity(id)
		if !ok {
			return nil, fmt.Errorf("unknown entity %q", id)
		}
		if !r.OK() {
			return nil, fmt.Errorf("entity %s was not computed: %w", id, r.Err)
		}
		return []*engine.EntityReport{r}, nil
	}
	var out []*engine.EntityReport
	for _, r := range report.Entities {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out, nil
}
