package replay

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Render writes the report as tables.
func (r *Report) Render(w io.Writer) error {
	t := r.Totals()

	summary := table.NewWriter()
	summary.SetStyle(table.StyleRounded)
	summary.SetTitle(fmt.Sprintf("Replay seed %d", r.Seed))
	summary.AppendRows([]table.Row{
		{"cycles", len(r.Cycles)},
		{"signals generated", r.Signals},
		{"signals resent", r.Resent},
		{"polls", t.Polled},
		{"fetched", t.Fetched},
		{"duplicates", t.Duplicates},
		{"relevant", t.Relevant},
		{"stories created", t.Created},
		{"merges", t.Merged},
		{"fuzzy merges", t.FuzzyMerged},
		{"needs review", r.NeedsReview},
		{"published", r.Published},
		{"confirmed", r.Confirmed},
		{"refuted", r.Refuted},
		{"retracted", r.Retracted},
		{"violations", len(r.Violations)},
		{"took", r.Duration.Round(time.Millisecond).String()},
	})
	summary.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	sources := table.NewWriter()
	sources.SetStyle(table.StyleRounded)
	sources.AppendHeader(table.Row{"Source", "Tier", "Region", "Signals", "Relevant", "Confirmed", "False", "Score", "Trend"})
	for _, s := range r.Sources {
		sources.AppendRow(table.Row{
			s.Source.ID,
			s.Source.Tier,
			s.Source.Region,
			s.Metric.TotalSignals,
			s.Metric.TransferRelatedSignals,
			s.Metric.ConfirmedOutcomes,
			s.Metric.FalsePositives,
			strconv.FormatFloat(s.Score, 'f', 3, 64),
			s.Metric.Trend,
		})
	}
	aligns := make([]table.ColumnConfig, 0, 6)
	for n := 4; n <= 8; n++ {
		aligns = append(aligns, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	sources.SetColumnConfigs(aligns)

	if _, err := fmt.Fprintf(w, "%s\n%s\n", summary.Render(), sources.Render()); err != nil {
		return err
	}
	if r.OK() {
		return nil
	}

	violations := table.NewWriter()
	violations.SetStyle(table.StyleRounded)
	violations.AppendHeader(table.Row{"Check", "Detail"})
	for _, v := range r.Violations {
		violations.AppendRow(table.Row{v.Check, v.Detail})
	}
	_, err := fmt.Fprintln(w, violations.Render())
	return err
}
