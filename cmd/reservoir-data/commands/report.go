package commands

import (
	"os"
	"strconv"

	"reservoir-data/lib/scrapers/reservoir"
	"reservoir-data/services/opendata"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func status(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func renderResults(results []opendata.Result) {
	t := newTable()
	t.AppendHeader(table.Row{"Dataset", "Distribution", "File", "Rows", "Skipped", "Documents", "Status"})
	for _, r := range results {
		index := strconv.Itoa(r.Index)
		if r.Index < 0 {
			index = "-"
		}
		t.AppendRow(table.Row{
			r.DatasetId,
			index,
			r.Path,
			r.Stats.Rows,
			r.Stats.Skipped,
			len(r.Stats.Written),
			status(r.Err),
		})
	}
	t.Render()
}

func renderSummary(summary reservoir.Summary) {
	t := newTable()
	t.AppendHeader(table.Row{"Options", "Saved", "No data", "Failed"})
	t.AppendRow(table.Row{summary.Options, summary.Saved, summary.NoData, summary.Failed})
	t.Render()
}
