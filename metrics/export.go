package metrics

import (
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Metrics"

var exportHeadings = []string{
	"SKU", "As Of", "On Hand", "Window (days)", "Depletions", "Shipments",
	"Days On Hand", "Ship:Dep", "Depletion Trend", "Trend Direction", "Error",
}

// exportRows flattens results to one row per SKU and window. Undefined values
// render as "n/a"; a failed SKU gets a single row carrying its error.
func exportRows(results []Result) [][]any {
	var rows [][]any
	for _, r := range results {
		if r.Snapshot == nil {
			rows = append(rows, []any{r.SKU, "", "", "", "", "", "", "", "", "", r.Error})
			continue
		}
		s := r.Snapshot
		for _, w := range s.Windows {
			rows = append(rows, []any{
				s.SKU,
				s.AsOf.Format("2006-01-02"),
				s.OnHand.String(),
				w.Days,
				w.DepletionTotal.String(),
				w.ShipmentTotal.String(),
				w.DOH.String(),
				w.ShipDepRatio.String(),
				s.DepletionTrend.Ratio.String(),
				s.DepletionTrend.Direction,
				"",
			})
		}
	}
	return rows
}

// WriteWorkbook renders results as a single-sheet xlsx workbook.
func WriteWorkbook(w io.Writer, results []Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	header := make([]any, len(exportHeadings))
	for i, h := range exportHeadings {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range exportRows(results) {
		if err := f.SetSheetRow(exportSheet, "A"+strconv.Itoa(i+2), &row); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
