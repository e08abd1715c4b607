// Package export renders report output as CSV or XLSX files.
package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Table is a rendered report: a header row plus data rows, already
// formatted as strings.
type Table struct {
	Name    string
	Headers []string
	Rows    [][]string
}

// WriteCSV writes the table as RFC 4180 CSV.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes each table as one worksheet of a workbook.
func WriteXLSX(w io.Writer, tables ...Table) error {
	f := xlsx.NewFile()
	for _, t := range tables {
		name := t.Name
		if name == "" {
			name = "Report"
		}
		sheet, err := f.AddSheet(name)
		if err != nil {
			return eris.Wrapf(err, "export: add sheet %s", name)
		}
		header := sheet.AddRow()
		for _, h := range t.Headers {
			header.AddCell().SetString(h)
		}
		for _, row := range t.Rows {
			r := sheet.AddRow()
			for _, v := range row {
				r.AddCell().SetString(v)
			}
		}
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}
