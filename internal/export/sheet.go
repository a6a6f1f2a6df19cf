// Package export writes booking collections to spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// sheetWriter appends rows to the sheets of one workbook.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) header(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.write(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil
	}
	first, _ := excelize.CoordinatesToCellName(1, w.row-1)
	last, _ := excelize.CoordinatesToCellName(len(columns), w.row-1)
	_ = w.file.SetCellStyle(w.sheet, first, last, style)
	_ = w.file.SetPanes(w.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

func (w *sheetWriter) write(row []any) error {
	if w.sheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &row); err != nil {
		return err
	}
	w.row++
	return nil
}

func (w *sheetWriter) widths(cols map[string]float64) {
	for col, width := range cols {
		_ = w.file.SetColWidth(w.sheet, col, col, width)
	}
}

func (w *sheetWriter) save(out io.Writer) error {
	return w.file.Write(out)
}

func (w *sheetWriter) close() error {
	return w.file.Close()
}
