package saft

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"
)

// WorkbookSink collects every entity table into one XLSX workbook, a sheet
// per entity, written out on Close. Unlike DirSink it buffers rows, so it is
// meant for review-sized outputs, not the multi-gigabyte raw dump.
type WorkbookSink struct {
	path   string
	sheets map[string]*MemTable
}

// NewWorkbookSink returns a sink that will save to path on Close.
func NewWorkbookSink(path string) *WorkbookSink {
	return &WorkbookSink{path: path, sheets: make(map[string]*MemTable)}
}

func (s *WorkbookSink) Writer(entity string) (RowWriter, error) {
	cols, ok := sinkColumns[entity]
	if !ok {
		return nil, fmt.Errorf("unknown sink entity %q", entity)
	}
	if t, open := s.sheets[entity]; open {
		return t, nil
	}
	t := &MemTable{Columns: append([]string(nil), cols...)}
	s.sheets[entity] = t
	return t, nil
}

func (s *WorkbookSink) Reset() error {
	s.sheets = make(map[string]*MemTable)
	return nil
}

// Close materializes the workbook. Sheets are emitted in name order with the
// column header frozen on row one.
func (s *WorkbookSink) Close() error {
	book := excelize.NewFile()
	defer book.Close()

	names := make([]string, 0, len(s.sheets))
	for name := range s.sheets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := s.sheets[name]
		if _, err := book.NewSheet(name); err != nil {
			return err
		}
		if err := writeSheetRow(book, name, 1, t.Columns); err != nil {
			return err
		}
		for i, row := range t.Rows {
			if err := writeSheetRow(book, name, i+2, row); err != nil {
				return err
			}
		}
		if err := book.SetPanes(name, &excelize.Panes{
			Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
		}); err != nil {
			return err
		}
	}
	if len(names) > 0 {
		book.DeleteSheet("Sheet1")
	}
	return book.SaveAs(s.path)
}

func writeSheetRow(book *excelize.File, sheet string, rowNum int, row []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(row))
	for i, v := range row {
		vals[i] = v
	}
	return book.SetSheetRow(sheet, cell, &vals)
}
