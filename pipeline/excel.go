package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/go-fetch-ordenes/models"
)

// ExportExcel re-reads a finished CSV and writes it as a spreadsheet
// in the canonical column order. Columns missing from the CSV come out
// empty and extra columns are dropped, so the sheet layout is stable
// regardless of the input.
func ExportExcel(csvPath, xlsxPath, sheet string) error {
	src, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer src.Close()

	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		header = nil
	} else if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}

	columns := models.Columns()
	position := make([]int, len(columns))
	for i, name := range columns {
		position[i] = -1
		for j, got := range header {
			if got == name {
				position[i] = j
				break
			}
		}
	}

	if err := ensureDir(xlsxPath); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}

	headerRow := make([]interface{}, len(columns))
	for i, name := range columns {
		headerRow[i] = name
	}
	if err := sw.SetRow("A1", headerRow); err != nil {
		return fmt.Errorf("write sheet header: %w", err)
	}

	rowNum := 2
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read csv record: %w", err)
		}

		out := make([]interface{}, len(columns))
		for i, pos := range position {
			if pos >= 0 && pos < len(record) {
				out[i] = record[pos]
			} else {
				out[i] = ""
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return fmt.Errorf("row coordinates: %w", err)
		}
		if err := sw.SetRow(cell, out); err != nil {
			return fmt.Errorf("write sheet row: %w", err)
		}
		rowNum++
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.SaveAs(xlsxPath); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}
