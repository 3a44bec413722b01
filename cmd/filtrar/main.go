// Command filtrar keeps the rows of an exported workbook that belong to
// the tracked organizations and drops repeated order codes. The result
// is saved next to the input with a Fil prefix.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-fetch-ordenes/config"
	"github.com/aluiziolira/go-fetch-ordenes/progress"
	"github.com/xuri/excelize/v2"
)

const (
	organismoColumn = "CodigoOrganismoPublico"
	codigoColumn    = "Codigo"
)

func main() {
	input := flag.String("input", "", "Workbook to filter (required)")
	sheet := flag.String("sheet", "", "Sheet to read (defaults to the first sheet)")
	organismos := flag.String("organismos", "", "Comma-separated organization codes (overrides the built-in list)")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "flag -input is required")
		flag.Usage()
		os.Exit(1)
	}

	allowed := config.DefaultOrganismos()
	if *organismos != "" {
		allowed = config.SplitOrganismos(*organismos)
	}

	// The output name is fixed: the input name with a Fil prefix.
	output := filepath.Join(filepath.Dir(*input), "Fil"+filepath.Base(*input))

	kept, dropped, err := filterWorkbook(*input, output, *sheet, allowed)
	if err != nil {
		slog.Error("filtering workbook", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("filtered workbook written",
		slog.String("output", output),
		slog.Int("kept", kept),
		slog.Int("dropped", dropped),
	)
}

// filterWorkbook copies the rows of sheet whose organization code is in
// allowed to outputPath, dropping repeated Codigo values and keeping the
// first occurrence. An empty sheet name selects the workbook's first
// sheet.
func filterWorkbook(inputPath, outputPath, sheet string, allowed []string) (kept, dropped int, err error) {
	f, err := excelize.OpenFile(inputPath)
	if err != nil {
		return 0, 0, fmt.Errorf("opening %s: %w", inputPath, err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, 0, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return 0, 0, fmt.Errorf("sheet %q is empty", sheet)
	}

	header := rows[0]
	orgIdx := indexOf(header, organismoColumn)
	if orgIdx < 0 {
		return 0, 0, fmt.Errorf("sheet %q has no %s column", sheet, organismoColumn)
	}
	codIdx := indexOf(header, codigoColumn)
	if codIdx < 0 {
		return 0, 0, fmt.Errorf("sheet %q has no %s column", sheet, codigoColumn)
	}

	allowedSet := make(map[string]struct{}, len(allowed))
	for _, code := range allowed {
		allowedSet[code] = struct{}{}
	}

	out := excelize.NewFile()
	defer out.Close()
	sw, err := out.NewStreamWriter("Sheet1")
	if err != nil {
		return 0, 0, fmt.Errorf("preparing output: %w", err)
	}
	if err := sw.SetRow("A1", toCells(header, len(header))); err != nil {
		return 0, 0, fmt.Errorf("writing header: %w", err)
	}

	reporter := progress.Auto("filtrando filas", 5000, int64(len(rows)-1))
	seen := make(map[string]struct{})
	outRow := 2
	for _, row := range rows[1:] {
		reporter.Add(1)
		if _, ok := allowedSet[cellAt(row, orgIdx)]; !ok {
			dropped++
			continue
		}
		codigo := cellAt(row, codIdx)
		if _, dup := seen[codigo]; dup {
			dropped++
			continue
		}
		seen[codigo] = struct{}{}

		cellRef, err := excelize.CoordinatesToCellName(1, outRow)
		if err != nil {
			return kept, dropped, fmt.Errorf("row %d: %w", outRow, err)
		}
		if err := sw.SetRow(cellRef, toCells(row, len(header))); err != nil {
			return kept, dropped, fmt.Errorf("row %d: %w", outRow, err)
		}
		outRow++
		kept++
	}
	reporter.Finish()

	if err := sw.Flush(); err != nil {
		return kept, dropped, fmt.Errorf("flushing output: %w", err)
	}
	if err := out.SaveAs(outputPath); err != nil {
		return kept, dropped, fmt.Errorf("saving %s: %w", outputPath, err)
	}
	return kept, dropped, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

// cellAt is safe on short rows: GetRows trims trailing empty cells.
func cellAt(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

// toCells pads a row to width so columns keep their positions in the
// output even when trailing cells were empty.
func toCells(row []string, width int) []interface{} {
	if width < len(row) {
		width = len(row)
	}
	cells := make([]interface{}, width)
	for i := range cells {
		cells[i] = cellAt(row, i)
	}
	return cells
}
