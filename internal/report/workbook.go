package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/banshee-data/placesweep/internal/sweep"
)

const summarySheet = "Summary"

// maxSheetName is the Excel limit on sheet name length.
const maxSheetName = 31

// WriteWorkbook saves a workbook with a Summary sheet mirroring
// summary.csv and one sheet per circuit mirroring <circuit>.csv.
func WriteWorkbook(path string, res *sweep.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if err := writeSheet(f, summarySheet, res, res.Summary); err != nil {
		return err
	}

	used := map[string]bool{summarySheet: true, strings.ToLower(summarySheet): true}
	for _, circuit := range res.Circuits {
		name := sheetName(circuit, used)
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet for %s: %w", circuit, err)
		}
		if err := writeSheet(f, name, res, res.PerCircuit[circuit]); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, res *sweep.Result, rows []sweep.Row) error {
	header := append([]string{"run"}, res.ArgumentNames...)
	header = append(header, res.StatNames...)
	for col, h := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}

	for r, row := range rows {
		values := append([]string{row.Label}, row.Values...)
		values = append(values, row.Stats...)
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, r+2)
			if err := f.SetCellValue(sheet, cell, cellValue(v, col >= 1+len(res.ArgumentNames))); err != nil {
				return fmt.Errorf("sheet %s: %w", sheet, err)
			}
		}
	}
	return nil
}

// cellValue stores statistics as numbers where they parse; argument
// values stay text so that e.g. "1.0" keeps its spelling.
func cellValue(v string, stat bool) interface{} {
	if !stat {
		return v
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return v
}

// sheetName makes a valid, unused sheet name for a circuit.
func sheetName(circuit string, used map[string]bool) string {
	base := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, circuit)
	if base == "" {
		base = "circuit"
	}
	if len(base) > maxSheetName {
		base = base[:maxSheetName]
	}

	name := base
	for i := 2; used[strings.ToLower(name)] || used[name]; i++ {
		suffix := "~" + strconv.Itoa(i)
		trimmed := base
		if len(trimmed)+len(suffix) > maxSheetName {
			trimmed = trimmed[:maxSheetName-len(suffix)]
		}
		name = trimmed + suffix
	}
	used[name] = true
	used[strings.ToLower(name)] = true
	return name
}
